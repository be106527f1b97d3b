package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/forest6511/vaultsync/pkg/crypto"
	"github.com/forest6511/vaultsync/pkg/governor"
	"github.com/forest6511/vaultsync/pkg/security"
)

// Errors
var (
	ErrNoVault            = errors.New("vault: no vault has been created")
	ErrWiped              = errors.New("vault: too many failed attempts, vault wiped")
	ErrLockedOut          = errors.New("vault: locked out")
	ErrUnsupportedRuntime = errors.New("vault: unsupported runtime")
	ErrEmptySecret        = errors.New("vault: secret must not be empty")

	// ErrPINTooCommon is returned by Create and ChangePIN for easily guessed PINs.
	ErrPINTooCommon = security.ErrPINTooCommon
)

// LockedOutError is returned while the lockout window is active. The attempt
// was not counted.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("vault: locked out, try again in %d seconds", e.RemainingSeconds())
}

// RemainingSeconds returns the lockout time left, rounded up.
func (e *LockedOutError) RemainingSeconds() int {
	return governor.CeilSeconds(e.Remaining)
}

// Is matches ErrLockedOut.
func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}

// DecryptionFailedError is returned for a wrong PIN. A corrupted record
// produces the same error.
type DecryptionFailedError struct {
	RemainingAttempts int
}

func (e *DecryptionFailedError) Error() string {
	return fmt.Sprintf("vault: incorrect PIN, %d attempts remaining", e.RemainingAttempts)
}

// Is matches crypto.ErrDecryptionFailed.
func (e *DecryptionFailedError) Is(target error) bool {
	return target == crypto.ErrDecryptionFailed
}

// PersistenceError wraps a failure of the underlying store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("vault: failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UnsupportedRuntimeError is returned by Create when the capability probe
// refuses the runtime.
type UnsupportedRuntimeError struct {
	Reason string
}

func (e *UnsupportedRuntimeError) Error() string {
	return fmt.Sprintf("vault: unsupported runtime: %s", e.Reason)
}

// Is matches ErrUnsupportedRuntime.
func (e *UnsupportedRuntimeError) Is(target error) bool {
	return target == ErrUnsupportedRuntime
}
