package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/forest6511/vaultsync/pkg/netstate"
	"github.com/forest6511/vaultsync/pkg/security"
	"github.com/forest6511/vaultsync/pkg/store"
	"github.com/forest6511/vaultsync/pkg/vault"
)

// Success formats a success line.
func Success(format string, args ...any) string {
	return color.GreenString("✓") + " " + fmt.Sprintf(format, args...)
}

// Failure formats a failure line.
func Failure(format string, args ...any) string {
	return color.RedString("✗") + " " + fmt.Sprintf(format, args...)
}

// Warning formats a warning line.
func Warning(format string, args ...any) string {
	return color.YellowString("!") + " " + fmt.Sprintf(format, args...)
}

// Hint formats a follow-up suggestion. Commands are highlighted.
func Hint(text, command string) string {
	if command == "" {
		return color.CyanString("→") + " " + text
	}
	return color.CyanString("→") + " " + text + " " + color.YellowString(command)
}

// NewSpinner returns a stopped spinner writing to w.
func NewSpinner(w io.Writer, suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	return s
}

// ErrorMessage maps a domain error to the text shown to the user. The
// second return value is a follow-up hint, possibly empty.
func ErrorMessage(err error) (string, string) {
	var locked *vault.LockedOutError
	var failed *vault.DecryptionFailedError
	var unsupported *vault.UnsupportedRuntimeError
	var rejected *netstate.RejectionError

	switch {
	case errors.As(err, &locked):
		return Failure("Too many attempts. Try again in %d seconds.", locked.RemainingSeconds()), ""
	case errors.Is(err, vault.ErrWiped):
		return Failure("Too many failed attempts. Stored security data was reset."),
			Hint("Set up a new PIN with", "vaultsync init")
	case errors.As(err, &failed):
		return Failure("Incorrect PIN. %d %s remaining before lockout.",
			failed.RemainingAttempts, plural(failed.RemainingAttempts, "attempt", "attempts")), ""
	case errors.Is(err, vault.ErrNoVault):
		return Failure("No PIN has been set up on this device."),
			Hint("Create one with", "vaultsync init")
	case errors.As(err, &unsupported):
		return Failure("This device cannot store secrets securely: %s.", unsupported.Reason), ""
	case errors.Is(err, security.ErrPINTooCommon):
		return Failure("That PIN is too easy to guess. Choose a less predictable one."), ""
	case errors.Is(err, security.ErrPINTooShort), errors.Is(err, security.ErrPINTooLong):
		return Failure("PIN must be %d to %d digits.", security.MinPINLength, security.MaxPINLength), ""
	case errors.Is(err, security.ErrPINNotNumeric):
		return Failure("PIN must contain digits only."), ""
	case errors.Is(err, vault.ErrEmptySecret):
		return Failure("The secret must not be empty."), ""
	case errors.Is(err, store.ErrDiskFull):
		return Failure("Not enough free disk space to save data."), ""
	case errors.As(err, &rejected):
		return Failure("The server rejected the request: %s.", rejected.Status), ""
	case netstate.IsConnectivityError(err):
		return Failure("The server could not be reached."),
			Hint("Check your connection and retry, or see", "vaultsync queue list")
	default:
		return Failure("%v", err), ""
	}
}

// QueuedMessage is shown when a request was saved for later delivery.
func QueuedMessage(requestID string) string {
	return Warning("You're offline. The request was saved and will sync when you reconnect (%s).", requestID)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
