// Package vault keeps one secret encrypted under a key derived from a short
// numeric PIN, and limits how many wrong PINs may be tried.
//
// The vault persists a single JSON record in a key-value Store. Unlock
// attempts go through the governor: after three failures further attempts
// wait out a 30 second window (without being counted), and the seventh
// failure deletes the record.
//
// # Example Usage
//
//	v := vault.New(db.KV(), vault.WithAudit(auditLogger))
//	if err := v.Create(secret, "4829"); err != nil {
//		return err
//	}
//	secret, err := v.Unlock("4829")
package vault

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/pkg/audit"
	"github.com/forest6511/vaultsync/pkg/crypto"
	"github.com/forest6511/vaultsync/pkg/governor"
	"github.com/forest6511/vaultsync/pkg/security"
)

// RecordKey is the Store key holding the vault record.
const RecordKey = "vault/record"

// Store is the key-value persistence the vault writes its record to.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(key string) error
}

// record is the persisted vault. EncryptedSecret and Salt are always written
// together.
type record struct {
	EncryptedSecret []byte     `json:"encrypted_secret"`
	Salt            []byte     `json:"salt"`
	KDFIterations   int        `json:"kdf_iterations"`
	FailedAttempts  int        `json:"failed_attempts"`
	LastAttemptAt   *time.Time `json:"last_attempt_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (r *record) state() governor.State {
	return governor.State{FailedAttempts: r.FailedAttempts, LastAttemptAt: r.LastAttemptAt}
}

func (r *record) setState(s governor.State) {
	r.FailedAttempts = s.FailedAttempts
	r.LastAttemptAt = s.LastAttemptAt
}

// Status describes the vault without unlocking it.
type Status struct {
	Exists            bool          `json:"exists"`
	FailedAttempts    int           `json:"failed_attempts"`
	RemainingAttempts int           `json:"remaining_attempts"`
	LockedOut         bool          `json:"locked_out"`
	LockoutRemaining  time.Duration `json:"lockout_remaining"`
	CreatedAt         time.Time     `json:"created_at,omitempty"`
	KDFIterations     int           `json:"kdf_iterations,omitempty"`
}

// Vault is the PIN-protected secret store.
type Vault struct {
	mu         sync.Mutex
	store      Store
	policy     governor.Policy
	probe      security.CapabilityProbe
	audit      *audit.Logger
	logger     *zap.Logger
	now        func() time.Time
	iterations int
}

// Option configures a Vault.
type Option func(*Vault)

// WithPolicy overrides the attempt policy.
func WithPolicy(p governor.Policy) Option {
	return func(v *Vault) { v.policy = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithProbe sets the runtime capability probe consulted by Create.
func WithProbe(p security.CapabilityProbe) Option {
	return func(v *Vault) { v.probe = p }
}

// WithAudit records every vault transition in the audit trail.
func WithAudit(l *audit.Logger) Option {
	return func(v *Vault) { v.audit = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithIterations sets the KDF work factor for newly created records.
// Existing records keep the factor they were written with.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

// New creates a Vault over store.
func New(store Store, opts ...Option) *Vault {
	v := &Vault{
		store:      store,
		policy:     governor.DefaultPolicy(),
		probe:      security.RuntimeProbe{},
		logger:     zap.NewNop(),
		now:        time.Now,
		iterations: crypto.DefaultIterations,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Create encrypts secret under pin and persists a fresh record with zeroed
// attempt counters, replacing any existing vault.
func (v *Vault) Create(secret, pin string) error {
	if c := v.probe.Probe(); !c.Supported {
		v.logger.Warn("vault creation refused", zap.String("reason", c.Reason))
		return &UnsupportedRuntimeError{Reason: c.Reason}
	}
	if secret == "" {
		return ErrEmptySecret
	}
	if err := security.ValidatePIN(pin); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	_, existed, err := v.load()
	if err != nil {
		return err
	}
	rec, err := v.seal(secret, pin)
	if err != nil {
		return err
	}
	rec.CreatedAt = v.now().UTC()
	if err := v.save(rec); err != nil {
		return err
	}

	v.logger.Info("vault created",
		zap.Bool("replaced", existed), zap.Int("kdf_iterations", rec.KDFIterations))
	v.auditSuccess(audit.OpVaultCreate, map[string]string{
		"kdf_iterations": strconv.Itoa(rec.KDFIterations),
		"replaced":       strconv.FormatBool(existed),
	})
	return nil
}

// Unlock returns the secret if pin is correct. See the package documentation
// for the attempt policy.
func (v *Vault) Unlock(pin string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, plaintext, err := v.unlock(pin)
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(plaintext)

	v.auditSuccess(audit.OpVaultUnlock, nil)
	return string(plaintext), nil
}

// unlock runs one governed attempt and returns the record and plaintext on
// success. It must be called with v.mu held.
func (v *Vault) unlock(pin string) (*record, []byte, error) {
	rec, ok, err := v.load()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNoVault
	}

	now := v.now()
	if d := v.policy.Check(rec.state(), now); !d.Allowed {
		lockErr := &LockedOutError{Remaining: d.Remaining}
		v.logger.Info("unlock refused during lockout",
			zap.Int("failed_attempts", rec.FailedAttempts),
			zap.Int("remaining_seconds", lockErr.RemainingSeconds()))
		v.auditDenied(audit.OpVaultLockedOut, "lockout active", map[string]string{
			"remaining_seconds": strconv.Itoa(lockErr.RemainingSeconds()),
		})
		return nil, nil, lockErr
	}

	if plaintext, err := v.openRecord(rec, pin); err == nil {
		if rec.FailedAttempts > 0 || rec.LastAttemptAt != nil {
			rec.setState(v.policy.RecordSuccess())
			if err := v.save(rec); err != nil {
				// The secret was recovered; stale counters only make the
				// next lockout stricter.
				v.logger.Warn("failed to reset attempt counters", zap.Error(err))
			}
		}
		return rec, plaintext, nil
	}

	outcome := v.policy.RecordFailure(rec.state(), now)
	if outcome.Wiped {
		if err := v.destroy(outcome.State); err != nil {
			return nil, nil, err
		}
		v.logger.Warn("maximum PIN attempts reached, vault wiped",
			zap.Int("failed_attempts", outcome.State.FailedAttempts))
		v.auditError(audit.OpVaultWipe, "MAX_ATTEMPTS", "maximum PIN attempts reached", nil)
		return nil, nil, ErrWiped
	}

	rec.setState(outcome.State)
	if err := v.save(rec); err != nil {
		return nil, nil, err
	}
	v.logger.Info("incorrect PIN",
		zap.Int("failed_attempts", outcome.State.FailedAttempts),
		zap.Int("remaining_attempts", outcome.RemainingAttempts))
	v.auditError(audit.OpVaultUnlockFailed, "DECRYPT_FAILED", "incorrect PIN", map[string]string{
		"remaining_attempts": strconv.Itoa(outcome.RemainingAttempts),
	})
	return nil, nil, &DecryptionFailedError{RemainingAttempts: outcome.RemainingAttempts}
}

// ChangePIN re-encrypts the secret under newPIN with a fresh salt. The old
// PIN is checked through the same attempt policy as Unlock.
func (v *Vault) ChangePIN(oldPIN, newPIN string) error {
	if err := security.ValidatePIN(newPIN); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rec, plaintext, err := v.unlock(oldPIN)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(plaintext)

	next, err := v.seal(string(plaintext), newPIN)
	if err != nil {
		return err
	}
	next.CreatedAt = rec.CreatedAt
	if err := v.save(next); err != nil {
		return err
	}

	v.logger.Info("vault PIN changed")
	v.auditSuccess(audit.OpVaultPINChange, nil)
	return nil
}

// destroy removes the record after the final failed attempt. A tombstone
// without ciphertext is written first, so the secret is unrecoverable even
// when the delete fails.
func (v *Vault) destroy(s governor.State) error {
	tomb := &record{}
	tomb.setState(s)
	putErr := v.save(tomb)
	if err := v.store.Delete(RecordKey); err != nil {
		if putErr != nil {
			return &PersistenceError{Op: "wipe vault", Err: err}
		}
		v.logger.Warn("failed to delete vault record, tombstone left in place", zap.Error(err))
	}
	return nil
}

// Wipe deletes the vault unconditionally.
func (v *Vault) Wipe() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.Delete(RecordKey); err != nil {
		return &PersistenceError{Op: "wipe vault", Err: err}
	}
	v.logger.Info("vault wiped on request")
	v.auditSuccess(audit.OpVaultWipe, map[string]string{"reason": "reset"})
	return nil
}

// Exists reports whether a complete vault record is stored.
func (v *Vault) Exists() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok, err := v.load()
	return err == nil && ok
}

// Status reports attempt counters and lockout state without unlocking.
func (v *Vault) Status() (*Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok, err := v.load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Status{RemainingAttempts: v.policy.MaxAttempts}, nil
	}
	d := v.policy.Check(rec.state(), v.now())
	return &Status{
		Exists:            true,
		FailedAttempts:    rec.FailedAttempts,
		RemainingAttempts: v.policy.RemainingAttempts(rec.state()),
		LockedOut:         !d.Allowed,
		LockoutRemaining:  d.Remaining,
		CreatedAt:         rec.CreatedAt,
		KDFIterations:     rec.KDFIterations,
	}, nil
}

// load reads the record. A missing, partial or undecodable record is
// reported as absent.
func (v *Vault) load() (*record, bool, error) {
	data, ok, err := v.store.Get(RecordKey)
	if err != nil {
		return nil, false, &PersistenceError{Op: "read vault record", Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		v.logger.Warn("ignoring undecodable vault record", zap.Error(err))
		return nil, false, nil
	}
	if len(rec.EncryptedSecret) == 0 || len(rec.Salt) == 0 {
		v.logger.Warn("ignoring incomplete vault record")
		return nil, false, nil
	}
	if rec.KDFIterations == 0 {
		rec.KDFIterations = crypto.DefaultIterations
	}
	return &rec, true, nil
}

func (v *Vault) save(rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{Op: "encode vault record", Err: err}
	}
	if err := v.store.Put(RecordKey, data); err != nil {
		return &PersistenceError{Op: "write vault record", Err: err}
	}
	return nil
}

// seal derives a key from pin under a fresh salt and encrypts secret.
func (v *Vault) seal(secret, pin string) (*record, error) {
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKeyWithIterations([]byte(security.NormalizePIN(pin)), salt, v.iterations)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	blob, err := crypto.Seal(key, []byte(secret))
	if err != nil {
		return nil, err
	}
	return &record{
		EncryptedSecret: blob,
		Salt:            salt,
		KDFIterations:   v.iterations,
	}, nil
}

// openRecord decrypts the record's secret. Every failure is
// crypto.ErrDecryptionFailed.
func (v *Vault) openRecord(rec *record, pin string) ([]byte, error) {
	key, err := crypto.DeriveKeyWithIterations([]byte(security.NormalizePIN(pin)), rec.Salt, rec.KDFIterations)
	if err != nil {
		return nil, crypto.ErrDecryptionFailed
	}
	defer crypto.SecureWipe(key)
	return crypto.Open(key, rec.EncryptedSecret)
}

func (v *Vault) auditSuccess(op string, fields map[string]string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogSuccess(op, "", fields); err != nil {
		v.logger.Warn("audit event dropped", zap.String("op", op), zap.Error(err))
	}
}

func (v *Vault) auditError(op, code, msg string, fields map[string]string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogError(op, "", code, msg, fields); err != nil {
		v.logger.Warn("audit event dropped", zap.String("op", op), zap.Error(err))
	}
}

func (v *Vault) auditDenied(op, reason string, fields map[string]string) {
	if v.audit == nil {
		return
	}
	if err := v.audit.LogDenied(op, "", reason, fields); err != nil {
		v.logger.Warn("audit event dropped", zap.String("op", op), zap.Error(err))
	}
}
