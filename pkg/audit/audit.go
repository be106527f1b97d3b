// Package audit provides an append-only audit trail with an HMAC chain for
// tamper detection.
//
// Every event carries a sequence number, the previous event's HMAC and its
// own HMAC over all significant fields. Events are persisted through a Store
// (the SQLite store in production). The HMAC key is derived with HKDF from a
// random per-device key, so the chain can be verified without the PIN.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/pkg/crypto"
)

// Operation types for audit logging
const (
	// Vault operations
	OpVaultCreate       = "vault.create"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLockedOut    = "vault.locked_out"
	OpVaultWipe         = "vault.wipe"
	OpVaultPINChange    = "vault.pin_change"

	// Offline queue operations
	OpQueueEnqueue = "queue.enqueue"
	OpQueueDeliver = "queue.deliver"
	OpQueueReject  = "queue.reject"
	OpQueueExpire  = "queue.expire"

	// Trail maintenance
	OpAuditPrune = "audit.prune"
)

// Source identifies where the operation originated
const (
	SourceCLI     = "cli"
	SourceMCP     = "mcp"
	SourceWatcher = "watcher"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	schemaVersion = 1
	genesis       = "genesis"
	hmacInfo      = "audit-log-v1"

	// DeviceKeyName is the KV key holding the random device key.
	DeviceKeyName = "audit/device-key"
	deviceKeySize = 32
)

// Errors
var (
	ErrNoEvents      = errors.New("audit: no events")
	ErrKeyNotSet     = errors.New("audit: HMAC key not set")
	ErrUnknownFormat = errors.New("audit: unsupported export format")
)

// Event is a single audit record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339, nanosecond precision

	Operation string `json:"op"`
	// Subject is an HMAC of the object acted upon (a request URL) so the
	// trail never stores it in the clear.
	Subject string `json:"subject,omitempty"`

	Actor   Actor             `json:"actor"`
	Result  string            `json:"result"`
	Error   *ErrorInfo        `json:"error,omitempty"`
	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Time parses the event timestamp.
func (e *Event) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// Actor represents who performed the operation
type Actor struct {
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links an event to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Store persists audit events in sequence order.
type Store interface {
	Append(e *Event) error
	// Last returns the highest-sequence event, or ErrNoEvents.
	Last() (*Event, error)
	// List returns events with a timestamp after since (zero for all) in
	// ascending order. A positive limit keeps only the most recent events.
	List(since time.Time, limit int) ([]Event, error)
	// Prune deletes events with sequence <= through.
	Prune(through int64) (int, error)
}

// KV is the key-value store holding the device key.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

// DeviceKey returns the per-device audit key, generating and storing it on
// first use.
func DeviceKey(kv KV) ([]byte, error) {
	key, ok, err := kv.Get(DeviceKeyName)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read device key: %w", err)
	}
	if ok && len(key) == deviceKeySize {
		return key, nil
	}
	key = make([]byte, deviceKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("audit: failed to generate device key: %w", err)
	}
	if err := kv.Put(DeviceKeyName, key); err != nil {
		return nil, fmt.Errorf("audit: failed to store device key: %w", err)
	}
	return key, nil
}

// Logger appends chained events to a Store.
type Logger struct {
	store     Store
	source    string
	now       func() time.Time
	logger    *zap.Logger
	sessionID string

	mu         sync.Mutex
	hmacKey    []byte
	hmacKeySet bool
	sequence   int64
	prevHash   string
}

// Option configures a Logger.
type Option func(*Logger)

// WithSource sets the actor source recorded on every event.
func WithSource(source string) Option {
	return func(l *Logger) { l.source = source }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithLogger sets the zap logger used for write failures.
func WithLogger(z *zap.Logger) Option {
	return func(l *Logger) { l.logger = z }
}

// NewLogger creates a Logger. Call SetHMACKey before logging.
func NewLogger(store Store, opts ...Option) *Logger {
	l := &Logger{
		store:     store,
		source:    SourceCLI,
		now:       time.Now,
		logger:    zap.NewNop(),
		sessionID: uuid.NewString(),
		prevHash:  genesis,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetHMACKey derives the chain key from master and resumes the chain from
// the last stored event.
func (l *Logger) SetHMACKey(master []byte) error {
	key, err := crypto.DeriveSubkey(master, hmacInfo)
	if err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	last, err := l.store.Last()
	switch {
	case errors.Is(err, ErrNoEvents):
		l.sequence, l.prevHash = 0, genesis
	case err != nil:
		return fmt.Errorf("audit: failed to load chain state: %w", err)
	default:
		l.sequence, l.prevHash = last.Chain.Sequence, last.Chain.HMAC
	}
	l.hmacKey = key
	l.hmacKeySet = true
	return nil
}

// Log records an audit event. subject, when set, is stored as an HMAC.
func (l *Logger) Log(op, result, subject string, errInfo *ErrorInfo, fields map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return ErrKeyNotSet
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: failed to generate event ID: %w", err)
	}
	event := Event{
		Version:   schemaVersion,
		ID:        id.String(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Actor:     Actor{Source: l.source, SessionID: l.sessionID},
		Result:    result,
		Error:     errInfo,
		Context:   fields,
	}
	if subject != "" {
		event.Subject = l.sign([]byte(subject))
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.sign(recordData(&event))

	if err := l.store.Append(&event); err != nil {
		l.logger.Warn("failed to write audit event", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC
	return nil
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, subject string, fields map[string]string) error {
	return l.Log(op, ResultSuccess, subject, nil, fields)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, subject, code, msg string, fields map[string]string) error {
	return l.Log(op, ResultError, subject, &ErrorInfo{Code: code, Message: msg}, fields)
}

// LogDenied is a convenience method for denied operations
func (l *Logger) LogDenied(op, subject, reason string, fields map[string]string) error {
	merged := map[string]string{"reason": reason}
	maps.Copy(merged, fields)
	return l.Log(op, ResultDenied, subject, nil, merged)
}

func (l *Logger) sign(data []byte) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// recordData serializes every significant field for the chain HMAC.
func recordData(e *Event) []byte {
	var b strings.Builder
	write := func(s string) {
		b.WriteString(strconv.Quote(s))
		b.WriteByte('|')
	}
	write(strconv.Itoa(e.Version))
	write(e.ID)
	write(e.Timestamp)
	write(e.Operation)
	write(e.Subject)
	write(e.Actor.Source)
	write(e.Actor.SessionID)
	write(e.Result)
	if e.Error != nil {
		write(e.Error.Code)
		write(e.Error.Message)
	} else {
		write("")
		write("")
	}
	for _, k := range slices.Sorted(maps.Keys(e.Context)) {
		write(k + "=" + e.Context[k])
	}
	write(strconv.FormatInt(e.Chain.Sequence, 10))
	write(e.Chain.PrevHash)
	return []byte(b.String())
}
