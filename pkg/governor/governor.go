// Package governor decides whether a PIN unlock attempt may proceed and how a
// failed or successful attempt changes the stored attempt counters.
//
// The governor is a pure function of (state, policy, now). It never touches
// storage; the vault loads the state, asks the governor, and persists the
// result. Lockout rejections do not consume an attempt.
package governor

import (
	"time"
)

// Attempt limits for PIN unlocks.
const (
	SoftLockThreshold = 3                // Failures before the lockout window applies
	MaxAttempts       = 7                // Failures that trigger a wipe
	LockoutDelay      = 30 * time.Second // Lockout window measured from the last failure
)

// Policy holds the thresholds the governor enforces.
type Policy struct {
	SoftLockThreshold int
	MaxAttempts       int
	LockoutDelay      time.Duration
}

// DefaultPolicy returns the standard 3 / 7 / 30s policy.
func DefaultPolicy() Policy {
	return Policy{
		SoftLockThreshold: SoftLockThreshold,
		MaxAttempts:       MaxAttempts,
		LockoutDelay:      LockoutDelay,
	}
}

// State is the persisted attempt bookkeeping.
type State struct {
	FailedAttempts int
	LastAttemptAt  *time.Time
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration // Lockout time left when Allowed is false
}

// Outcome is the result of RecordFailure.
type Outcome struct {
	State             State
	Wiped             bool
	RemainingAttempts int
}

// Check reports whether an attempt may proceed at now. Once the soft lock
// threshold is reached, attempts inside LockoutDelay of the last failure are
// refused.
func (p Policy) Check(s State, now time.Time) Decision {
	if s.FailedAttempts < p.SoftLockThreshold || s.LastAttemptAt == nil {
		return Decision{Allowed: true}
	}
	elapsed := now.Sub(*s.LastAttemptAt)
	if elapsed < 0 {
		// Clock moved backwards; hold the full window.
		elapsed = 0
	}
	if elapsed < p.LockoutDelay {
		return Decision{Remaining: p.LockoutDelay - elapsed}
	}
	return Decision{Allowed: true}
}

// RecordSuccess returns the zero state.
func (p Policy) RecordSuccess() State {
	return State{}
}

// RecordFailure increments the failure count and stamps now. Reaching
// MaxAttempts yields a wiped outcome.
func (p Policy) RecordFailure(s State, now time.Time) Outcome {
	stamp := now
	next := State{
		FailedAttempts: s.FailedAttempts + 1,
		LastAttemptAt:  &stamp,
	}
	if next.FailedAttempts >= p.MaxAttempts {
		return Outcome{State: next, Wiped: true}
	}
	return Outcome{
		State:             next,
		RemainingAttempts: p.MaxAttempts - next.FailedAttempts,
	}
}

// RemainingAttempts returns how many failures are left before a wipe.
func (p Policy) RemainingAttempts(s State) int {
	n := p.MaxAttempts - s.FailedAttempts
	if n < 0 {
		return 0
	}
	return n
}

// CeilSeconds rounds d up to whole seconds for display.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
