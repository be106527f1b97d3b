package governor

import (
	"testing"
	"time"
)

func TestCheckBelowThreshold(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-time.Second)

	for failed := 0; failed < SoftLockThreshold; failed++ {
		d := p.Check(State{FailedAttempts: failed, LastAttemptAt: &last}, now)
		if !d.Allowed {
			t.Errorf("Check(failed=%d) Allowed = false, want true", failed)
		}
	}
}

func TestCheckLockoutWindow(t *testing.T) {
	p := DefaultPolicy()
	last := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := State{FailedAttempts: 3, LastAttemptAt: &last}

	tests := []struct {
		name        string
		offset      time.Duration
		wantAllowed bool
		wantSeconds int
	}{
		{"immediately", 0, false, 30},
		{"after 10s", 10 * time.Second, false, 20},
		{"after 29.2s", 29*time.Second + 200*time.Millisecond, false, 1},
		{"at 30s", 30 * time.Second, true, 0},
		{"after 31s", 31 * time.Second, true, 0},
		{"clock skew", -5 * time.Second, false, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Check(s, last.Add(tt.offset))
			if d.Allowed != tt.wantAllowed {
				t.Errorf("Check() Allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if got := CeilSeconds(d.Remaining); got != tt.wantSeconds {
				t.Errorf("CeilSeconds(Remaining) = %d, want %d", got, tt.wantSeconds)
			}
		})
	}
}

func TestRecordFailureSequence(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s := State{}

	for i := 1; i < MaxAttempts; i++ {
		out := p.RecordFailure(s, now)
		if out.Wiped {
			t.Fatalf("RecordFailure() #%d Wiped = true, want false", i)
		}
		if out.State.FailedAttempts != i {
			t.Errorf("FailedAttempts = %d, want %d", out.State.FailedAttempts, i)
		}
		if out.RemainingAttempts != MaxAttempts-i {
			t.Errorf("RemainingAttempts = %d, want %d", out.RemainingAttempts, MaxAttempts-i)
		}
		if out.State.LastAttemptAt == nil || !out.State.LastAttemptAt.Equal(now) {
			t.Errorf("LastAttemptAt = %v, want %v", out.State.LastAttemptAt, now)
		}
		s = out.State
		now = now.Add(LockoutDelay)
	}

	out := p.RecordFailure(s, now)
	if !out.Wiped {
		t.Errorf("RecordFailure() #%d Wiped = false, want true", MaxAttempts)
	}
	if out.RemainingAttempts != 0 {
		t.Errorf("RemainingAttempts = %d, want 0", out.RemainingAttempts)
	}
}

func TestRecordSuccessResets(t *testing.T) {
	p := DefaultPolicy()
	s := p.RecordSuccess()
	if s.FailedAttempts != 0 || s.LastAttemptAt != nil {
		t.Errorf("RecordSuccess() = %+v, want zero state", s)
	}
	if got := p.RemainingAttempts(s); got != MaxAttempts {
		t.Errorf("RemainingAttempts() = %d, want %d", got, MaxAttempts)
	}
}

func TestCeilSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Nanosecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{30 * time.Second, 30},
	}
	for _, tt := range tests {
		if got := CeilSeconds(tt.in); got != tt.want {
			t.Errorf("CeilSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
