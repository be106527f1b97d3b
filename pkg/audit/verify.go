package audit

import (
	"bytes"
	"crypto/hmac"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	FirstSequence   int64    `json:"first_sequence,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the chain. A trail whose head was removed
// by Prune verifies only if a later audit.prune event accounts for exactly
// the missing prefix.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hmacKeySet {
		return nil, ErrKeyNotSet
	}

	events, err := l.store.List(time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}

	result := &VerifyResult{Valid: true, RecordsTotal: len(events)}
	if len(events) == 0 {
		return result, nil
	}

	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	first := events[0]
	result.FirstSequence = first.Chain.Sequence
	expectedSeq := first.Chain.Sequence
	expectedPrev := first.Chain.PrevHash
	if first.Chain.Sequence == 1 {
		expectedPrev = genesis
	} else if !prunedThrough(events, first.Chain.Sequence-1) {
		fail("records before sequence %d are missing", first.Chain.Sequence)
	}

	for i := range events {
		event := &events[i]
		if event.Chain.Sequence != expectedSeq {
			fail("sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence)
		}
		if event.Chain.PrevHash != expectedPrev {
			fail("chain broken at record %s: expected prev %s, got %s",
				event.ID, expectedPrev, event.Chain.PrevHash)
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.sign(recordData(event)))) {
			fail("HMAC mismatch at record %s: possible tampering", event.ID)
		} else {
			result.RecordsVerified++
		}
		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}
	return result, nil
}

func prunedThrough(events []Event, seq int64) bool {
	want := strconv.FormatInt(seq, 10)
	for _, e := range events {
		if e.Operation == OpAuditPrune && e.Context["through_seq"] == want {
			return true
		}
	}
	return false
}

// ListEvents returns events after since (zero = no filter). A positive limit
// returns only the most recent events.
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	events, err := l.store.List(since, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	return events, nil
}

// pruneCandidates returns the leading run of events older than cutoff.
func (l *Logger) pruneCandidates(olderThan time.Duration) ([]Event, error) {
	cutoff := l.now().Add(-olderThan)
	events, err := l.store.List(time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}
	n := 0
	for _, e := range events {
		ts, err := e.Time()
		if err != nil || !ts.Before(cutoff) {
			break
		}
		n++
	}
	return events[:n], nil
}

// PrunePreview returns how many events Prune would delete.
func (l *Logger) PrunePreview(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, err := l.pruneCandidates(olderThan)
	return len(old), err
}

// Prune deletes the oldest events older than olderThan and records an
// audit.prune event so Verify can account for the removed prefix.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	old, err := l.pruneCandidates(olderThan)
	if err != nil || len(old) == 0 {
		l.mu.Unlock()
		return 0, err
	}
	through := old[len(old)-1].Chain.Sequence
	deleted, err := l.store.Prune(through)
	l.mu.Unlock()
	if err != nil {
		return deleted, fmt.Errorf("audit: failed to prune events: %w", err)
	}

	return deleted, l.LogSuccess(OpAuditPrune, "", map[string]string{
		"through_seq": strconv.FormatInt(through, 10),
		"deleted":     strconv.Itoa(deleted),
	})
}

// Export returns events in [since, until] as "json" or "csv". Zero times
// disable the bound.
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	events, err := l.store.List(time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}

	var filtered []Event
	for _, e := range events {
		ts, err := e.Time()
		if err != nil {
			continue
		}
		if !since.IsZero() && ts.Before(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		filtered = append(filtered, e)
	}

	switch format {
	case "json":
		return json.MarshalIndent(filtered, "", "  ")
	case "csv":
		return formatCSV(filtered)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func formatCSV(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"seq", "timestamp", "operation", "result", "source", "error_code"})
	for _, e := range events {
		code := ""
		if e.Error != nil {
			code = e.Error.Code
		}
		_ = w.Write([]string{
			strconv.FormatInt(e.Chain.Sequence, 10),
			csvSafe(e.Timestamp),
			csvSafe(e.Operation),
			csvSafe(e.Result),
			csvSafe(e.Actor.Source),
			csvSafe(code),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("audit: failed to write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// csvSafe neutralizes spreadsheet formula prefixes.
func csvSafe(field string) string {
	if field == "" {
		return field
	}
	switch field[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + field
	}
	return field
}
