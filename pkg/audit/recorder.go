package audit

import (
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/forest6511/vaultsync/pkg/netstate"
	"github.com/forest6511/vaultsync/pkg/queue"
)

// QueueRecorder writes offline queue lifecycle events to the trail.
type QueueRecorder struct {
	l *Logger
}

// QueueRecorder returns a queue.Recorder backed by l.
func (l *Logger) QueueRecorder() *QueueRecorder {
	return &QueueRecorder{l: l}
}

var _ queue.Recorder = (*QueueRecorder)(nil)

func mutationFields(m *queue.Mutation) map[string]string {
	fields := map[string]string{
		"mutation_id": strconv.FormatInt(m.ID, 10),
		"request_id":  m.RequestID,
		"method":      m.Method,
	}
	if m.Attempts > 0 {
		fields["attempts"] = strconv.Itoa(m.Attempts)
	}
	return fields
}

// subject strips the query string so it never reaches the trail.
func subject(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

func (r *QueueRecorder) record(op, result string, m *queue.Mutation, errInfo *ErrorInfo, fields map[string]string) {
	if err := r.l.Log(op, result, subject(m.URL), errInfo, fields); err != nil {
		r.l.logger.Warn("audit event dropped", zap.String("op", op), zap.Error(err))
	}
}

// Enqueued implements queue.Recorder.
func (r *QueueRecorder) Enqueued(m *queue.Mutation) {
	r.record(OpQueueEnqueue, ResultSuccess, m, nil, mutationFields(m))
}

// Delivered implements queue.Recorder.
func (r *QueueRecorder) Delivered(m *queue.Mutation) {
	r.record(OpQueueDeliver, ResultSuccess, m, nil, mutationFields(m))
}

// Rejected implements queue.Recorder.
func (r *QueueRecorder) Rejected(m *queue.Mutation, rej *netstate.RejectionError) {
	fields := mutationFields(m)
	fields["status"] = strconv.Itoa(rej.StatusCode)
	r.record(OpQueueReject, ResultDenied, m, &ErrorInfo{Code: "REJECTED", Message: rej.Status}, fields)
}

// Expired implements queue.Recorder.
func (r *QueueRecorder) Expired(m *queue.Mutation) {
	r.record(OpQueueExpire, ResultError, m, &ErrorInfo{Code: "EXPIRED", Message: "retention window elapsed"}, mutationFields(m))
}
