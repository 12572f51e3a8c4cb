// Package task defines the envelope and result types crossing the handler
// boundary, and the dispatcher that routes envelopes by task type.
package task

import (
	"time"

	"github.com/willemave/news-app-sub001/internal/store"
)

// Envelope is an immutable snapshot of a claimed task row. Handlers receive
// an envelope, never a live DB row, so nothing couples handler execution to
// the session that claimed the task.
type Envelope struct {
	ID         int64            `json:"id"`
	Type       store.TaskType   `json:"task_type"`
	ContentID  *int64           `json:"content_id,omitempty"`
	Payload    map[string]any   `json:"payload"`
	RetryCount int              `json:"retry_count"`
	Status     store.TaskStatus `json:"status"`
	Queue      store.QueueName  `json:"queue_name"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
}

// NewEnvelope snapshots a task row. A nil payload normalizes to an empty map
// so handlers never nil-check.
func NewEnvelope(t *store.Task) *Envelope {
	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	env := &Envelope{
		ID:         t.ID,
		Type:       t.Type,
		ContentID:  t.ContentID,
		Payload:    payload,
		RetryCount: t.RetryCount,
		Status:     t.Status,
		Queue:      t.Queue,
		CreatedAt:  t.CreatedAt,
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		env.StartedAt = &ts
	}
	return env
}

// StringArg returns a string payload field, or "" when absent or not a
// string.
func (e *Envelope) StringArg(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// BoolArg returns a bool payload field, false when absent.
func (e *Envelope) BoolArg(key string) bool {
	b, _ := e.Payload[key].(bool)
	return b
}

// StringsArg returns a []string payload field. JSON decoding yields []any,
// so both representations are accepted.
func (e *Envelope) StringsArg(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
