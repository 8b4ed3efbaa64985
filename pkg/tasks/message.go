package tasks

import (
	"encoding/json"
	"time"
)

// Task states, named as Celery names them.
const (
	StatePending = "PENDING"
	StateStarted = "STARTED"
	StateRetry   = "RETRY"
	StateSuccess = "SUCCESS"
	StateFailure = "FAILURE"
	StateRevoked = "REVOKED"
)

// Message is a task invocation travelling through the broker.
type Message struct {
	ID        string          `json:"id"`
	Task      string          `json:"task"`
	Args      json.RawMessage `json:"args,omitempty"`
	Queue     string          `json:"queue"`
	ETA       *time.Time      `json:"eta,omitempty"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the message arguments into v.
func (m *Message) Decode(v any) error {
	if len(m.Args) == 0 {
		return nil
	}
	return json.Unmarshal(m.Args, v)
}

// Deferred reports whether the message must wait past now before it runs.
func (m *Message) Deferred(now time.Time) bool {
	return m.ETA != nil && m.ETA.After(now)
}

// Result is the stored outcome of a task.
type Result struct {
	ID        string          `json:"task_id"`
	Task      string          `json:"task"`
	Queue     string          `json:"queue"`
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retries   int             `json:"retries"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Ready reports whether the task has finished one way or another.
func (r *Result) Ready() bool {
	switch r.State {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	}
	return false
}
