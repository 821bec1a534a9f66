package types

import (
	"time"
)

// Event is an immutable, timestamped, named record with a structured payload.
// Once appended to the log an event is never mutated; replays append copies
// with fresh sequence numbers instead.
type Event struct {
	// Name is a colon-separated "namespace:verb" identifier.
	Name string `json:"name"`

	// Data is the structured payload. Unknown fields from clients are
	// preserved as-is for forward compatibility.
	Data map[string]interface{} `json:"data,omitempty"`

	// Timestamp is when the event was appended.
	Timestamp time.Time `json:"timestamp"`

	// Origin identifies the producing client, handler, or component.
	Origin string `json:"origin,omitempty"`

	// Sequence is the log position: strictly increasing, gapless,
	// assigned at append time. Zero means "not yet appended".
	Sequence uint64 `json:"sequence"`
}

// Clone returns a copy of the event with a shallow copy of its payload map,
// so a published event cannot be mutated through a retained Data reference.
func (e *Event) Clone() *Event {
	clone := *e
	if e.Data != nil {
		clone.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}
	return &clone
}

// JobStatus represents the lifecycle state of a completion job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state. Terminal states are
// written exactly once and never regress.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CompletionJob tracks one asynchronous completion request from submission
// to terminal state.
type CompletionJob struct {
	RequestID   string                 `json:"request_id"`
	Status      JobStatus              `json:"status"`
	SubmittedAt time.Time              `json:"submitted_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// JobCounts aggregates outstanding and finished jobs by status.
type JobCounts struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Outstanding returns the number of jobs that have not reached a terminal state.
func (c JobCounts) Outstanding() int {
	return c.Queued + c.InProgress
}

// Subscription is a live pattern registration for push delivery.
type Subscription struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	Patterns     []string  `json:"patterns"`
	CreatedAt    time.Time `json:"created_at"`
}

// ObservationSubscription scopes a subscription to events originating from a
// single target, for observer→target relationships.
type ObservationSubscription struct {
	ID         string    `json:"id"`
	ObserverID string    `json:"observer_id"`
	TargetID   string    `json:"target_id"`
	Patterns   []string  `json:"patterns"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReplayStatus represents the state of a replay session
type ReplayStatus string

const (
	ReplayStatusRunning   ReplayStatus = "running"
	ReplayStatusCompleted ReplayStatus = "completed"
	ReplayStatusCancelled ReplayStatus = "cancelled"
)

// ReplaySession is a transient handle on one in-flight replay. It exists only
// for the duration of the replay.
type ReplaySession struct {
	ID                string        `json:"session_id"`
	Patterns          []string      `json:"patterns"`
	Speed             float64       `json:"speed"`
	AsNewEvents       bool          `json:"as_new_events"`
	Status            ReplayStatus  `json:"status"`
	EventCount        int           `json:"event_count"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	StartedAt         time.Time     `json:"started_at"`
}

// Well-known event names emitted by the daemon itself.
const (
	EventCompletionResult = "completion:result"
	EventReplayStarted    = "observation:replay_started"
	EventReplayFinished   = "observation:replay_finished"
)
