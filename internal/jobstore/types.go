// Package jobstore implements the durable priority/delay job queue (the
// "Job Store" component): named streams, atomic bulk insert, cron repeat
// patterns, and per-job lifecycle state backed by Redis.
package jobstore

import "time"

// Priority tiers map directly to dispatch order: lower value dispatches first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// ParsePriority maps the external string form to a Priority tier, defaulting
// to normal for unrecognized input.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// State is a job's position in its lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Family names the two job kinds the Worker Pool dispatches on.
const (
	FamilyPlaceCall       = "place-call"
	FamilyRefillFromLeads = "refill-from-leads"
)

// Backoff describes the retry delay policy. Only exponential is implemented,
// matching the spec's `delay = base·2^(attempts-1)` formula.
type Backoff struct {
	Type    string
	BaseMs  int
}

// Retention holds completed/failed retention settings. No store operation
// reads it: Clean takes its grace period and limit as arguments, and the
// store runs no retention sweep on its own.
type Retention struct {
	CompletedAge   time.Duration
	CompletedCount int
	FailedAge      time.Duration
}

// EnqueueOptions carries the optional fields accepted by Enqueue.
type EnqueueOptions struct {
	Priority     Priority
	DelayMs      int64
	RepeatPattern string // cron expression; Enqueue does not read it (RegisterRepeat creates repeating jobs)
	JobID        string  // idempotent key; if set and already exists, returns the existing job
	MaxAttempts  int
	Backoff      Backoff
	Retention    Retention
	RepeatID     string // internal: links a dispatched repeat child back to its registration
}

// Job is a unit of work tracked by the Job Store.
type Job struct {
	ID            string
	Stream        string
	Family        string
	Payload       map[string]any
	Priority      Priority
	State         State
	ScheduledAt   time.Time // for delayed jobs; zero if not delayed
	RepeatPattern string
	RepeatID      string
	AttemptsMade  int
	MaxAttempts   int
	Backoff       Backoff
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   time.Time
	Progress      string
}

// RepeatRegistration describes an active recurring schedule (a scheduleRecurring
// or scheduleRefill registration in SC terms).
type RepeatRegistration struct {
	ID            string
	Stream        string
	Family        string
	Payload       map[string]any
	Priority      Priority
	CronExpr      string
	CurrentJobID  string // id of the pending (waiting/delayed) child job
	CreatedAt     time.Time
}

// ListRange bounds a List query; Offset/Limit follow typical pagination semantics.
type ListRange struct {
	Offset int
	Limit  int
}

// Stats counts jobs per state for a stream.
type Stats struct {
	Waiting   int64
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64
}
