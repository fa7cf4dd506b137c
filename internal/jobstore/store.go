package jobstore

import "context"

// Store is the public contract of the Job Store (§4.1). Concrete backends
// (Redis, or a fake for tests) implement the full interface so the Worker
// Pool and Scheduler Control Plane never depend on storage details.
type Store interface {
	// Enqueue adds a single job to stream and returns its id. A non-empty
	// opts.JobID makes the call idempotent: re-enqueuing the same JobID
	// returns the existing job rather than creating a duplicate.
	Enqueue(ctx context.Context, stream, family string, payload map[string]any, opts EnqueueOptions) (string, error)

	// BulkEnqueue inserts all jobs atomically: either every job becomes
	// visible or none do.
	BulkEnqueue(ctx context.Context, stream string, jobs []BulkJob) ([]string, error)

	// Dequeue leases the next ready job in priority/delay/FIFO order for
	// the store's lease duration. Returns ErrEmpty if nothing is ready, ErrPaused if dispatch
	// is paused. Also performs delayed→waiting and expired-lease sweeps.
	Dequeue(ctx context.Context, stream string) (*Job, error)

	// Ack marks a leased job completed.
	Ack(ctx context.Context, jobID string) error

	// Nack marks a leased job failed. If attemptsMade < maxAttempts the job
	// is rescheduled delayed with exponential backoff and returned to
	// waiting once the delay elapses; otherwise it moves to failed.
	Nack(ctx context.Context, jobID string, cause string) error

	Get(ctx context.Context, jobID string) (*Job, error)
	Cancel(ctx context.Context, jobID string) error
	// IsCanceled reports whether a cooperative cancellation flag is set for an
	// active job. Task loops poll this between external I/O calls.
	IsCanceled(ctx context.Context, jobID string) bool
	Retry(ctx context.Context, jobID string) error
	List(ctx context.Context, stream string, state State, r ListRange) ([]*Job, error)
	StreamStats(ctx context.Context, stream string) (Stats, error)
	Clean(ctx context.Context, stream string, state State, graceMs int64, limit int) (int, error)
	Pause(ctx context.Context, stream string) error
	Resume(ctx context.Context, stream string) error
	IsPaused(ctx context.Context, stream string) (bool, error)

	// RegisterRepeat creates a recurring schedule and enqueues its first
	// child job as delayed. CurrentJobID in the returned registration names
	// that pending job.
	RegisterRepeat(ctx context.Context, stream, family string, payload map[string]any, priority Priority, cronExpr string) (*RepeatRegistration, error)
	ListRepeats(ctx context.Context, stream string) ([]*RepeatRegistration, error)
	StopRepeat(ctx context.Context, repeatID string) error

	Close() error
}

// BulkJob is one entry of a bulkEnqueue call.
type BulkJob struct {
	Family  string
	Payload map[string]any
	Opts    EnqueueOptions
}
