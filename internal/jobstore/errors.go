package jobstore

import "errors"

var (
	// ErrNotFound is returned when a jobId or repeat id has no matching record.
	ErrNotFound = errors.New("jobstore: not found")
	// ErrNotActive is returned by operations that only apply to active jobs.
	ErrNotActive = errors.New("jobstore: job is not active")
	// ErrPaused is returned by Dequeue when the stream is paused and no job is handed out.
	ErrPaused = errors.New("jobstore: stream paused")
	// ErrEmpty is returned by Dequeue when no job is ready.
	ErrEmpty = errors.New("jobstore: no job ready")
	// ErrStoreUnavailable wraps transient store failures (circuit open, network error).
	ErrStoreUnavailable = errors.New("jobstore: store unavailable")
)
