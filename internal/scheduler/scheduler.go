// Package scheduler implements the Scheduler Control Plane (SC): a thin,
// validated, transport-agnostic facade over the Job Store (§4.6). It owns no
// state of its own.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/voxreach/call-engine/internal/jobstore"
)

const defaultStream = "calls"

// Scheduler validates SC operations and forwards them to a Job Store.
type Scheduler struct {
	store  jobstore.Store
	stream string
}

func New(store jobstore.Store) *Scheduler {
	return &Scheduler{store: store, stream: defaultStream}
}

// PlaceCallInput is the shared payload shape of scheduleImmediate/Delayed.
type PlaceCallInput struct {
	To       string
	Message  string
	LeadID   string
	Priority string
	Metadata map[string]any
}

func (in PlaceCallInput) validate() error {
	if in.To == "" {
		return fmt.Errorf("scheduler: to is required")
	}
	return nil
}

func (in PlaceCallInput) payload() map[string]any {
	p := map[string]any{
		"to":       in.To,
		"message":  in.Message,
		"priority": in.Priority,
	}
	if in.LeadID != "" {
		p["leadId"] = in.LeadID
	}
	if in.Metadata != nil {
		p["metadata"] = in.Metadata
	}
	return p
}

// ScheduleImmediate enqueues a place-call job at the priority tier with no
// delay.
func (s *Scheduler) ScheduleImmediate(ctx context.Context, in PlaceCallInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	return s.store.Enqueue(ctx, s.stream, jobstore.FamilyPlaceCall, in.payload(), jobstore.EnqueueOptions{
		Priority: jobstore.ParsePriority(in.Priority),
	})
}

// ScheduleDelayed enqueues a place-call job at a delay computed as
// max(0, target-now). Callers may pass either a ScheduleAt time or a DelayMs
// directly; ScheduleAt wins when both are given.
func (s *Scheduler) ScheduleDelayed(ctx context.Context, in PlaceCallInput, scheduleAt time.Time, delayMs int64) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}
	if !scheduleAt.IsZero() {
		d := time.Until(scheduleAt).Milliseconds()
		if d < 0 {
			d = 0
		}
		delayMs = d
	} else if delayMs < 0 {
		delayMs = 0
	}
	return s.store.Enqueue(ctx, s.stream, jobstore.FamilyPlaceCall, in.payload(), jobstore.EnqueueOptions{
		Priority: jobstore.ParsePriority(in.Priority),
		DelayMs:  delayMs,
	})
}

// ScheduleRecurring registers a repeat pattern on the place-call family.
func (s *Scheduler) ScheduleRecurring(ctx context.Context, in PlaceCallInput, cronExpr string) (*jobstore.RepeatRegistration, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := jobstore.ParseCron(cronExpr); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}
	return s.store.RegisterRepeat(ctx, s.stream, jobstore.FamilyPlaceCall, in.payload(), jobstore.ParsePriority(in.Priority), cronExpr)
}

// ScheduleBulk enqueues N place-call jobs atomically: either all N become
// visible or none do.
func (s *Scheduler) ScheduleBulk(ctx context.Context, inputs []PlaceCallInput) ([]string, error) {
	jobs := make([]jobstore.BulkJob, 0, len(inputs))
	for i, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, fmt.Errorf("scheduler: bulk item %d: %w", i, err)
		}
		jobs = append(jobs, jobstore.BulkJob{
			Family:  jobstore.FamilyPlaceCall,
			Payload: in.payload(),
			Opts:    jobstore.EnqueueOptions{Priority: jobstore.ParsePriority(in.Priority)},
		})
	}
	return s.store.BulkEnqueue(ctx, s.stream, jobs)
}

// RefillInput is the shared shape of scheduleRefill/runRefillNow.
type RefillInput struct {
	Message   string
	Priority  string
	LeadLimit int
}

func (in RefillInput) payload() map[string]any {
	return map[string]any{
		"message":   in.Message,
		"priority":  in.Priority,
		"leadLimit": in.leadLimitBounded(),
	}
}

// leadLimitBounded clamps leadLimit to a sane upper bound; negative values
// become zero and zero passes through (a valid "refill nothing" request).
func (in RefillInput) leadLimitBounded() int {
	const maxLeadLimit = 1000
	if in.LeadLimit > maxLeadLimit {
		return maxLeadLimit
	}
	if in.LeadLimit < 0 {
		return 0
	}
	return in.LeadLimit
}

// ScheduleRefill registers a repeating refill-from-leads job.
func (s *Scheduler) ScheduleRefill(ctx context.Context, in RefillInput, cronExpr string) (*jobstore.RepeatRegistration, error) {
	if _, err := jobstore.ParseCron(cronExpr); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}
	return s.store.RegisterRepeat(ctx, s.stream, jobstore.FamilyRefillFromLeads, in.payload(), jobstore.ParsePriority(in.Priority), cronExpr)
}

// ListSchedules lists registered repeat patterns (recurring place-calls and
// refills alike).
func (s *Scheduler) ListSchedules(ctx context.Context) ([]*jobstore.RepeatRegistration, error) {
	return s.store.ListRepeats(ctx, s.stream)
}

// StopSchedule removes a repeat pattern.
func (s *Scheduler) StopSchedule(ctx context.Context, repeatID string) error {
	return s.store.StopRepeat(ctx, repeatID)
}

// RunRefillNow enqueues a one-shot refill-from-leads job and reports it was
// scheduled; the actual lead count only becomes known once the Worker Pool
// executes it (the return value here is the job id, not a count).
func (s *Scheduler) RunRefillNow(ctx context.Context, in RefillInput) (string, error) {
	return s.store.Enqueue(ctx, s.stream, jobstore.FamilyRefillFromLeads, in.payload(), jobstore.EnqueueOptions{
		Priority: jobstore.ParsePriority(in.Priority),
	})
}

// GetJob is a thin pass-through (§4.1/§4.6).
func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*jobstore.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Cancel is a thin pass-through.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	return s.store.Cancel(ctx, jobID)
}

// Retry is a thin pass-through.
func (s *Scheduler) Retry(ctx context.Context, jobID string) error {
	return s.store.Retry(ctx, jobID)
}

// Stats is a thin pass-through.
func (s *Scheduler) Stats(ctx context.Context) (jobstore.Stats, error) {
	return s.store.StreamStats(ctx, s.stream)
}

// ListByState is a thin pass-through.
func (s *Scheduler) ListByState(ctx context.Context, state jobstore.State, r jobstore.ListRange) ([]*jobstore.Job, error) {
	return s.store.List(ctx, s.stream, state, r)
}

// Clean is a thin pass-through.
func (s *Scheduler) Clean(ctx context.Context, state jobstore.State, graceMs int64, limit int) (int, error) {
	return s.store.Clean(ctx, s.stream, state, graceMs, limit)
}

// Pause is a thin pass-through.
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.store.Pause(ctx, s.stream)
}

// Resume is a thin pass-through.
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.store.Resume(ctx, s.stream)
}
