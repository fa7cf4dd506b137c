package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedisStore(rdb, 30*time.Second, zerolog.Nop())
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+15550001111"}, EnqueueOptions{Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := s.Dequeue(ctx, "calls")
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if job.ID != id {
		t.Errorf("job.ID = %q, want %q", job.ID, id)
	}
	if job.State != StateActive {
		t.Errorf("job.State = %q, want active", job.State)
	}
	if job.AttemptsMade != 1 {
		t.Errorf("AttemptsMade = %d, want 1", job.AttemptsMade)
	}

	if err := s.Ack(ctx, id); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateCompleted {
		t.Errorf("State = %q, want completed", got.State)
	}

	stats, err := s.StreamStats(ctx, "calls")
	if err != nil {
		t.Fatalf("StreamStats: %v", err)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed = %d, want 1", stats.Completed)
	}
}

func TestDequeueEmptyStream(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Dequeue(ctx, "empty")
	if err != ErrEmpty {
		t.Fatalf("Dequeue on empty stream: err = %v, want ErrEmpty", err)
	}
}

func TestEnqueueIdempotentJobID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{JobID: "fixed-key"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	id2, err := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{JobID: "fixed-key"})
	if err != nil {
		t.Fatalf("Enqueue (again): %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %q vs %q, want stable jobId to dedupe", id1, id2)
	}

	stats, err := s.StreamStats(ctx, "calls")
	if err != nil {
		t.Fatalf("StreamStats: %v", err)
	}
	if stats.Waiting != 1 {
		t.Errorf("Waiting = %d, want 1 (no duplicate)", stats.Waiting)
	}
}

func TestPriorityDispatchOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lowID, _ := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "C"}, EnqueueOptions{Priority: PriorityLow})
	highID, _ := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "A"}, EnqueueOptions{Priority: PriorityHigh})
	normalID, _ := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "B"}, EnqueueOptions{Priority: PriorityNormal})

	var order []string
	for i := 0; i < 3; i++ {
		j, err := s.Dequeue(ctx, "calls")
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		order = append(order, j.ID)
	}

	want := []string{highID, normalID, lowID}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("dispatch order[%d] = %q, want %q (want high, normal, low)", i, order[i], want[i])
		}
	}
}

func TestBulkEnqueueAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	jobs := []BulkJob{
		{Family: FamilyPlaceCall, Payload: map[string]any{"to": "A"}, Opts: EnqueueOptions{Priority: PriorityHigh}},
		{Family: FamilyPlaceCall, Payload: map[string]any{"to": "B"}, Opts: EnqueueOptions{Priority: PriorityNormal}},
		{Family: FamilyPlaceCall, Payload: map[string]any{"to": "C"}, Opts: EnqueueOptions{Priority: PriorityLow}},
	}
	ids, err := s.BulkEnqueue(ctx, "calls", jobs)
	if err != nil {
		t.Fatalf("BulkEnqueue: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("len(ids) = %d, want 3", len(ids))
	}

	stats, err := s.StreamStats(ctx, "calls")
	if err != nil {
		t.Fatalf("StreamStats: %v", err)
	}
	if stats.Waiting != 3 {
		t.Errorf("Waiting = %d, want 3 (all-or-nothing visibility)", stats.Waiting)
	}
}

func TestDelayedBecomesWaiting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{DelayMs: 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != StateDelayed {
		t.Fatalf("State = %q, want delayed", job.State)
	}

	time.Sleep(5 * time.Millisecond)

	dequeued, err := s.Dequeue(ctx, "calls")
	if err != nil {
		t.Fatalf("Dequeue after delay: %v", err)
	}
	if dequeued.ID != id {
		t.Errorf("dequeued.ID = %q, want %q", dequeued.ID, id)
	}
}

func TestNackRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, _ := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{MaxAttempts: 2, Backoff: Backoff{Type: "exponential", BaseMs: 1}})

	j, err := s.Dequeue(ctx, "calls")
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := s.Nack(ctx, j.ID, "transient error"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	after, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.State != StateDelayed {
		t.Fatalf("State after first failure = %q, want delayed (attempts %d < max %d)", after.State, after.AttemptsMade, after.MaxAttempts)
	}

	time.Sleep(5 * time.Millisecond)
	j2, err := s.Dequeue(ctx, "calls")
	if err != nil {
		t.Fatalf("Dequeue (2nd attempt): %v", err)
	}
	if err := s.Nack(ctx, j2.ID, "transient error again"); err != nil {
		t.Fatalf("Nack (2nd): %v", err)
	}

	final, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.State != StateFailed {
		t.Errorf("final State = %q, want failed (attempts %d >= max %d)", final.State, final.AttemptsMade, final.MaxAttempts)
	}
	if final.AttemptsMade > final.MaxAttempts {
		t.Errorf("AttemptsMade %d exceeds MaxAttempts %d", final.AttemptsMade, final.MaxAttempts)
	}
}

func TestCancelWaitingJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, _ := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{})
	if err := s.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stats, err := s.StreamStats(ctx, "calls")
	if err != nil {
		t.Fatalf("StreamStats: %v", err)
	}
	if stats.Waiting != 0 {
		t.Errorf("Waiting = %d, want 0 after cancel", stats.Waiting)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != StateCanceled {
		t.Errorf("State = %q, want canceled", job.State)
	}
}

func TestRetryFailedJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, _ := s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{MaxAttempts: 1})
	j, _ := s.Dequeue(ctx, "calls")
	if err := s.Nack(ctx, j.ID, "boom"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	failed, _ := s.Get(ctx, id)
	if failed.State != StateFailed {
		t.Fatalf("precondition: State = %q, want failed", failed.State)
	}

	if err := s.Retry(ctx, id); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	retried, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if retried.State != StateWaiting {
		t.Errorf("State after Retry = %q, want waiting", retried.State)
	}
	if retried.MaxAttempts != retried.AttemptsMade+1 {
		t.Errorf("MaxAttempts = %d, want AttemptsMade+1 = %d", retried.MaxAttempts, retried.AttemptsMade+1)
	}
}

func TestPauseStopsDispatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Enqueue(ctx, "calls", FamilyPlaceCall, map[string]any{"to": "+1"}, EnqueueOptions{})
	if err := s.Pause(ctx, "calls"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	_, err := s.Dequeue(ctx, "calls")
	if err != ErrPaused {
		t.Fatalf("Dequeue while paused: err = %v, want ErrPaused", err)
	}

	if err := s.Resume(ctx, "calls"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := s.Dequeue(ctx, "calls"); err != nil {
		t.Fatalf("Dequeue after resume: %v", err)
	}
}

func TestRegisterRepeatListAndStop(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	reg, err := s.RegisterRepeat(ctx, "calls", FamilyRefillFromLeads, map[string]any{"leadLimit": 10}, PriorityNormal, "@every 1s")
	if err != nil {
		t.Fatalf("RegisterRepeat: %v", err)
	}
	if reg.CurrentJobID == "" {
		t.Fatal("expected a pending child job id")
	}

	regs, err := s.ListRepeats(ctx, "calls")
	if err != nil {
		t.Fatalf("ListRepeats: %v", err)
	}
	if len(regs) != 1 || regs[0].ID != reg.ID {
		t.Fatalf("ListRepeats = %+v, want one entry matching %q", regs, reg.ID)
	}

	if err := s.StopRepeat(ctx, reg.ID); err != nil {
		t.Fatalf("StopRepeat: %v", err)
	}
	regs, err = s.ListRepeats(ctx, "calls")
	if err != nil {
		t.Fatalf("ListRepeats after stop: %v", err)
	}
	if len(regs) != 0 {
		t.Errorf("ListRepeats after stop = %+v, want empty", regs)
	}
}
