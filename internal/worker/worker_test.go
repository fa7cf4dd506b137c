package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/jobstore"
)

// fakeStore is a minimal in-memory jobstore.Store double used to test the
// dispatch loop and handlers without a live Redis.
type fakeStore struct {
	mu      sync.Mutex
	waiting []*jobstore.Job
	acked   []string
	nacked  map[string]string
	enq     []struct {
		family  string
		payload map[string]any
	}
	seq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nacked: map[string]string{}}
}

func (s *fakeStore) Enqueue(ctx context.Context, stream, family string, payload map[string]any, opts jobstore.EnqueueOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := "job-" + time.Now().String() + string(rune(s.seq))
	s.enq = append(s.enq, struct {
		family  string
		payload map[string]any
	}{family, payload})
	s.waiting = append(s.waiting, &jobstore.Job{ID: id, Stream: stream, Family: family, Payload: payload})
	return id, nil
}

func (s *fakeStore) BulkEnqueue(ctx context.Context, stream string, jobs []jobstore.BulkJob) ([]string, error) {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		id, _ := s.Enqueue(ctx, stream, j.Family, j.Payload, j.Opts)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) Dequeue(ctx context.Context, stream string) (*jobstore.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiting) == 0 {
		return nil, jobstore.ErrEmpty
	}
	j := s.waiting[0]
	s.waiting = s.waiting[1:]
	return j, nil
}

func (s *fakeStore) Ack(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, jobID)
	return nil
}

func (s *fakeStore) Nack(ctx context.Context, jobID string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nacked[jobID] = cause
	return nil
}

func (s *fakeStore) Get(ctx context.Context, jobID string) (*jobstore.Job, error) { return nil, jobstore.ErrNotFound }
func (s *fakeStore) Cancel(ctx context.Context, jobID string) error               { return nil }
func (s *fakeStore) IsCanceled(ctx context.Context, jobID string) bool            { return false }
func (s *fakeStore) Retry(ctx context.Context, jobID string) error                { return nil }
func (s *fakeStore) List(ctx context.Context, stream string, state jobstore.State, r jobstore.ListRange) ([]*jobstore.Job, error) {
	return nil, nil
}
func (s *fakeStore) StreamStats(ctx context.Context, stream string) (jobstore.Stats, error) {
	return jobstore.Stats{}, nil
}
func (s *fakeStore) Clean(ctx context.Context, stream string, state jobstore.State, graceMs int64, limit int) (int, error) {
	return 0, nil
}
func (s *fakeStore) Pause(ctx context.Context, stream string) error        { return nil }
func (s *fakeStore) Resume(ctx context.Context, stream string) error       { return nil }
func (s *fakeStore) IsPaused(ctx context.Context, stream string) (bool, error) { return false, nil }
func (s *fakeStore) RegisterRepeat(ctx context.Context, stream, family string, payload map[string]any, priority jobstore.Priority, cronExpr string) (*jobstore.RepeatRegistration, error) {
	return nil, nil
}
func (s *fakeStore) ListRepeats(ctx context.Context, stream string) ([]*jobstore.RepeatRegistration, error) {
	return nil, nil
}
func (s *fakeStore) StopRepeat(ctx context.Context, repeatID string) error { return nil }
func (s *fakeStore) Close() error                                         { return nil }

func TestWorkerPoolDispatchesByFamilyAndAcks(t *testing.T) {
	store := newFakeStore()
	var handled atomic.Int32
	store.waiting = append(store.waiting, &jobstore.Job{ID: "j1", Stream: "calls", Family: "noop"})

	pool := New(Options{
		Store:  store,
		Stream: "calls",
		Handlers: map[string]Handler{
			"noop": HandlerFunc(func(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
				handled.Add(1)
				return map[string]any{"ok": true}, nil
			}),
		},
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if handled.Load() == 0 {
		t.Fatal("handler never invoked")
	}

	deadline = time.Now().Add(time.Second)
	for len(store.acked) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.acked) != 1 || store.acked[0] != "j1" {
		t.Fatalf("expected job j1 acked, got %v", store.acked)
	}
}

func TestWorkerPoolNacksOnHandlerError(t *testing.T) {
	store := newFakeStore()
	store.waiting = append(store.waiting, &jobstore.Job{ID: "j2", Stream: "calls", Family: "boom"})

	pool := New(Options{
		Store:  store,
		Stream: "calls",
		Handlers: map[string]Handler{
			"boom": HandlerFunc(func(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
				return nil, errors.New("provider unreachable")
			}),
		},
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		store.mu.Lock()
		_, done := store.nacked["j2"]
		store.mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.nacked["j2"] != "provider unreachable" {
		t.Fatalf("expected nack cause 'provider unreachable', got %q", store.nacked["j2"])
	}
}

func TestWorkerPoolUnknownFamilyNacks(t *testing.T) {
	store := newFakeStore()
	store.waiting = append(store.waiting, &jobstore.Job{ID: "j3", Stream: "calls", Family: "unregistered"})

	pool := New(Options{
		Store:        store,
		Stream:       "calls",
		Handlers:     map[string]Handler{},
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
	pool.Start()
	defer pool.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		store.mu.Lock()
		_, done := store.nacked["j3"]
		store.mu.Unlock()
		if done || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.nacked["j3"]; !ok {
		t.Fatal("expected unregistered family to be nacked")
	}
}

type fakeCaller struct {
	result CallResult
	err    error
}

func (c *fakeCaller) InitiateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	return c.result, c.err
}

type fakeLeadContacter struct {
	mu        sync.Mutex
	contacted map[string]string
	err       error
}

func (l *fakeLeadContacter) MarkContacted(ctx context.Context, leadID, callSID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.contacted == nil {
		l.contacted = map[string]string{}
	}
	l.contacted[leadID] = callSID
	return nil
}

func TestPlaceCallHandlerRequiresTo(t *testing.T) {
	h := &PlaceCallHandler{
		Caller: &fakeCaller{},
		Leads:  &fakeLeadContacter{},
		Store:  newFakeStore(),
		Log:    zerolog.Nop(),
	}
	_, err := h.Handle(context.Background(), &jobstore.Job{ID: "j1", Payload: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing to")
	}
}

func TestPlaceCallHandlerMarksLeadContacted(t *testing.T) {
	leads := &fakeLeadContacter{}
	h := &PlaceCallHandler{
		Caller: &fakeCaller{result: CallResult{CallSID: "CA123", Status: "queued"}},
		Leads:  leads,
		Store:  newFakeStore(),
		Log:    zerolog.Nop(),
	}
	result, err := h.Handle(context.Background(), &jobstore.Job{
		ID: "j1",
		Payload: map[string]any{
			"to":       "+15551234567",
			"message":  "hello",
			"leadId":   "lead-1",
			"priority": "high",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["callSid"] != "CA123" {
		t.Fatalf("expected callSid CA123, got %v", result["callSid"])
	}
	if leads.contacted["lead-1"] != "CA123" {
		t.Fatalf("expected lead-1 marked contacted with CA123, got %v", leads.contacted)
	}
}

func TestPlaceCallHandlerLeadFailureDoesNotFailJob(t *testing.T) {
	leads := &fakeLeadContacter{err: errors.New("db down")}
	h := &PlaceCallHandler{
		Caller: &fakeCaller{result: CallResult{CallSID: "CA999", Status: "queued"}},
		Leads:  leads,
		Store:  newFakeStore(),
		Log:    zerolog.Nop(),
	}
	result, err := h.Handle(context.Background(), &jobstore.Job{
		ID:      "j1",
		Payload: map[string]any{"to": "+15551234567", "leadId": "lead-1"},
	})
	if err != nil {
		t.Fatalf("lead persistence failure must not fail the job: %v", err)
	}
	if result["callSid"] != "CA999" {
		t.Fatalf("expected callSid CA999, got %v", result["callSid"])
	}
}

func TestPlaceCallHandlerTelephonyErrorFailsJob(t *testing.T) {
	h := &PlaceCallHandler{
		Caller: &fakeCaller{err: errors.New("provider timeout")},
		Leads:  &fakeLeadContacter{},
		Store:  newFakeStore(),
		Log:    zerolog.Nop(),
	}
	_, err := h.Handle(context.Background(), &jobstore.Job{
		ID:      "j1",
		Payload: map[string]any{"to": "+15551234567"},
	})
	if err == nil {
		t.Fatal("expected telephony error to surface")
	}
}

type fakeLeadSource struct {
	leads []RefillLead
	err   error
}

func (l *fakeLeadSource) LeadsForRefill(ctx context.Context, limit int) ([]RefillLead, error) {
	if l.err != nil {
		return nil, l.err
	}
	if limit < len(l.leads) {
		return l.leads[:limit], nil
	}
	return l.leads, nil
}

func TestRefillHandlerFiltersEmptyPhoneAndEnqueues(t *testing.T) {
	store := newFakeStore()
	leads := &fakeLeadSource{leads: []RefillLead{
		{ID: "l1", Phone: "+15550001111"},
		{ID: "l2", Phone: ""},
		{ID: "l3", Phone: "+15550002222"},
	}}
	h := &RefillHandler{Leads: leads, Store: store}

	result, err := h.Handle(context.Background(), &jobstore.Job{
		Stream:  "calls",
		Payload: map[string]any{"message": "hi", "priority": "normal", "leadLimit": float64(10)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["scheduled"] != 2 {
		t.Fatalf("expected 2 scheduled, got %v", result["scheduled"])
	}
	jobIDs, ok := result["jobIds"].([]string)
	if !ok || len(jobIDs) != 2 {
		t.Fatalf("expected 2 job ids, got %v", result["jobIds"])
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.enq) != 2 {
		t.Fatalf("expected 2 enqueued jobs, got %d", len(store.enq))
	}
	for _, e := range store.enq {
		if e.family != jobstore.FamilyPlaceCall {
			t.Fatalf("expected family %q, got %q", jobstore.FamilyPlaceCall, e.family)
		}
		meta, ok := e.payload["metadata"].(map[string]any)
		if !ok || meta["automationRun"] != true {
			t.Fatalf("expected metadata.automationRun=true, got %v", e.payload["metadata"])
		}
	}
}

func TestRefillHandlerStoreUnavailableFails(t *testing.T) {
	h := &RefillHandler{
		Leads: &fakeLeadSource{err: errors.New("redis down")},
		Store: newFakeStore(),
	}
	_, err := h.Handle(context.Background(), &jobstore.Job{Payload: map[string]any{"leadLimit": float64(5)}})
	if err == nil {
		t.Fatal("expected error when lead store unavailable")
	}
}
