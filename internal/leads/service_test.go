package leads

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/bridge"
	"github.com/voxreach/call-engine/internal/database"
	"github.com/voxreach/call-engine/internal/telephony"
)

type fakeRowStore struct {
	mu sync.Mutex

	leads       map[int64]*database.Lead
	callEvents  map[string]*database.CallEvent
	transcripts map[string][]database.TranscriptEntry
	recordings  map[string]database.CallRecording

	upsertCallEventErr error
}

func newFakeRowStore() *fakeRowStore {
	return &fakeRowStore{
		leads:       make(map[int64]*database.Lead),
		callEvents:  make(map[string]*database.CallEvent),
		transcripts: make(map[string][]database.TranscriptEntry),
		recordings:  make(map[string]database.CallRecording),
	}
}

func (f *fakeRowStore) LeadsForRefill(ctx context.Context, limit int) ([]*database.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.Lead
	for _, l := range f.leads {
		if l.Status == "new" && l.CallSID == nil {
			out = append(out, l)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRowStore) FindLeadByPhone(ctx context.Context, phone string) ([]*database.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*database.Lead
	for _, l := range f.leads {
		if l.Phone != nil && *l.Phone == phone {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeRowStore) MarkContacted(ctx context.Context, leadID int64, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok {
		return database.ErrNotFound
	}
	l.CallSID = &callSID
	l.Status = "contacted"
	return nil
}

func (f *fakeRowStore) SetLeadCallSIDOnce(ctx context.Context, leadID int64, callSID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok {
		return false, database.ErrNotFound
	}
	if l.CallSID != nil {
		return false, nil
	}
	l.CallSID = &callSID
	return true, nil
}

func (f *fakeRowStore) UpsertCallEvent(ctx context.Context, u database.CallEventUpsert) (*database.CallEvent, error) {
	if f.upsertCallEventErr != nil {
		return nil, f.upsertCallEventErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	to := u.ToNumber
	e := &database.CallEvent{CallSID: u.CallSID, Status: u.Status, ToNumber: &to}
	f.callEvents[u.CallSID] = e
	return e, nil
}

func (f *fakeRowStore) GetCallEventBySID(ctx context.Context, callSID string) (*database.CallEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.callEvents[callSID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return e, nil
}

func (f *fakeRowStore) EnsureCallEventExists(ctx context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.callEvents[callSID]; !ok {
		f.callEvents[callSID] = &database.CallEvent{CallSID: callSID, Status: "in-progress"}
	}
	return nil
}

func (f *fakeRowStore) AppendTranscript(ctx context.Context, e database.TranscriptEntry) (*database.TranscriptEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ProviderMessageID != nil && *e.ProviderMessageID != "" {
		for _, existing := range f.transcripts[e.CallSID] {
			if existing.ProviderMessageID != nil && *existing.ProviderMessageID == *e.ProviderMessageID {
				cp := existing
				return &cp, false, nil
			}
		}
	}
	f.transcripts[e.CallSID] = append(f.transcripts[e.CallSID], e)
	return &e, true, nil
}

func (f *fakeRowStore) UpsertRecording(ctx context.Context, r database.CallRecording) (*database.CallRecording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings[r.RecordingSID] = r
	return &r, nil
}

func newTestService(store *fakeRowStore) *Service {
	return &Service{db: store, log: zerolog.Nop()}
}

func TestMarkContactedParsesLeadID(t *testing.T) {
	store := newFakeRowStore()
	store.leads[42] = &database.Lead{ID: 42, Status: "new"}
	svc := newTestService(store)

	if err := svc.MarkContacted(context.Background(), "42", "CA1"); err != nil {
		t.Fatalf("MarkContacted: %v", err)
	}
	if store.leads[42].Status != "contacted" || *store.leads[42].CallSID != "CA1" {
		t.Fatalf("lead not updated: %+v", store.leads[42])
	}
}

func TestMarkContactedRejectsNonNumericLeadID(t *testing.T) {
	svc := newTestService(newFakeRowStore())
	if err := svc.MarkContacted(context.Background(), "not-a-number", "CA1"); err == nil {
		t.Fatal("expected error for non-numeric lead id")
	}
}

func TestLeadsForRefillProjectsPhoneOnly(t *testing.T) {
	store := newFakeRowStore()
	phone := "+15551234567"
	store.leads[1] = &database.Lead{ID: 1, Status: "new", Phone: &phone}
	svc := newTestService(store)

	got, err := svc.LeadsForRefill(context.Background(), 10)
	if err != nil {
		t.Fatalf("LeadsForRefill: %v", err)
	}
	if len(got) != 1 || got[0].ID != "1" || got[0].Phone != phone {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestAppendTranscriptLinksLeadOnFirstTranscript(t *testing.T) {
	store := newFakeRowStore()
	phone := "+15557654321"
	store.leads[7] = &database.Lead{ID: 7, Status: "new", Phone: &phone}
	store.callEvents["CA999"] = &database.CallEvent{CallSID: "CA999", Status: "in-progress", ToNumber: &phone}

	svc := newTestService(store)

	err := svc.AppendTranscript(context.Background(), bridge.TranscriptEvent{
		CallSID: "CA999",
		Role:    "user",
		Content: "hi there",
		At:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}

	if store.leads[7].CallSID == nil || *store.leads[7].CallSID != "CA999" {
		t.Fatalf("expected lead 7 linked to CA999, got %+v", store.leads[7])
	}

	// Second transcript for the same call must not attempt to re-link / error.
	err = svc.AppendTranscript(context.Background(), bridge.TranscriptEvent{
		CallSID: "CA999",
		Role:    "assistant",
		Content: "how can I help",
		At:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second AppendTranscript: %v", err)
	}
	if len(store.transcripts["CA999"]) != 2 {
		t.Fatalf("expected 2 transcript entries, got %d", len(store.transcripts["CA999"]))
	}
}

func TestAppendTranscriptDedupesByProviderMessageID(t *testing.T) {
	store := newFakeRowStore()
	svc := newTestService(store)

	msg := bridge.TranscriptEvent{
		CallSID:           "CA1",
		Role:              "assistant",
		Content:           "hello",
		ProviderMessageID: "msg-1",
		At:                time.Now().UTC(),
	}
	if err := svc.AppendTranscript(context.Background(), msg); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := svc.AppendTranscript(context.Background(), msg); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if len(store.transcripts["CA1"]) != 1 {
		t.Fatalf("expected exactly 1 transcript entry after dedup, got %d", len(store.transcripts["CA1"]))
	}
}

func TestAttachRecordingPersistsDescriptor(t *testing.T) {
	store := newFakeRowStore()
	svc := newTestService(store)

	err := svc.AttachRecording(context.Background(), telephony.RecordingAttachment{
		CallSID:           "CA1",
		RecordingSID:      "RE1",
		DurationSec:       30,
		StorageDescriptor: "s3://bucket/RE1.wav",
	})
	if err != nil {
		t.Fatalf("AttachRecording: %v", err)
	}
	rec, ok := store.recordings["RE1"]
	if !ok || *rec.StoragePath != "s3://bucket/RE1.wav" {
		t.Fatalf("recording not persisted correctly: %+v", rec)
	}
}

func TestUpsertCallEventPropagatesError(t *testing.T) {
	store := newFakeRowStore()
	store.upsertCallEventErr = database.ErrNotFound
	svc := newTestService(store)

	err := svc.UpsertCallEvent(context.Background(), telephony.CallEventUpdate{CallSID: "CA1", Status: "completed"})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
