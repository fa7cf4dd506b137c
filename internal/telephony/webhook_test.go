package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeEventSink struct {
	mu   sync.Mutex
	evts []CallEventUpdate
}

func (s *fakeEventSink) UpsertCallEvent(ctx context.Context, evt CallEventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evts = append(s.evts, evt)
	return nil
}

type fakeRecordingSink struct {
	mu   sync.Mutex
	atts []RecordingAttachment
}

func (s *fakeRecordingSink) AttachRecording(ctx context.Context, att RecordingAttachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.atts = append(s.atts, att)
	return nil
}

type fakeUploader struct{ descriptor string }

func (u *fakeUploader) Upload(ctx context.Context, recordingSID, sourceURL string) (string, error) {
	return u.descriptor, nil
}

func TestHandleStatusWebhookAlwaysReturns200(t *testing.T) {
	events := &fakeEventSink{}
	h := &WebhookHandler{Events: events, Log: zerolog.Nop()}

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	form.Set("Direction", "outbound-api")
	form.Set("From", "+15550000000")
	form.Set("To", "+15551234567")
	form.Set("Duration", "42")
	form.Set("CallDuration", "40")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.HandleStatusWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.evts) != 1 || events.evts[0].CallSID != "CA123" || events.evts[0].Status != "completed" {
		t.Fatalf("expected one upsert for CA123/completed, got %+v", events.evts)
	}
}

func TestHandleStatusWebhookMissingCallSidReturns200NoUpsert(t *testing.T) {
	events := &fakeEventSink{}
	h := &WebhookHandler{Events: events, Log: zerolog.Nop()}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/status", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.HandleStatusWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 even for malformed input, got %d", rec.Code)
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.evts) != 0 {
		t.Fatalf("expected no upsert without CallSid, got %+v", events.evts)
	}
}

func TestHandleRecordingWebhookOnlyCompletedTriggersProcessing(t *testing.T) {
	recordings := &fakeRecordingSink{}
	h := &WebhookHandler{
		Events:     &fakeEventSink{},
		Recordings: recordings,
		Uploader:   &fakeUploader{descriptor: "s3://bucket/CA123.wav"},
		Log:        zerolog.Nop(),
	}

	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("RecordingSid", "RE456")
	form.Set("RecordingStatus", "in-progress")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/recording", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleRecordingWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	time.Sleep(20 * time.Millisecond)
	recordings.mu.Lock()
	if len(recordings.atts) != 0 {
		recordings.mu.Unlock()
		t.Fatal("expected non-completed status to skip processing")
	}
	recordings.mu.Unlock()

	form.Set("RecordingStatus", "completed")
	form.Set("RecordingDuration", "12")
	form.Set("RecordingUrl", "https://provider.example.com/recordings/RE456")
	req = httptest.NewRequest(http.MethodPost, "/webhooks/recording", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.HandleRecordingWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	deadline := time.Now().Add(time.Second)
	for {
		recordings.mu.Lock()
		n := len(recordings.atts)
		recordings.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	recordings.mu.Lock()
	defer recordings.mu.Unlock()
	if len(recordings.atts) != 1 {
		t.Fatalf("expected one attached recording, got %d", len(recordings.atts))
	}
	att := recordings.atts[0]
	if att.CallSID != "CA123" || att.RecordingSID != "RE456" || att.DurationSec != 12 {
		t.Fatalf("unexpected attachment: %+v", att)
	}
	if att.StorageDescriptor != "s3://bucket/CA123.wav" {
		t.Fatalf("expected uploaded descriptor, got %q", att.StorageDescriptor)
	}
}
