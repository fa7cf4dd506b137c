package telephony

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/voxreach/call-engine/internal/worker"
)

type fakeProvider struct {
	gotReq  CallRequest
	result  CallResult
	err     error
}

func (f *fakeProvider) InitiateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	f.gotReq = req
	return f.result, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

func TestGatewayInitiateCallBuildsCallbackURLs(t *testing.T) {
	fp := &fakeProvider{result: CallResult{CallSID: "CA1", Status: "queued"}}
	g := NewGateway(fp, CallerConfig{PublicHost: "call-engine.example.com", FromNumber: "+15550000000", RecordCalls: true, TimeoutSec: 30})

	res, err := g.InitiateCall(context.Background(), worker.CallRequest{
		To:             "+15551234567",
		SpeakFirst:     true,
		InitialMessage: "Hi there",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CallSID != "CA1" || res.Status != "queued" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if fp.gotReq.From != "+15550000000" {
		t.Fatalf("expected From to come from CallerConfig, got %q", fp.gotReq.From)
	}
	if !strings.HasPrefix(fp.gotReq.AnswerURL, "https://call-engine.example.com/answer?") {
		t.Fatalf("unexpected answer url: %q", fp.gotReq.AnswerURL)
	}
	if fp.gotReq.StatusCallbackURL != "https://call-engine.example.com/webhooks/status" {
		t.Fatalf("unexpected status callback url: %q", fp.gotReq.StatusCallbackURL)
	}
	if fp.gotReq.RecordingCallbackURL != "https://call-engine.example.com/webhooks/recording" {
		t.Fatalf("unexpected recording callback url: %q", fp.gotReq.RecordingCallbackURL)
	}
	if !fp.gotReq.Record {
		t.Fatal("expected Record to be true")
	}

	u, err := url.Parse(fp.gotReq.AnswerURL)
	if err != nil {
		t.Fatalf("failed to parse answer url: %v", err)
	}
	if u.Query().Get("speakFirst") != "true" {
		t.Fatalf("expected speakFirst=true in answer url query, got %q", u.RawQuery)
	}
	if u.Query().Get("initialMessage") != "Hi there" {
		t.Fatalf("expected initialMessage to round-trip, got %q", u.Query().Get("initialMessage"))
	}
}

func TestGatewayInitiateCallPropagatesProviderError(t *testing.T) {
	fp := &fakeProvider{err: context.DeadlineExceeded}
	g := NewGateway(fp, CallerConfig{PublicHost: "h"})

	_, err := g.InitiateCall(context.Background(), worker.CallRequest{To: "+1"})
	if err == nil {
		t.Fatal("expected error to propagate from provider")
	}
}

func TestAnswerHandlerRendersStreamXML(t *testing.T) {
	h := &AnswerHandler{PublicHost: "call-engine.example.com"}
	req := httptest.NewRequest("GET", "/answer?speakFirst=true&initialMessage=Hi", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "wss://call-engine.example.com/media-stream") {
		t.Fatalf("expected media-stream url in body, got %s", body)
	}
}
