package telephony

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/voxreach/call-engine/internal/worker"
)

// CallerConfig carries the deployment-specific pieces of the gateway that
// don't belong on a request-by-request basis: where the provider should call
// back, and from which number.
type CallerConfig struct {
	PublicHost   string // e.g. "call-engine.example.com", no scheme
	FromNumber   string
	RecordCalls  bool
	TimeoutSec   int
}

// Gateway adapts a Provider plus CallerConfig into the place-call job
// family's narrow view of the Telephony Gateway (worker.Caller), so the
// Worker Pool never depends on this package's full request/response shapes.
type Gateway struct {
	provider Provider
	cfg      CallerConfig
}

func NewGateway(provider Provider, cfg CallerConfig) *Gateway {
	return &Gateway{provider: provider, cfg: cfg}
}

// InitiateCall builds the provider-facing CallRequest (answer/status/
// recording callback URLs) and delegates to the configured Provider. It
// satisfies worker.Caller.
func (g *Gateway) InitiateCall(ctx context.Context, req worker.CallRequest) (worker.CallResult, error) {
	q := url.Values{}
	q.Set("speakFirst", fmt.Sprintf("%t", req.SpeakFirst))
	q.Set("initialMessage", req.InitialMessage)

	answerURL := fmt.Sprintf("https://%s/answer?%s", g.cfg.PublicHost, q.Encode())
	statusURL := fmt.Sprintf("https://%s/webhooks/status", g.cfg.PublicHost)
	recordingURL := fmt.Sprintf("https://%s/webhooks/recording", g.cfg.PublicHost)

	res, err := g.provider.InitiateCall(ctx, CallRequest{
		To:                   req.To,
		From:                 g.cfg.FromNumber,
		AnswerURL:            answerURL,
		StatusCallbackURL:    statusURL,
		RecordingCallbackURL: recordingURL,
		Record:               g.cfg.RecordCalls,
		TimeoutSec:           g.cfg.TimeoutSec,
	})
	if err != nil {
		return worker.CallResult{}, err
	}
	return worker.CallResult{CallSID: res.CallSID, Status: res.Status}, nil
}

// AnswerHandler serves the provider's answer webhook: the XML document that
// opens the media-stream WebSocket, carrying speakFirst/initialMessage
// through from the query string InitiateCall's Gateway embedded in
// AnswerURL.
type AnswerHandler struct {
	PublicHost string
}

func (h *AnswerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	speakFirst := q.Get("speakFirst") == "true"
	body, err := RenderAnswer(AnswerParams{
		Host:           h.PublicHost,
		SpeakFirst:     speakFirst,
		InitialMessage: q.Get("initialMessage"),
	})
	if err != nil {
		http.Error(w, "failed to render answer", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(body)
}
