package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPProvider talks to a Twilio-shaped REST API: basic auth with an account
// SID and auth token, form-encoded POST to create a call resource.
type HTTPProvider struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
	log        zerolog.Logger
}

// NewHTTPProvider builds a Provider backed by a real voice-provider REST API.
func NewHTTPProvider(baseURL, accountSID, authToken, from string, timeout time.Duration, log zerolog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) InitiateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	from := req.From
	if from == "" {
		from = p.from
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Url", req.AnswerURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
	}
	if req.Record {
		form.Set("Record", "true")
		if req.RecordingCallbackURL != "" {
			form.Set("RecordingStatusCallback", req.RecordingCallbackURL)
		}
	}
	if req.TimeoutSec > 0 {
		form.Set("Timeout", strconv.Itoa(req.TimeoutSec))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return CallResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
		Code   int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return CallResult{}, fmt.Errorf("decode provider response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return CallResult{}, fmt.Errorf("provider transient error: status=%d code=%d message=%s", resp.StatusCode, body.Code, body.Message)
	}
	if resp.StatusCode >= 400 {
		// Terminal external error per the error taxonomy: invalid number,
		// bad credentials, etc. Wrapped the same as a transient error from
		// the Worker Pool's point of view — JS retry policy decides whether
		// to keep retrying; the distinction is surfaced via the message.
		return CallResult{}, fmt.Errorf("provider rejected call: status=%d code=%d message=%s", resp.StatusCode, body.Code, body.Message)
	}

	p.log.Debug().Str("call_sid", body.SID).Str("to", req.To).Msg("call initiated")
	return CallResult{CallSID: body.SID, Status: body.Status}, nil
}
