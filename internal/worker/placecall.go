package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/jobstore"
)

// Caller is the Telephony Gateway collaborator the place-call handler needs.
// Satisfied by internal/telephony's concrete provider adapter.
type Caller interface {
	InitiateCall(ctx context.Context, req CallRequest) (CallResult, error)
}

// CallRequest is what the place-call handler asks TG to do.
type CallRequest struct {
	To             string
	Message        string
	Priority       string
	SpeakFirst     bool
	InitialMessage string
}

// CallResult is TG's response to a successful initiation.
type CallResult struct {
	CallSID  string
	Status   string
}

// LeadContacter is the Linkage & Persistence collaborator the place-call
// handler uses to record that a lead was dialed. Satisfied by internal/leads.
type LeadContacter interface {
	MarkContacted(ctx context.Context, leadID, callSID string) error
}

// PlaceCallHandler implements the `place-call` job family (§4.2).
type PlaceCallHandler struct {
	Caller Caller
	Leads  LeadContacter
	Store  jobstore.Store
	Log    zerolog.Logger
}

func (h *PlaceCallHandler) Handle(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	to, _ := job.Payload["to"].(string)
	if to == "" {
		return nil, fmt.Errorf("place-call: payload.to is required")
	}
	message, _ := job.Payload["message"].(string)
	priority, _ := job.Payload["priority"].(string)
	leadID, _ := job.Payload["leadId"].(string)

	var speakFirst bool
	var initialMessage string
	if meta, ok := job.Payload["metadata"].(map[string]any); ok {
		speakFirst, _ = meta["speakFirst"].(bool)
		initialMessage, _ = meta["initialMessage"].(string)
	}

	if h.Store.IsCanceled(ctx, job.ID) {
		return nil, fmt.Errorf("place-call: canceled before initiation")
	}

	result, err := h.Caller.InitiateCall(ctx, CallRequest{
		To:             to,
		Message:        message,
		Priority:       priority,
		SpeakFirst:     speakFirst,
		InitialMessage: initialMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("telephony gateway: %w", err)
	}

	// The call has been placed. From here cancellation is no longer honored:
	// a callSid already exists and the call is allowed to complete.
	if leadID != "" {
		if err := h.Leads.MarkContacted(ctx, leadID, result.CallSID); err != nil {
			h.Log.Warn().Err(err).Str("lead_id", leadID).Str("call_sid", result.CallSID).
				Msg("mark contacted failed, call still placed")
		}
	}

	return map[string]any{
		"callSid":        result.CallSID,
		"to":             to,
		"providerStatus": result.Status,
	}, nil
}

// scheduledAtNow is split out so tests can stub a deterministic clock if ever needed.
func scheduledAtNow() time.Time { return time.Now().UTC() }
