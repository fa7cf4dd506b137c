// Package telephony implements the Telephony Gateway (TG): the adapter that
// asks a voice provider to place a call, answers its webhooks, and renders
// the TwiML-like XML document that opens the media bridge.
package telephony

import "context"

// CallRequest is what InitiateCall asks the provider to do.
type CallRequest struct {
	To                    string
	From                  string
	AnswerURL             string
	StatusCallbackURL     string
	RecordingCallbackURL  string
	Record                bool
	TimeoutSec            int
}

// CallResult is the provider's synchronous acknowledgement of an initiation request.
type CallResult struct {
	CallSID string
	Status  string
}

// Provider is the collaborator boundary between TG and a concrete voice
// provider's REST API. A fake implementation backs tests; HTTPProvider talks
// to a real (Twilio-shaped) API.
type Provider interface {
	InitiateCall(ctx context.Context, req CallRequest) (CallResult, error)
	Name() string
}
