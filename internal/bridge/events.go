package bridge

import (
	"context"
	"time"
)

// TranscriptEvent is what MB hands to LP on a completed transcription.
type TranscriptEvent struct {
	CallSID          string
	Role             string // "user" or "assistant"
	Content          string
	ProviderMessageID string
	At               time.Time
}

// TranscriptSink is LP's appendTranscript, as seen by MB.
type TranscriptSink interface {
	AppendTranscript(ctx context.Context, evt TranscriptEvent) error
}
