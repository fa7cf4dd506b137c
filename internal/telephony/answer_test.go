package telephony

import (
	"strings"
	"testing"
)

func TestRenderAnswerDeterministic(t *testing.T) {
	p := AnswerParams{Host: "call-engine.example.com", SpeakFirst: true, InitialMessage: "Hi there"}
	a, err := RenderAnswer(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := RenderAnswer(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("renderAnswer must be deterministic for identical inputs")
	}
	if !strings.Contains(string(a), "wss://call-engine.example.com/media-stream") {
		t.Fatalf("expected media-stream url, got %s", a)
	}
	if !strings.Contains(string(a), "speakFirst=true") {
		t.Fatalf("expected speakFirst=true, got %s", a)
	}
}

func TestRenderAnswerEscapesInitialMessage(t *testing.T) {
	a, err := RenderAnswer(AnswerParams{Host: "h", InitialMessage: "hello & welcome"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(a), "hello & welcome") {
		t.Fatal("expected raw '&' to be percent-encoded in the query string")
	}
}
