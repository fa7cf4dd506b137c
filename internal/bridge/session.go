package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// sessionConfig is the static, per-call configuration captured at INIT from
// the media-stream URL's query parameters.
type sessionConfig struct {
	CallSID        string
	StreamSID      string
	SpeakFirst     bool
	InitialMessage string
}

// Session runs one BridgeSession's full lifecycle: dial the AI peer, push
// session config, relay audio, and emit transcripts, until the provider
// socket closes or the session fails.
type Session struct {
	cfg      sessionConfig
	provider ProviderConn
	dial     AIDialer
	rt       RealtimeConfig
	sink     TranscriptSink
	log      zerolog.Logger

	state *sessionState
	ai    AIConn
	aiMu  sync.RWMutex
}

func (s *Session) getAI() AIConn {
	s.aiMu.RLock()
	defer s.aiMu.RUnlock()
	return s.ai
}

func (s *Session) setAI(conn AIConn) {
	s.aiMu.Lock()
	s.ai = conn
	s.aiMu.Unlock()
}

// NewSession builds a session bound to an already-accepted provider
// connection. speakFirst/initialMessage come from the media-stream request's
// query string; callSid/streamSid are filled in once the provider's "start"
// frame arrives.
func NewSession(provider ProviderConn, dial AIDialer, rt RealtimeConfig, sink TranscriptSink, speakFirst bool, initialMessage string, log zerolog.Logger) *Session {
	return &Session{
		cfg:      sessionConfig{SpeakFirst: speakFirst, InitialMessage: initialMessage},
		provider: provider,
		dial:     dial,
		rt:       rt,
		sink:     sink,
		log:      log,
		state:    &sessionState{state: StateInit},
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state.get() }

// Run drives the session through INIT → CONNECTING → READY → STREAMING →
// (FAILED) → CLOSING. It blocks until the session is done.
func (s *Session) Run(ctx context.Context) {
	defer s.provider.Close()

	if err := s.awaitStart(); err != nil {
		s.log.Warn().Err(err).Msg("bridge session: provider did not send start frame")
		return
	}
	log := s.log.With().Str("call_sid", s.cfg.CallSID).Str("stream_sid", s.cfg.StreamSID).Logger()
	s.log = log

	s.state.set(StateConnecting)
	conn, err := connectWithRetry(ctx, s.dial, s.rt)
	if err != nil {
		log.Error().Err(err).Msg("bridge session: ai connect exhausted")
		s.fail(ctx)
		return
	}
	s.setAI(conn)

	if err := s.configureSession(ctx); err != nil {
		log.Error().Err(err).Msg("bridge session: configure failed")
		s.fail(ctx)
		return
	}
	s.state.set(StateReady)

	sessionsActive.Inc()
	defer sessionsActive.Dec()

	s.streamUntilDone(ctx)

	s.state.set(StateClosing)
	if conn := s.getAI(); conn != nil {
		_ = conn.Close()
	}
}

// awaitStart reads provider frames until "start" arrives, ignoring the
// preceding "connected" frame.
func (s *Session) awaitStart() error {
	for {
		frame, err := s.provider.ReadFrame()
		if err != nil {
			return fmt.Errorf("read provider frame: %w", err)
		}
		switch frame.Event {
		case "connected":
			continue
		case "start":
			if frame.Start == nil {
				return fmt.Errorf("start frame missing payload")
			}
			s.cfg.CallSID = frame.Start.CallSid
			s.cfg.StreamSID = frame.Start.StreamSid
			return nil
		default:
			// Tolerate unexpected ordering rather than failing the session.
			continue
		}
	}
}

// configureSession sends session.update and, if speakFirst, injects the
// synthetic assistant item before the first turn (§4.4 READY).
func (s *Session) configureSession(ctx context.Context) error {
	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"voice":               s.rt.Voice,
			"input_audio_format":  "g711_ulaw",
			"output_audio_format": "g711_ulaw",
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
			},
			"input_audio_transcription": map[string]any{"model": "whisper-1"},
			"max_response_output_tokens": s.rt.MaxResponseTokens,
		},
	}
	if err := s.getAI().Send(ctx, update); err != nil {
		return fmt.Errorf("session.update: %w", err)
	}

	if s.cfg.SpeakFirst && !s.state.spokenOnce() {
		item := map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "input_text", "text": s.cfg.InitialMessage},
				},
			},
		}
		if err := s.getAI().Send(ctx, item); err != nil {
			return fmt.Errorf("conversation.item.create: %w", err)
		}
		if err := s.getAI().Send(ctx, map[string]any{"type": "response.create"}); err != nil {
			return fmt.Errorf("response.create: %w", err)
		}
	}
	return nil
}

func (s *Session) fail(ctx context.Context) {
	s.state.set(StateFailed)
	sessionsFailedTotal.Inc()
	if s.cfg.StreamSID != "" {
		if err := s.provider.SendClear(s.cfg.StreamSID); err != nil {
			s.log.Warn().Err(err).Msg("bridge session: failed to send clear marker")
		}
	}
}

// spokenOnce marks speakFirst as consumed and reports whether it had already
// been consumed, so a post-reconnect configureSession doesn't repeat it.
func (s *sessionState) spokenOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	already := s.spoken
	s.spoken = true
	return already
}
