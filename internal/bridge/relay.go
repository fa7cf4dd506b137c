package bridge

import (
	"context"
	"time"
)

// streamUntilDone runs STREAMING: concurrent, independently-serialized
// provider→AI and AI→provider relay loops. Returns once the provider socket
// closes (which always terminates the session) or ctx is done. If the AI side
// exhausts its reconnect budget first, it still waits for one of those two.
func (s *Session) streamUntilDone(ctx context.Context) {
	s.state.set(StateStreaming)

	providerDone := make(chan struct{})
	go func() {
		defer close(providerDone)
		s.providerLoop(ctx)
	}()

	aiDone := make(chan struct{})
	go func() {
		defer close(aiDone)
		s.aiSupervisor(ctx)
	}()

	select {
	case <-providerDone:
		return
	case <-aiDone:
		select {
		case <-providerDone:
		case <-ctx.Done():
		}
		return
	case <-ctx.Done():
		return
	}
}

// providerLoop forwards inbound-track provider audio to the AI socket
// verbatim. Outbound-track frames (echoes of what we already sent) are
// ignored. A "stop" frame or read error ends the loop and the session.
func (s *Session) providerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := s.provider.ReadFrame()
		if err != nil {
			s.log.Debug().Err(err).Msg("bridge session: provider socket closed")
			return
		}

		switch frame.Event {
		case "media":
			if frame.Media == nil || frame.Media.Track != "inbound" {
				continue
			}
			conn := s.getAI()
			if conn == nil {
				continue
			}
			if err := conn.Send(ctx, map[string]any{
				"type":  "input_audio_buffer.append",
				"audio": frame.Media.Payload,
			}); err != nil {
				s.log.Warn().Err(err).Msg("bridge session: forward audio to ai failed")
			}
		case "stop":
			return
		default:
			continue
		}
	}
}

// aiSupervisor owns the AI connection for the life of the session: it reads
// events, dispatches them, and reconnects on unexpected close until the
// retry/error budget is exhausted, at which point the session fails.
func (s *Session) aiSupervisor(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn := s.getAI()
		msg, err := conn.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !s.reconnect(ctx) {
				s.fail(ctx)
				return
			}
			continue
		}

		if s.handleAIMessage(ctx, msg) {
			if !s.tooManyErrors() {
				continue
			}
			s.fail(ctx)
			return
		}
	}
}

// reconnect implements the unexpected-close path of §4.4: a 2s pause then a
// reconnect attempt reusing session config, bounded by the session's retry
// budget. Returns false once the budget is exhausted.
func (s *Session) reconnect(ctx context.Context) bool {
	if !s.state.takeRetry(s.rt.MaxRetries) {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(2 * time.Second):
	}

	conn, err := connectWithRetry(ctx, s.dial, s.rt)
	if err != nil {
		s.log.Warn().Err(err).Msg("bridge session: reconnect failed")
		return false
	}
	s.setAI(conn)

	if err := s.configureSession(ctx); err != nil {
		s.log.Warn().Err(err).Msg("bridge session: reconfigure after reconnect failed")
		return false
	}
	return true
}

// handleAIMessage dispatches one AI realtime event. Returns true when the
// message was an "error" event, so the caller can check the error budget.
func (s *Session) handleAIMessage(ctx context.Context, msg map[string]any) bool {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "input_audio_buffer.speech_started":
		s.state.withTurn(func(t *TurnMetrics) { t.SpeechStartTime = time.Now() })

	case "input_audio_buffer.speech_stopped":
		s.state.withTurn(func(t *TurnMetrics) { t.SpeechStopTime = time.Now() })

	case "input_audio_buffer.committed":
		s.state.withTurn(func(t *TurnMetrics) { t.CommittedTime = time.Now() })
		if conn := s.getAI(); conn != nil {
			if err := conn.Send(ctx, map[string]any{"type": "response.create"}); err != nil {
				s.log.Warn().Err(err).Msg("bridge session: response.create failed")
			}
		}

	case "response.created":
		s.state.withTurn(func(t *TurnMetrics) { t.ResponseCreatedTime = time.Now() })

	case "response.audio.delta":
		delta, _ := msg["delta"].(string)
		s.state.withTurn(func(t *TurnMetrics) {
			if t.FirstAudioChunkTime.IsZero() {
				t.FirstAudioChunkTime = time.Now()
			}
		})
		if delta != "" && s.cfg.StreamSID != "" {
			if err := s.provider.SendMedia(s.cfg.StreamSID, delta); err != nil {
				s.log.Warn().Err(err).Msg("bridge session: forward audio to provider failed")
			}
		}

	case "response.done":
		var summary map[string]time.Duration
		s.state.withTurn(func(t *TurnMetrics) {
			t.ResponseDoneTime = time.Now()
			summary = t.summary()
			t.reset()
		})
		s.logTurnLatency(summary)

	case "conversation.item.input_audio_transcription.completed",
		"response.audio_transcript.done":
		s.emitTranscript(ctx, msg, msgType)

	case "error":
		s.log.Warn().Interface("error", msg["error"]).Msg("bridge session: ai error event")
		return true
	}

	return false
}

func (s *Session) logTurnLatency(summary map[string]time.Duration) {
	ev := s.log.Info()
	stages := make(map[string]float64, len(summary))
	for stage, d := range summary {
		ev = ev.Dur(stage, d)
		stages[stage] = d.Seconds()
	}
	ev.Msg("bridge session: turn latency")
	recordTurnLatency(stages)
}

func (s *Session) emitTranscript(ctx context.Context, msg map[string]any, eventType string) {
	if s.sink == nil {
		return
	}
	role := "assistant"
	if eventType == "conversation.item.input_audio_transcription.completed" {
		role = "user"
	}
	content, _ := msg["transcript"].(string)
	if content == "" {
		content, _ = msg["text"].(string)
	}
	providerMessageID, _ := msg["item_id"].(string)

	if err := s.sink.AppendTranscript(ctx, TranscriptEvent{
		CallSID:           s.cfg.CallSID,
		Role:              role,
		Content:           content,
		ProviderMessageID: providerMessageID,
		At:                time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("bridge session: append transcript failed")
	}
}

// tooManyErrors reports whether the error-event budget has been exceeded.
func (s *Session) tooManyErrors() bool {
	return s.state.bumpErrors(s.rt.MaxErrorEvents)
}
