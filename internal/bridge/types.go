// Package bridge implements the Media Bridge (MB): for each provider media
// stream connection, a session that relays 8 kHz μ-law audio between the
// provider socket and an AI realtime socket and emits transcript events to
// the Linkage & Persistence Layer.
package bridge

import (
	"sync"
	"time"
)

// State is a BridgeSession's position in the state machine (§4.4).
type State string

const (
	StateInit       State = "INIT"
	StateConnecting State = "CONNECTING"
	StateReady      State = "READY"
	StateStreaming  State = "STREAMING"
	StateFailed     State = "FAILED"
	StateClosing    State = "CLOSING"
)

// TurnMetrics accumulates the per-turn latency summary logged on response.done.
// Reset right after each response.done summary is logged.
type TurnMetrics struct {
	SpeechStartTime     time.Time
	SpeechStopTime      time.Time
	CommittedTime       time.Time
	ResponseCreatedTime time.Time
	FirstAudioChunkTime time.Time
	ResponseDoneTime    time.Time
}

func (m *TurnMetrics) reset() { *m = TurnMetrics{} }

// summary computes the logged latency breakdown once response.done fires.
// Any unset timestamp yields a zero duration rather than a bogus negative one.
func (m *TurnMetrics) summary() map[string]time.Duration {
	since := func(from, to time.Time) time.Duration {
		if from.IsZero() || to.IsZero() || to.Before(from) {
			return 0
		}
		return to.Sub(from)
	}
	return map[string]time.Duration{
		"total_turn_time":      since(m.SpeechStopTime, m.ResponseDoneTime),
		"speech_to_commit":     since(m.SpeechStopTime, m.CommittedTime),
		"response_creation":    since(m.CommittedTime, m.ResponseCreatedTime),
		"time_to_first_audio":  since(m.ResponseCreatedTime, m.FirstAudioChunkTime),
		"streaming_duration":   since(m.FirstAudioChunkTime, m.ResponseDoneTime),
	}
}

// sessionState is the mutable, mutex-guarded part of a BridgeSession.
type sessionState struct {
	mu            sync.Mutex
	state         State
	retries       int
	errorEvents   int
	spoken        bool // speakFirst already injected
	turn          TurnMetrics
}

func (s *sessionState) get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *sessionState) set(v State) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
}

// withTurn runs fn against the current turn's metrics under lock.
func (s *sessionState) withTurn(fn func(*TurnMetrics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.turn)
}

// takeRetry consumes one reconnect attempt against maxRetries (default 3)
// and reports whether the budget still has room.
func (s *sessionState) takeRetry(maxRetries int) bool {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retries >= maxRetries {
		return false
	}
	s.retries++
	return true
}

// bumpErrors increments the error-event count and reports whether it has
// reached maxErrorEvents (default 5).
func (s *sessionState) bumpErrors(maxErrorEvents int) bool {
	if maxErrorEvents <= 0 {
		maxErrorEvents = 5
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorEvents++
	return s.errorEvents >= maxErrorEvents
}
