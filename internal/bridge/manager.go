package bridge

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // provider connects cross-origin by design
}

// Manager accepts provider media-stream WebSocket connections, builds one
// Session per connection, and tracks sessions by a per-connection UUID for
// introspection.
// Cross-session isolation is total: the only shared mutable state is this map.
type Manager struct {
	dial AIDialer
	rt   RealtimeConfig
	sink TranscriptSink
	log  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager. dial defaults to DialRealtime when nil.
func NewManager(dial AIDialer, rt RealtimeConfig, sink TranscriptSink, log zerolog.Logger) *Manager {
	if dial == nil {
		dial = DialRealtime
	}
	return &Manager{
		dial:     dial,
		rt:       rt,
		sink:     sink,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Count reports the number of sessions currently tracked (INIT through CLOSING).
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HandleMediaStream upgrades the request to a WebSocket and runs a session to
// completion. Blocks for the lifetime of the call.
func (m *Manager) HandleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("media stream: upgrade failed")
		return
	}

	q := r.URL.Query()
	speakFirst, _ := strconv.ParseBool(q.Get("speakFirst"))
	initialMessage := q.Get("initialMessage")

	provider := NewProviderConn(conn)
	session := NewSession(provider, m.dial, m.rt, m.sink, speakFirst, initialMessage, m.log)

	trackingID := uuid.NewString()
	m.register(trackingID, session)
	defer m.deregister(trackingID)

	session.Run(r.Context())
}

func (m *Manager) register(id string, s *Session) {
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
}

func (m *Manager) deregister(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}
