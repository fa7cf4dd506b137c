package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// AIConn is the AI realtime peer connection, abstracted so sessions can be
// tested without dialing a real endpoint.
type AIConn interface {
	Send(ctx context.Context, msg map[string]any) error
	Recv() (map[string]any, error)
	Close() error
}

// RealtimeConfig configures how sessions dial and configure the AI peer.
type RealtimeConfig struct {
	URL              string
	Token            string
	Voice            string
	ConnectDeadline  time.Duration // per-attempt
	MaxRetries       int           // session-level cap
	MaxErrorEvents   int
	MaxResponseTokens int
}

// AIDialer opens one AI realtime connection attempt.
type AIDialer func(ctx context.Context, cfg RealtimeConfig) (AIConn, error)

// DialRealtime opens a websocket connection to the AI realtime peer with a
// bearer credential, honoring ctx's deadline for the handshake.
func DialRealtime(ctx context.Context, cfg RealtimeConfig) (AIConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ai realtime dial: %w", err)
	}
	return &realtimeConn{conn: conn}, nil
}

type realtimeConn struct {
	conn *websocket.Conn
}

func (c *realtimeConn) Send(ctx context.Context, msg map[string]any) error {
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteJSON(msg)
}

func (c *realtimeConn) Recv() (map[string]any, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode ai message: %w", err)
	}
	return msg, nil
}

func (c *realtimeConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// connectWithRetry implements CONNECTING (§4.4): up to cfg.MaxRetries
// attempts, each bounded by cfg.ConnectDeadline, with linear backoff between
// attempts (1s after the first failure, 2s after the second, and so on; no
// wait after the last).
func connectWithRetry(ctx context.Context, dial AIDialer, cfg RealtimeConfig) (AIConn, error) {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.ConnectDeadline)
		conn, err := dial(attemptCtx, cfg)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		backoff := time.Duration(attempt) * time.Second
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("ai realtime connect exhausted %d attempts: %w", maxRetries, lastErr)
}
