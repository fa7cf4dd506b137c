package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
)

// ProviderFrame is one JSON frame from the provider media stream (§6).
type ProviderFrame struct {
	Event string `json:"event"`

	Start *struct {
		CallSid  string `json:"callSid"`
		StreamSid string `json:"streamSid"`
	} `json:"start,omitempty"`

	Media *struct {
		Track     string `json:"track"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"` // base64 μ-law 8kHz
	} `json:"media,omitempty"`

	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

// ProviderConn is the provider-facing side of a bridge session, abstracted
// for testability.
type ProviderConn interface {
	ReadFrame() (ProviderFrame, error)
	SendMedia(streamSid, payloadB64 string) error
	SendMark(streamSid, name string) error
	SendClear(streamSid string) error
	Close() error
}

type wsProviderConn struct {
	conn *websocket.Conn
}

// NewProviderConn adapts an accepted websocket connection (the HTTP upgrade
// of the provider's media stream request) to ProviderConn.
func NewProviderConn(conn *websocket.Conn) ProviderConn {
	return &wsProviderConn{conn: conn}
}

func (c *wsProviderConn) ReadFrame() (ProviderFrame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return ProviderFrame{}, err
	}
	var f ProviderFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ProviderFrame{}, fmt.Errorf("decode provider frame: %w", err)
	}
	return f, nil
}

func (c *wsProviderConn) SendMedia(streamSid, payloadB64 string) error {
	return c.conn.WriteJSON(map[string]any{
		"event":     "media",
		"streamSid": streamSid,
		"media":     map[string]any{"payload": payloadB64},
	})
}

func (c *wsProviderConn) SendMark(streamSid, name string) error {
	return c.conn.WriteJSON(map[string]any{
		"event":     "mark",
		"streamSid": streamSid,
		"mark":      map[string]any{"name": name},
	})
}

// SendClear emits a "clear" marker so the caller hears a terminator when the
// session fails (§4.4 FAILED entry action).
func (c *wsProviderConn) SendClear(streamSid string) error {
	return c.conn.WriteJSON(map[string]any{
		"event":     "clear",
		"streamSid": streamSid,
	})
}

func (c *wsProviderConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
