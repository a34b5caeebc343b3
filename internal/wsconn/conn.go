// Package wsconn wraps github.com/coder/websocket with the wire framing of
// spec.md §4.4 and §6: every message is a single text or binary WebSocket
// frame carrying one JSON object, {"account": "...", "data": ...}. It is
// grounded on infrastructure/network/ws/{contracts,adapter,server}.go in
// the teacher repo, trimmed from a net.Conn adaptation layer (the teacher
// tunnels an arbitrary byte stream; this module only ever exchanges whole
// framed messages) down to direct Read/Write-frame calls.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/coder/websocket"
)

// Frame is the outer envelope of every WebSocket message (spec.md §6).
// Data is either a base64 ciphertext string or, only during the initial
// register exchange, a plaintext Packet object — both are valid JSON
// values, so it is carried as RawMessage and interpreted by the caller.
type Frame struct {
	Account string          `json:"account"`
	Data    json.RawMessage `json:"data"`
}

// Close reasons embedded in the spec's close codes (spec.md §6).
const (
	ReasonBadFrame       = "400"
	ReasonAlreadyLoginIn = "401"
	ReasonInternal       = "500"
)

// Conn is a single WebSocket connection exchanging Frames.
type Conn struct {
	ws *websocket.Conn
}

// New wraps an already-established *websocket.Conn.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadFrame blocks for the next frame, decoding its JSON envelope.
func (c *Conn) ReadFrame(ctx context.Context) (Frame, error) {
	_, reader, err := c.ws.Reader(ctx)
	if err != nil {
		return Frame{}, err
	}
	raw, readErr := io.ReadAll(reader)
	if readErr != nil {
		return Frame{}, readErr
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return frame, nil
}

// WriteFrame serializes and sends frame as a single text message.
func (c *Conn) WriteFrame(ctx context.Context, frame Frame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, raw)
}

// Close closes the connection with the given status code and reason
// (spec.md §6's close-code table).
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// ErrBadFrame marks a frame that failed to decode as {"account","data"}
// JSON — the transport-level trigger for a 1008/400 close.
var ErrBadFrame = errors.New("wsconn: malformed frame")

// CloseStatus extracts the WebSocket close code/reason from err, if err
// wraps a *websocket.CloseError. Used by callers translating read errors
// into spec.md's failure semantics (§4.5, §4.6).
func CloseStatus(err error) (code websocket.StatusCode, reason string, ok bool) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason, true
	}
	return 0, "", false
}
