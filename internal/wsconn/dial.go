package wsconn

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Accept upgrades an HTTP request to a WebSocket connection, grounded on
// infrastructure/network/ws/server/upgrader.go's DefaultUpgrader.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}

// Dial connects to url (e.g. "ws://host:port/ws").
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, err
	}
	return New(ws), nil
}
