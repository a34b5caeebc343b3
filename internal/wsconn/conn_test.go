package wsconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestConn_WriteFrame_RoundTripsOverRealSocket(t *testing.T) {
	done := make(chan Frame, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		frame, readErr := conn.ReadFrame(r.Context())
		if readErr != nil {
			t.Errorf("ReadFrame() error = %v", readErr)
			return
		}
		done <- frame
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, dialErr := Dial(ctx, url)
	if dialErr != nil {
		t.Fatalf("Dial() error = %v", dialErr)
	}
	defer client.Close(websocket.StatusNormalClosure, "")

	want := Frame{Account: "A1b2C", Data: json.RawMessage(`"ciphertext"`)}
	if err := client.WriteFrame(ctx, want); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	select {
	case got := <-done:
		if got.Account != want.Account {
			t.Errorf("Account = %q, want %q", got.Account, want.Account)
		}
		if string(got.Data) != string(want.Data) {
			t.Errorf("Data = %s, want %s", got.Data, want.Data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server to read the frame")
	}
}

func TestConn_ReadFrame_MalformedJSONReturnsErrBadFrame(t *testing.T) {
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_, readErr := conn.ReadFrame(r.Context())
		result <- readErr
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, dialErr := Dial(ctx, url)
	if dialErr != nil {
		t.Fatalf("Dial() error = %v", dialErr)
	}
	defer client.Close(websocket.StatusNormalClosure, "")

	if err := client.ws.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	select {
	case err := <-result:
		if err == nil || !strings.Contains(err.Error(), "malformed frame") {
			t.Errorf("ReadFrame() error = %v, want wrapped ErrBadFrame", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for server to read the frame")
	}
}
