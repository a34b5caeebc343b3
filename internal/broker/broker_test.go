package broker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hubcore/application"
	"hubcore/domain"
	"hubcore/internal/config"
	"hubcore/internal/crypto"
	"hubcore/internal/wsconn"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Printf(format string, v ...any) { l.t.Logf(format, v...) }

// testClient is a minimal hand-rolled peer used only to exercise the
// broker from the outside, independent of the real peerclient package.
type testClient struct {
	t    *testing.T
	conn *wsconn.Conn
	key  string
}

func dialTestClient(t *testing.T, url, account, key string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := wsconn.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	return &testClient{t: t, conn: conn, key: key}
}

func (c *testClient) send(ctx context.Context, account string, p domain.Packet) {
	c.t.Helper()
	plaintext, err := json.Marshal(p)
	if err != nil {
		c.t.Fatalf("marshal packet: %v", err)
	}
	token, err := crypto.Encrypt(plaintext, c.key)
	if err != nil {
		c.t.Fatalf("encrypt: %v", err)
	}
	data, err := json.Marshal(token)
	if err != nil {
		c.t.Fatalf("marshal token: %v", err)
	}
	if err := c.conn.WriteFrame(ctx, wsconn.Frame{Account: account, Data: data}); err != nil {
		c.t.Fatalf("WriteFrame() error = %v", err)
	}
}

func (c *testClient) recv(ctx context.Context) domain.Packet {
	c.t.Helper()
	frame, err := c.conn.ReadFrame(ctx)
	if err != nil {
		c.t.Fatalf("ReadFrame() error = %v", err)
	}
	var token string
	if err := json.Unmarshal(frame.Data, &token); err != nil {
		c.t.Fatalf("unmarshal token envelope: %v", err)
	}
	plaintext, err := crypto.Decrypt(token, c.key)
	if err != nil {
		c.t.Fatalf("decrypt: %v", err)
	}
	var pkt domain.Packet
	if err := json.Unmarshal(plaintext, &pkt); err != nil {
		c.t.Fatalf("unmarshal packet: %v", err)
	}
	return pkt
}

func newTestBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	accounts, err := config.NewAccountStore(config.NewDefaultResolver(t.TempDir(), "account.json"))
	if err != nil {
		t.Fatalf("NewAccountStore() error = %v", err)
	}
	ring, err := crypto.NewBootstrapKeyRing()
	if err != nil {
		t.Fatalf("NewBootstrapKeyRing() error = %v", err)
	}
	t.Cleanup(ring.Close)

	b := New(accounts, ring, testLogger{t}, application.NoopPluginEvents{})
	b.Run()
	t.Cleanup(b.Close)

	srv := httptest.NewServer(b.Router())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return b, url
}

func TestBroker_RegisterThenLogin_Succeeds(t *testing.T) {
	b, url := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bootKey := b.bootstrap.Raw()
	client := dialTestClient(t, url, domain.BrokerServerID, bootKey)
	defer client.conn.Close(1000, "")

	client.send(ctx, domain.BrokerServerID, domain.Packet{
		Type: domain.TypeRegister,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
		From: domain.Address{ServerID: "", PluginID: "app"},
		Data: domain.Data{Empty: true},
	})
	reply := client.recv(ctx)
	if reply.Type != domain.TypeRegistered {
		t.Fatalf("reply.Type = %v, want TypeRegistered", reply.Type)
	}
	var account domain.Account
	if err := json.Unmarshal(reply.Data.Payload, &account); err != nil {
		t.Fatalf("unmarshal account: %v", err)
	}
	if account.ServerID == "" || account.Key == "" {
		t.Fatalf("account = %+v, want populated fields", account)
	}

	loginClient := dialTestClient(t, url, account.ServerID, account.Key)
	defer loginClient.conn.Close(1000, "")
	loginClient.send(ctx, account.ServerID, domain.Packet{
		Type: domain.TypeLogin,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
		From: domain.Address{ServerID: account.ServerID, PluginID: "app"},
		Data: domain.Data{Empty: true},
	})
	loggedIn := loginClient.recv(ctx)
	if loggedIn.Type != domain.TypeLoggedIn {
		t.Fatalf("loggedIn.Type = %v, want TypeLoggedIn", loggedIn.Type)
	}
}

func TestBroker_DuplicateLogin_IsRejected(t *testing.T) {
	b, url := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	account, err := b.accounts.Register()
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	first := dialTestClient(t, url, account.ServerID, account.Key)
	defer first.conn.Close(1000, "")
	loginPkt := domain.Packet{
		Type: domain.TypeLogin,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
		From: domain.Address{ServerID: account.ServerID, PluginID: "app"},
		Data: domain.Data{Empty: true},
	}
	first.send(ctx, account.ServerID, loginPkt)
	if got := first.recv(ctx); got.Type != domain.TypeLoggedIn {
		t.Fatalf("first login reply = %v, want TypeLoggedIn", got.Type)
	}

	second := dialTestClient(t, url, account.ServerID, account.Key)
	defer second.conn.Close(1000, "")
	second.send(ctx, account.ServerID, loginPkt)
	got := second.recv(ctx)
	if got.Type != domain.TypeLoginError {
		t.Fatalf("second login reply = %v, want TypeLoginError", got.Type)
	}
}

func TestBroker_DataSend_ChecksumMismatchRepliesDataError(t *testing.T) {
	b, url := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	account, err := b.accounts.Register()
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	client := dialTestClient(t, url, account.ServerID, account.Key)
	defer client.conn.Close(1000, "")
	client.send(ctx, account.ServerID, domain.Packet{
		Type: domain.TypeLogin,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
		From: domain.Address{ServerID: account.ServerID, PluginID: "app"},
		Data: domain.Data{Empty: true},
	})
	client.recv(ctx)

	client.send(ctx, account.ServerID, domain.Packet{
		Sid:  1,
		Type: domain.TypeDataSend,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: "app"},
		From: domain.Address{ServerID: account.ServerID, PluginID: "app"},
		Data: domain.Data{Payload: json.RawMessage(`"hi"`), Checksum: "not-a-real-checksum"},
	})
	got := client.recv(ctx)
	if got.Type != domain.TypeDataError {
		t.Fatalf("reply.Type = %v, want TypeDataError", got.Type)
	}
}
