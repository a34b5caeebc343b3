package peerclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hubcore/domain"
)

// TestPeer_SendFile_RelayedThroughBrokerVerifiesHash drives a full S6-style
// transfer (spec.md §4.5/§4.6): peer A calls SendFile addressed to peer B,
// the broker stages and re-verifies the bytes as an intermediate hop
// (internal/broker/filetransfer.go's relayFile), and peer B's own sink
// verifies the hash again before OnFile fires.
func TestPeer_SendFile_RelayedThroughBrokerVerifiesHash(t *testing.T) {
	brokerURL, ring := newTestBrokerServer(t)
	// The broker relay stages its intermediate copy under a relative
	// "staging" directory (internal/broker/filetransfer.go); clean it up so
	// the test doesn't leave an empty directory behind in the package dir.
	t.Cleanup(func() { os.RemoveAll("staging") })

	pluginA := newRecordingPlugin()
	peerA := newPeer(t, brokerURL, ring.Current(), pluginA)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go peerA.Run(ctx)

	select {
	case <-pluginA.connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer A to connect")
	}

	pluginB := newRecordingPlugin()
	peerB := newPeer(t, brokerURL, ring.Current(), pluginB)
	go peerB.Run(ctx)

	select {
	case <-pluginB.connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer B to connect")
	}
	bServerID := peerB.waitForServerID(t)

	content := []byte("this content crosses the broker as an intermediate relay hop")
	sum := sha256.Sum256(content)
	wantHash := hex.EncodeToString(sum[:])
	savePath := filepath.Join(t.TempDir(), "received.bin")

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer sendCancel()
	to := domain.Address{ServerID: bServerID, PluginID: "app"}
	if err := peerA.SendFile(sendCtx, to, "greeting.txt", savePath, wantHash, content); err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}

	select {
	case path := <-pluginB.fileCh:
		if path != savePath {
			t.Fatalf("OnFile path = %q, want %q", path, savePath)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer B to receive the file")
	}

	got, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("received content = %q, want %q", got, content)
	}
}
