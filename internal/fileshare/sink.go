// Package fileshare implements the three-phase chunked file transport of
// spec.md §4.5/§4.6: file-begin opens a sink, file-chunk appends hex-decoded
// bytes, file-end verifies the accumulated SHA-256 against the advertised
// hash. There is no direct analogue in the teacher repo (TunGo tunnels IP
// packets, not files); the shape follows spec.md's literal three-phase
// sequence and verify_file_hash in
// original_source/connect_core/websocket/data_packet.py.
package fileshare

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Sink accumulates the bytes of one in-flight file transfer and verifies
// them against an expected SHA-256 hash once Finish is called.
type Sink struct {
	path     string
	wantHash string
	file     *os.File
	hasher   interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
}

// Open creates (or truncates) savePath and returns a Sink expecting the
// finished content to hash to wantHashHex.
func Open(savePath, wantHashHex string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(savePath), 0o700); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	f, err := os.Create(savePath)
	if err != nil {
		return nil, fmt.Errorf("create sink file: %w", err)
	}
	return &Sink{path: savePath, wantHash: wantHashHex, file: f, hasher: sha256.New()}, nil
}

// WriteChunk decodes a hex-encoded chunk payload (spec.md §4.5: "chunks are
// hex-encoded bytes, nominal 1 MiB") and appends it to both the sink file
// and the running hash.
func (s *Sink) WriteChunk(hexChunk string) error {
	raw, err := hex.DecodeString(hexChunk)
	if err != nil {
		return fmt.Errorf("decode file chunk: %w", err)
	}
	if _, err := s.file.Write(raw); err != nil {
		return fmt.Errorf("write file chunk: %w", err)
	}
	s.hasher.Write(raw)
	return nil
}

// Finish closes the sink and compares the accumulated hash against the
// expected one. On mismatch the partial file is deleted and an error is
// returned, matching spec.md §7's file-hash-mismatch policy.
func (s *Sink) Finish() error {
	closeErr := s.file.Close()
	got := hex.EncodeToString(s.hasher.Sum(nil))
	if closeErr != nil {
		_ = os.Remove(s.path)
		return fmt.Errorf("close sink file: %w", closeErr)
	}
	if got != s.wantHash {
		_ = os.Remove(s.path)
		return fmt.Errorf("file hash mismatch: got %s, want %s", got, s.wantHash)
	}
	return nil
}

// Abort closes and deletes the partial sink without hash verification, used
// when a transfer is interrupted by disconnect or a protocol error.
func (s *Sink) Abort() {
	_ = s.file.Close()
	_ = os.Remove(s.path)
}

// Path returns the destination path this sink writes to.
func (s *Sink) Path() string {
	return s.path
}
