package broker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"hubcore/domain"
	"hubcore/internal/fileshare"
)

// stagingDir holds the broker's own copy of a file while it is relayed
// between two peers, named by a fresh uuid so concurrent transfers never
// collide (SPEC_FULL.md §4.5 — the teacher has no analogue; uuid is wired
// in here specifically to name these staging files).
const stagingDir = "staging"

// handleFileBegin opens a sink for an inbound file transfer. When the
// destination is the broker itself, the sink writes straight to the
// advertised save path; when the destination is another peer, the broker
// stages the file locally and relays the same three-phase sequence onward
// once the local copy is verified.
func (s *session) handleFileBegin(ctx context.Context, pkt domain.Packet) error {
	var meta domain.FileBeginPayload
	if err := json.Unmarshal(pkt.Data.Payload, &meta); err != nil {
		return fmt.Errorf("decode file-begin payload: %w", err)
	}

	pc, ok := s.broker.connFor(s.serverID)
	if !ok {
		return fmt.Errorf("file-begin from unregistered session")
	}

	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()

	savePath := meta.SavePath
	relayTo := ""
	if pkt.To.ServerID != domain.BrokerServerID {
		relayTo = pkt.To.ServerID
		savePath = filepath.Join(stagingDir, uuid.NewString())
	}

	sink, err := fileshare.Open(savePath, meta.Hash)
	if err != nil {
		return fmt.Errorf("open file sink: %w", err)
	}
	pc.inFile = sink
	pc.inMeta = meta
	pc.relayTo = relayTo
	return nil
}

func (s *session) handleFileChunk(ctx context.Context, pkt domain.Packet) error {
	var chunk domain.FileChunkPayload
	if err := json.Unmarshal(pkt.Data.Payload, &chunk); err != nil {
		return fmt.Errorf("decode file-chunk payload: %w", err)
	}

	pc, ok := s.broker.connFor(s.serverID)
	if !ok {
		return fmt.Errorf("file-chunk from unregistered session")
	}

	pc.fileMu.Lock()
	defer pc.fileMu.Unlock()
	if pc.inFile == nil {
		return fmt.Errorf("file-chunk with no open transfer from %q", s.serverID)
	}
	return pc.inFile.WriteChunk(chunk.Chunk)
}

func (s *session) handleFileEnd(ctx context.Context, pkt domain.Packet) error {
	pc, ok := s.broker.connFor(s.serverID)
	if !ok {
		return fmt.Errorf("file-end from unregistered session")
	}

	pc.fileMu.Lock()
	sink := pc.inFile
	meta := pc.inMeta
	relayTo := pc.relayTo
	pc.inFile, pc.relayTo = nil, ""
	pc.fileMu.Unlock()

	if sink == nil {
		return fmt.Errorf("file-end with no open transfer from %q", s.serverID)
	}

	if err := sink.Finish(); err != nil {
		s.broker.logger.Printf("broker: file transfer from %q failed: %v", s.serverID, err)
		errPkt, allocErr := s.broker.alloc.Allocate(domain.TypeFileError, pkt.From, brokerAddr(), domain.ErrorPayload{Reason: "hash_mismatch"}, nil, nil)
		if allocErr != nil {
			return allocErr
		}
		return s.broker.sendPacket(ctx, s.conn, s, s.serverID, errPkt[0])
	}

	if relayTo == "" {
		s.broker.plugins.OnFile(pkt.To.PluginID, pkt.From.ServerID, sink.Path())
		return nil
	}
	return s.relayFile(ctx, sink.Path(), meta, pkt, relayTo)
}

func (s *session) handleFileError(ctx context.Context, pkt domain.Packet) error {
	pc, ok := s.broker.connFor(s.serverID)
	if ok {
		pc.fileMu.Lock()
		if pc.inFile != nil {
			pc.inFile.Abort()
			pc.inFile, pc.relayTo = nil, ""
		}
		pc.fileMu.Unlock()
	}
	s.broker.logger.Printf("broker: peer %q reported file-error", s.serverID)
	return nil
}

// relayFile replays the verified staging file to its real destination as a
// fresh file-begin/chunk/end sequence, then removes the staging copy.
func (s *session) relayFile(ctx context.Context, stagedPath string, meta domain.FileBeginPayload, pkt domain.Packet, destID string) error {
	defer os.Remove(stagedPath)

	destConn, ok := s.broker.connFor(destID)
	if !ok {
		s.broker.logger.Printf("broker: file relay destination %q not connected", destID)
		return nil
	}

	raw, err := os.ReadFile(stagedPath)
	if err != nil {
		return fmt.Errorf("read staged file: %w", err)
	}

	beginPkt, err := s.broker.alloc.Allocate(domain.TypeFileBegin, pkt.To, pkt.From, meta, nil, nil)
	if err != nil {
		return err
	}
	if err := s.broker.sendPacket(ctx, destConn.conn, destConn, destID, beginPkt[0]); err != nil {
		return err
	}

	const chunkSize = 1 << 20
	for off := 0; off < len(raw); off += chunkSize {
		end := off + chunkSize
		if end > len(raw) {
			end = len(raw)
		}
		chunkPkt, err := s.broker.alloc.Allocate(domain.TypeFileChunk, pkt.To, pkt.From, domain.FileChunkPayload{Chunk: hex.EncodeToString(raw[off:end])}, nil, nil)
		if err != nil {
			return err
		}
		if err := s.broker.sendPacket(ctx, destConn.conn, destConn, destID, chunkPkt[0]); err != nil {
			return err
		}
	}

	endPkt, err := s.broker.alloc.Allocate(domain.TypeFileEnd, pkt.To, pkt.From, nil, nil, nil)
	if err != nil {
		return err
	}
	return s.broker.sendPacket(ctx, destConn.conn, destConn, destID, endPkt[0])
}
