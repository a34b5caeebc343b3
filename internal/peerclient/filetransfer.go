package peerclient

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"hubcore/domain"
	"hubcore/internal/fileshare"
	"hubcore/internal/wsconn"
)

// fileSink tracks one inbound file transfer's sink alongside the addresses
// needed to report it to the plugin boundary once verified.
type fileSink struct {
	sink *fileshare.Sink
	meta domain.FileBeginPayload
	to   domain.Address
	from domain.Address
}

func (p *Peer) handleFilePacket(ctx context.Context, conn *wsconn.Conn, account, key string, pkt domain.Packet) {
	switch pkt.Type {
	case domain.TypeFileBegin:
		p.startFile(pkt)
	case domain.TypeFileChunk:
		p.appendFileChunk(pkt)
	case domain.TypeFileEnd:
		p.finishFile(ctx, conn, account, key, pkt)
	case domain.TypeFileError:
		p.abortFile()
	}
}

func (p *Peer) startFile(pkt domain.Packet) {
	var meta domain.FileBeginPayload
	if err := json.Unmarshal(pkt.Data.Payload, &meta); err != nil {
		p.logger.Printf("peer: decode file-begin: %v", err)
		return
	}
	sink, err := fileshare.Open(meta.SavePath, meta.Hash)
	if err != nil {
		p.logger.Printf("peer: open file sink: %v", err)
		return
	}
	p.mu.Lock()
	p.inFile = &fileSink{sink: sink, meta: meta, to: pkt.To, from: pkt.From}
	p.mu.Unlock()
}

func (p *Peer) appendFileChunk(pkt domain.Packet) {
	var chunk domain.FileChunkPayload
	if err := json.Unmarshal(pkt.Data.Payload, &chunk); err != nil {
		p.logger.Printf("peer: decode file-chunk: %v", err)
		return
	}
	p.mu.Lock()
	f := p.inFile
	p.mu.Unlock()
	if f == nil {
		p.logger.Printf("peer: file-chunk with no open transfer")
		return
	}
	if err := f.sink.WriteChunk(chunk.Chunk); err != nil {
		p.logger.Printf("peer: write file chunk: %v", err)
	}
}

func (p *Peer) finishFile(ctx context.Context, conn *wsconn.Conn, account, key string, pkt domain.Packet) {
	p.mu.Lock()
	f := p.inFile
	p.inFile = nil
	p.mu.Unlock()
	if f == nil {
		p.logger.Printf("peer: file-end with no open transfer")
		return
	}
	if err := f.sink.Finish(); err != nil {
		p.logger.Printf("peer: file transfer failed: %v", err)
		errPkt, allocErr := p.alloc.Allocate(domain.TypeFileError, f.from, f.to, domain.ErrorPayload{Reason: "hash_mismatch"}, nil, nil)
		if allocErr == nil {
			_ = sendEncrypted(ctx, conn, account, key, errPkt[0])
		}
		return
	}
	p.plugins.OnFile(f.to.PluginID, f.from.ServerID, f.sink.Path())
}

func (p *Peer) abortFile() {
	p.mu.Lock()
	f := p.inFile
	p.inFile = nil
	p.mu.Unlock()
	if f != nil {
		f.sink.Abort()
	}
}

// SendFile drives the sender side of the three-phase transfer: file-begin
// with the precomputed hash, then 1 MiB hex-encoded chunks, then file-end.
func (p *Peer) SendFile(ctx context.Context, to domain.Address, fileName, savePath, hash string, content []byte) error {
	p.mu.Lock()
	conn := p.conn
	account := p.serverID
	key := p.accountKey
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("peer: not connected")
	}
	from := domain.Address{ServerID: account, PluginID: to.PluginID}

	beginPkt, err := p.alloc.Allocate(domain.TypeFileBegin, to, from, domain.FileBeginPayload{FileName: fileName, SavePath: savePath, Hash: hash}, nil, nil)
	if err != nil {
		return err
	}
	if err := sendEncrypted(ctx, conn, account, key, beginPkt[0]); err != nil {
		return err
	}

	const chunkSize = 1 << 20
	for off := 0; off < len(content); off += chunkSize {
		end := off + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunkPkt, err := p.alloc.Allocate(domain.TypeFileChunk, to, from, domain.FileChunkPayload{Chunk: hex.EncodeToString(content[off:end])}, nil, nil)
		if err != nil {
			return err
		}
		if err := sendEncrypted(ctx, conn, account, key, chunkPkt[0]); err != nil {
			return err
		}
	}

	endPkt, err := p.alloc.Allocate(domain.TypeFileEnd, to, from, nil, nil, nil)
	if err != nil {
		return err
	}
	return sendEncrypted(ctx, conn, account, key, endPkt[0])
}
