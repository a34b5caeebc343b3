package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"hubcore/domain"
	"hubcore/internal/crypto"
	"hubcore/internal/wsconn"
)

// keyFor returns the symmetric key that must be used to encrypt/decrypt a
// frame addressed under account. The reserved bootstrap account uses the
// broker's rotating bootstrap key (spec.md §4.3); any other value must name
// a registered account.
func (b *Broker) keyFor(account string) (string, bool) {
	if account == domain.BrokerServerID {
		return b.bootstrap.Raw(), true
	}
	return b.accounts.Lookup(account)
}

// decodeFrame decrypts frame under the key for frame.Account and parses the
// resulting plaintext as a Packet.
func (b *Broker) decodeFrame(frame wsconn.Frame) (domain.Packet, error) {
	key, ok := b.keyFor(frame.Account)
	if !ok {
		return domain.Packet{}, fmt.Errorf("unknown account %q", frame.Account)
	}
	var token string
	if err := json.Unmarshal(frame.Data, &token); err != nil {
		return domain.Packet{}, fmt.Errorf("decode ciphertext envelope: %w", err)
	}
	plaintext, err := crypto.Decrypt(token, key)
	if err != nil {
		return domain.Packet{}, err
	}
	var pkt domain.Packet
	if err := json.Unmarshal(plaintext, &pkt); err != nil {
		return domain.Packet{}, fmt.Errorf("decode packet: %w", err)
	}
	return pkt, nil
}

// encodeFrame encrypts p under the key for account and wraps it in the
// {"account","data"} envelope.
func (b *Broker) encodeFrame(account, key string, p domain.Packet) (wsconn.Frame, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return wsconn.Frame{}, err
	}
	token, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return wsconn.Frame{}, err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return wsconn.Frame{}, err
	}
	return wsconn.Frame{Account: account, Data: data}, nil
}

// sendPacket encrypts and writes p to conn under account's key, serialized
// against concurrent writers on the same socket by writeMu.
func (b *Broker) sendPacket(ctx context.Context, conn *wsconn.Conn, writeMu lockable, account string, p domain.Packet) error {
	key, ok := b.keyFor(account)
	if !ok {
		return fmt.Errorf("sendPacket: unknown account %q", account)
	}
	frame, err := b.encodeFrame(account, key, p)
	if err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	return conn.WriteFrame(ctx, frame)
}

// lockable is the subset of sync.Mutex sendPacket needs, so callers can pass
// either a *peerConn or a *session, each of which exposes its socket's
// write lock through Lock/Unlock.
type lockable interface {
	Lock()
	Unlock()
}
