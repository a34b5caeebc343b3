// Package peerclient implements the sub-server side of spec.md §4.6: dial
// the broker, register or log in, send keepalive pings, keep at most one
// unacknowledged data-send in flight, and dispatch inbound traffic to the
// plugin boundary. Grounded on the teacher's client-side connection loop in
// client.go / Application/client_services (dial, handshake, then a
// read/write pump for the lifetime of one connection), adapted from a
// single persistent tunnel to a reconnecting message-bus client.
package peerclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"hubcore/application"
	"hubcore/domain"
	"hubcore/internal/config"
	"hubcore/internal/crypto"
	"hubcore/internal/protocol"
	"hubcore/internal/wsconn"
)

// KeepaliveInterval is the ping/retransmit cadence while connected (spec.md
// §4.6).
const KeepaliveInterval = 30 * time.Second

// ReconnectDelay is the fixed backoff between dial attempts. spec.md §4.6
// mandates unbounded retry with no cap, unlike the teacher's
// exponential-backoff-with-max-attempts connector.
const ReconnectDelay = 1 * time.Second

// Peer is the sub-server runtime: one at a time, it owns a single
// connection to the broker. Of the mutable state below mu, conn, serverID,
// accountKey and members are replaced on every reconnect; lastSent and
// inFile are not reset and carry over to the next connection.
type Peer struct {
	brokerURL    string
	bootstrapKey string
	logger       application.Logger
	plugins      application.PluginEvents
	cfgMgr       *config.Manager
	alloc        *protocol.Allocator

	mu         sync.Mutex
	conn       *wsconn.Conn
	serverID   string
	accountKey string
	lastSent   *domain.Packet
	inFile     *fileSink
	members    []string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New constructs a Peer dialing brokerURL (e.g. "ws://host:port/ws").
// bootstrapKey is the operator-supplied rotating key (spec.md §4.3's
// human-copy transport) used only the first time, to register; it is
// ignored once config.json already carries an account.
func New(brokerURL, bootstrapKey string, cfgMgr *config.Manager, logger application.Logger, plugins application.PluginEvents) *Peer {
	return &Peer{
		brokerURL:    brokerURL,
		bootstrapKey: bootstrapKey,
		logger:       logger,
		plugins:      plugins,
		cfgMgr:       cfgMgr,
		alloc:        protocol.NewAllocator(protocol.ModePeer),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run dials and re-dials the broker until Close is called, blocking the
// calling goroutine.
func (p *Peer) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := p.runOnce(ctx); err != nil {
			p.logger.Printf("peer: connection ended: %v", err)
		}
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

// Close stops the reconnect loop and waits for Run to return.
func (p *Peer) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Peer) runOnce(ctx context.Context) error {
	conn, err := wsconn.Dial(ctx, p.brokerURL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	cfg, err := p.cfgMgr.Configuration()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if !cfg.Registered() {
		if err := p.register(ctx, conn); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		cfg, err = p.cfgMgr.Configuration()
		if err != nil {
			return fmt.Errorf("reload configuration after register: %w", err)
		}
	}

	p.mu.Lock()
	p.serverID = cfg.Account
	p.accountKey = cfg.Password
	p.mu.Unlock()

	members, err := p.login(ctx, conn, cfg.Account, cfg.Password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	p.mu.Lock()
	p.members = members
	p.mu.Unlock()
	p.plugins.OnConnected()
	p.plugins.OnLoginSet(members)
	defer p.plugins.OnDisconnected()

	// The keepalive ticker and the inbound read loop are two independent
	// failure points on the same socket; whichever errs first should tear
	// down the other and runOnce should report that error, which is exactly
	// errgroup.Group's contract.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		p.keepaliveLoop(groupCtx, conn, cfg.Account, cfg.Password)
		if groupCtx.Err() == nil {
			return errors.New("peer: keepalive stopped")
		}
		return nil
	})
	group.Go(func() error {
		return p.readLoop(groupCtx, conn, cfg.Account, cfg.Password)
	})
	return group.Wait()
}

func (p *Peer) keepaliveLoop(ctx context.Context, conn *wsconn.Conn, account, key string) {
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			last := p.lastSent
			p.mu.Unlock()
			if last != nil {
				if err := sendEncrypted(ctx, conn, account, key, *last); err != nil {
					p.logger.Printf("peer: keepalive resend failed: %v", err)
					return
				}
			}
			ping := domain.Packet{
				Type: domain.TypePing, Sid: -1,
				To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
				From: domain.Address{ServerID: account, PluginID: domain.SystemPluginID},
				Data: domain.Data{Empty: true},
			}
			if err := sendEncrypted(ctx, conn, account, key, ping); err != nil {
				p.logger.Printf("peer: ping failed: %v", err)
				return
			}
		}
	}
}

func (p *Peer) readLoop(ctx context.Context, conn *wsconn.Conn, account, key string) error {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		var token string
		if err := json.Unmarshal(frame.Data, &token); err != nil {
			p.logger.Printf("peer: malformed frame envelope: %v", err)
			continue
		}
		plaintext, err := crypto.Decrypt(token, key)
		if err != nil {
			p.logger.Printf("peer: decrypt failed: %v", err)
			continue
		}
		var pkt domain.Packet
		if err := json.Unmarshal(plaintext, &pkt); err != nil {
			p.logger.Printf("peer: malformed packet: %v", err)
			continue
		}
		if !p.alloc.RecordRecv(domain.BrokerServerID, pkt) {
			continue
		}
		p.handlePacket(ctx, conn, account, key, pkt)
	}
}

func (p *Peer) handlePacket(ctx context.Context, conn *wsconn.Conn, account, key string, pkt domain.Packet) {
	switch pkt.Type {
	case domain.TypePong:
		return

	case domain.TypeNewLogin:
		var membership domain.MembershipPayload
		if err := json.Unmarshal(pkt.Data.Payload, &membership); err != nil {
			p.logger.Printf("peer: malformed new-login payload: %v", err)
			return
		}
		p.plugins.OnLoginSet(p.addMember(membership.ServerID))

	case domain.TypeDelLogin:
		var membership domain.MembershipPayload
		if err := json.Unmarshal(pkt.Data.Payload, &membership); err != nil {
			p.logger.Printf("peer: malformed del-login payload: %v", err)
			return
		}
		p.plugins.OnLogoutSet(p.removeMember(membership.ServerID))

	case domain.TypeDataSendOK:
		p.mu.Lock()
		p.lastSent = nil
		p.mu.Unlock()

	case domain.TypeDataError:
		p.mu.Lock()
		last := p.lastSent
		p.mu.Unlock()
		if last != nil {
			if err := sendEncrypted(ctx, conn, account, key, *last); err != nil {
				p.logger.Printf("peer: resend after data-error failed: %v", err)
			}
		}

	case domain.TypeDataSend:
		p.plugins.OnData(pkt.To.PluginID, pkt.From.ServerID, pkt.Data.Payload)
		ok, err := p.alloc.Allocate(domain.TypeDataSendOK, pkt.From, domain.Address{ServerID: account, PluginID: pkt.To.PluginID}, nil, nil, nil)
		if err == nil {
			_ = sendEncrypted(ctx, conn, account, key, ok[0])
		}

	case domain.TypeFileBegin, domain.TypeFileChunk, domain.TypeFileEnd, domain.TypeFileError:
		p.handleFilePacket(ctx, conn, account, key, pkt)

	default:
		p.logger.Printf("peer: ignoring unhandled packet type %v", pkt.Type)
	}
}

// Send submits a data-send to destination addr with the given plugin
// payload, blocking until the single in-flight slot is free (spec.md
// §4.6's "at most one un-acked data-send at a time").
func (p *Peer) Send(ctx context.Context, to domain.Address, payload any) error {
	p.mu.Lock()
	for p.lastSent != nil {
		p.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		p.mu.Lock()
	}
	conn := p.conn
	account := p.serverID
	key := p.accountKey
	if conn == nil {
		p.mu.Unlock()
		return errors.New("peer: not connected")
	}

	packets, err := p.alloc.Allocate(domain.TypeDataSend, to, domain.Address{ServerID: account, PluginID: to.PluginID}, payload, nil, nil)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	pkt := packets[0]
	p.lastSent = &pkt
	p.mu.Unlock()

	return sendEncrypted(ctx, conn, account, key, pkt)
}

// addMember and removeMember keep Peer's local membership view in sync with
// the broker's new-login/del-login broadcasts and return the updated
// snapshot to pass to OnLoginSet/OnLogoutSet.
func (p *Peer) addMember(serverID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.members {
		if id == serverID {
			return append([]string(nil), p.members...)
		}
	}
	p.members = append(p.members, serverID)
	return append([]string(nil), p.members...)
}

func (p *Peer) removeMember(serverID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range p.members {
		if id == serverID {
			p.members = append(p.members[:i], p.members[i+1:]...)
			break
		}
	}
	return append([]string(nil), p.members...)
}

func sendEncrypted(ctx context.Context, conn *wsconn.Conn, account, key string, p domain.Packet) error {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return err
	}
	token, err := crypto.Encrypt(plaintext, key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return conn.WriteFrame(ctx, wsconn.Frame{Account: account, Data: data})
}
