package peerclient

import (
	"context"
	"encoding/json"
	"fmt"

	"hubcore/domain"
	"hubcore/internal/crypto"
	"hubcore/internal/wsconn"
)

// register exchanges one (2,0)/(2,1) pair under the bootstrap key and
// persists the resulting account to config.json, so every subsequent
// runOnce logs in instead (spec.md §4.3, §4.6).
func (p *Peer) register(ctx context.Context, conn *wsconn.Conn) error {
	reqPkt := domain.Packet{
		Type: domain.TypeRegister,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
		From: domain.Address{ServerID: "", PluginID: domain.SystemPluginID},
		Data: domain.Data{Empty: true},
	}
	if err := sendEncrypted(ctx, conn, domain.BrokerServerID, p.bootstrapKey, reqPkt); err != nil {
		return err
	}

	frame, err := conn.ReadFrame(ctx)
	if err != nil {
		return err
	}
	var token string
	if err := json.Unmarshal(frame.Data, &token); err != nil {
		return fmt.Errorf("decode register reply envelope: %w", err)
	}
	plaintext, err := crypto.Decrypt(token, p.bootstrapKey)
	if err != nil {
		return err
	}
	var reply domain.Packet
	if err := json.Unmarshal(plaintext, &reply); err != nil {
		return fmt.Errorf("decode register reply packet: %w", err)
	}
	if reply.Type == domain.TypeRegisterError {
		var reason domain.ErrorPayload
		_ = json.Unmarshal(reply.Data.Payload, &reason)
		return fmt.Errorf("broker refused registration: %s", reason.Reason)
	}
	if reply.Type != domain.TypeRegistered {
		return fmt.Errorf("unexpected reply type %v to register", reply.Type)
	}

	var account domain.Account
	if err := json.Unmarshal(reply.Data.Payload, &account); err != nil {
		return fmt.Errorf("decode account payload: %w", err)
	}
	return p.cfgMgr.SetAccount(account.ServerID, account.Key)
}

// login exchanges one (3,0)/(3,1) pair under the peer's own account key. The
// returned members are the broker's full membership snapshot at login time
// (domain.LoggedInPayload.Members), used to seed the peer's own membership
// view before any later new-login/del-login broadcast updates it.
func (p *Peer) login(ctx context.Context, conn *wsconn.Conn, account, key string) ([]string, error) {
	reqPkt := domain.Packet{
		Type: domain.TypeLogin,
		To:   domain.Address{ServerID: domain.BrokerServerID, PluginID: domain.SystemPluginID},
		From: domain.Address{ServerID: account, PluginID: domain.SystemPluginID},
		Data: domain.Data{Empty: true},
	}
	if err := sendEncrypted(ctx, conn, account, key, reqPkt); err != nil {
		return nil, err
	}

	frame, err := conn.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	var token string
	if err := json.Unmarshal(frame.Data, &token); err != nil {
		return nil, fmt.Errorf("decode login reply envelope: %w", err)
	}
	plaintext, err := crypto.Decrypt(token, key)
	if err != nil {
		return nil, err
	}
	var reply domain.Packet
	if err := json.Unmarshal(plaintext, &reply); err != nil {
		return nil, fmt.Errorf("decode login reply packet: %w", err)
	}
	if reply.Type == domain.TypeLoginError {
		var reason domain.ErrorPayload
		_ = json.Unmarshal(reply.Data.Payload, &reason)
		return nil, fmt.Errorf("broker refused login: %s", reason.Reason)
	}
	if reply.Type != domain.TypeLoggedIn {
		return nil, fmt.Errorf("unexpected reply type %v to login", reply.Type)
	}
	var loggedIn domain.LoggedInPayload
	if err := json.Unmarshal(reply.Data.Payload, &loggedIn); err != nil {
		return nil, fmt.Errorf("decode logged-in payload: %w", err)
	}
	return loggedIn.Members, nil
}
