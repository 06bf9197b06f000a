// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"encoding/hex"
	"fmt"
	"net"

	"github.com/isambard-sc/openportal/crypto"
	"github.com/isambard-sc/openportal/invitation"
	"github.com/isambard-sc/openportal/meshid"
)

// clientHello is message 1 of the handshake, double-encrypted under
// the invitation's outer and inner keys.
type clientHello struct {
	ClientName       string        `json:"client_name"`
	ClientSessionKey string        `json:"client_session_key_fresh"`
	ProtocolVersion  int           `json:"protocol_version"`
	EngineVersion    int           `json:"agent_engine_version"`
	ZoneSet          []meshid.Zone `json:"zone_set"`
}

// serverHello is message 3, double-encrypted under the invitation's
// outer key and the client's freshly presented session key.
type serverHello struct {
	ServerName       string           `json:"server_name"`
	ServerSessionKey string           `json:"server_session_key_fresh"`
	ProtocolVersion  int              `json:"protocol_version"`
	EngineVersion    int              `json:"agent_engine_version"`
	AgentType        meshid.AgentType `json:"agent_type"`
	AcceptedZone     meshid.Zone      `json:"accepted_zone"`
}

// HandshakeParams carries the local side's identity and minimum
// version requirements, common to both client and server handshakes.
type HandshakeParams struct {
	LocalName          meshid.AgentName
	LocalType          meshid.AgentType
	LocalZones         meshid.ZoneSet
	MinProtocolVersion int
	MinEngineVersion   int
}

// Result is what a completed handshake hands back to the caller: a
// ready-to-use Connection plus everything learned about the peer.
type Result struct {
	Conn     *Connection
	PeerName meshid.AgentName
	PeerType meshid.AgentType
	PeerZone meshid.Zone
}

// ClientHandshake drives the four-message sequence as the client,
// using inv's keys. On success it returns a Connection holding the
// negotiated session keys as (outer, inner).
func ClientHandshake(conn wsConn, inv *invitation.Invitation, params HandshakeParams, opts ...Option) (*Result, error) {
	succeeded := false
	defer func() {
		if !succeeded {
			conn.Close()
		}
	}()

	sessionKey, err := crypto.Generate()
	if err != nil {
		return nil, fmt.Errorf("connection: generating client session key: %w", err)
	}

	hello := clientHello{
		ClientName:       inv.ClientName,
		ClientSessionKey: hexKey(sessionKey),
		ProtocolVersion:  ProtocolVersion,
		EngineVersion:    EngineVersion,
		ZoneSet:          params.LocalZones.List(),
	}
	payload, err := crypto.Envelope(inv.OuterKey, inv.InnerKey, hello)
	if err != nil {
		sessionKey.Close()
		return nil, fmt.Errorf("connection: sealing client hello: %w", err)
	}
	if err := conn.WriteMessage(textMessage, []byte(payload)); err != nil {
		sessionKey.Close()
		return nil, fmt.Errorf("%w: sending client hello: %v", ErrTransport, err)
	}

	frame, err := readFrame(conn)
	if err != nil {
		sessionKey.Close()
		return nil, err
	}

	var reply serverHello
	if err := crypto.Open(inv.OuterKey, sessionKey, frame, &reply); err != nil {
		sessionKey.Close()
		return nil, fmt.Errorf("%w: opening server hello: %v", ErrCrypto, err)
	}

	if reply.ProtocolVersion < params.MinProtocolVersion || reply.EngineVersion < params.MinEngineVersion {
		sessionKey.Close()
		return nil, ErrHandshakeVersion
	}
	if reply.ServerName != inv.ServerName {
		sessionKey.Close()
		return nil, ErrHandshakeRejected
	}
	if !params.LocalZones.Contains(reply.AcceptedZone) {
		sessionKey.Close()
		return nil, ErrHandshakeZone
	}

	serverKey, err := hexToKey(reply.ServerSessionKey)
	if err != nil {
		sessionKey.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
	}

	succeeded = true
	c := newConnection(conn, serverKey, sessionKey, params.LocalName, meshid.AgentName(reply.ServerName), opts...)
	return &Result{Conn: c, PeerName: meshid.AgentName(reply.ServerName), PeerType: reply.AgentType, PeerZone: reply.AcceptedZone}, nil
}

// ServerHandshake accepts an inbound connection as the server. It
// tries each Invitation whose AllowedRange contains remoteIP, in
// order, opening the first message with that invitation's keys.
// alreadyConnected reports whether the exchange already holds a
// connection to a given client name, to reject duplicates. On any
// failure the socket is closed without sending the peer anything. The
// returned error is for local logging: ErrHandshakeRejected when no
// in-range invitation opens the hello or a session key is malformed,
// ErrDuplicateConnection, ErrHandshakeVersion or ErrHandshakeZone for
// those checks, and an ErrTransport-wrapped error for socket failures.
func ServerHandshake(conn wsConn, remoteIP net.IP, invitations []*invitation.Invitation, params HandshakeParams, alreadyConnected func(meshid.AgentName) bool, opts ...Option) (*Result, error) {
	succeeded := false
	defer func() {
		if !succeeded {
			conn.Close()
		}
	}()

	frame, err := readFrame(conn)
	if err != nil {
		return nil, err
	}

	var candidate *invitation.Invitation
	var hello clientHello
	for _, inv := range invitations {
		if !inv.AllowsIP(remoteIP) {
			continue
		}
		var attempt clientHello
		if err := crypto.Open(inv.OuterKey, inv.InnerKey, frame, &attempt); err != nil {
			continue
		}
		if attempt.ClientName != inv.ClientName {
			continue
		}
		candidate, hello = inv, attempt
		break
	}
	if candidate == nil {
		return nil, ErrHandshakeRejected
	}
	if alreadyConnected != nil && alreadyConnected(meshid.AgentName(hello.ClientName)) {
		return nil, ErrDuplicateConnection
	}
	if hello.ProtocolVersion < params.MinProtocolVersion || hello.EngineVersion < params.MinEngineVersion {
		return nil, ErrHandshakeVersion
	}

	clientZones := meshid.NewZoneSet(hello.ZoneSet...)
	if !params.LocalZones.Overlaps(clientZones) {
		return nil, ErrHandshakeZone
	}
	var acceptedZone meshid.Zone
	for _, z := range params.LocalZones.List() {
		if clientZones.Contains(z) {
			acceptedZone = z
			break
		}
	}

	clientKey, err := hexToKey(hello.ClientSessionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
	}

	serverKey, err := crypto.Generate()
	if err != nil {
		clientKey.Close()
		return nil, fmt.Errorf("connection: generating server session key: %w", err)
	}

	reply := serverHello{
		ServerName:       candidate.ServerName,
		ServerSessionKey: hexKey(serverKey),
		ProtocolVersion:  ProtocolVersion,
		EngineVersion:    EngineVersion,
		AgentType:        params.LocalType,
		AcceptedZone:     acceptedZone,
	}
	payload, err := crypto.Envelope(candidate.OuterKey, clientKey, reply)
	if err != nil {
		clientKey.Close()
		serverKey.Close()
		return nil, fmt.Errorf("connection: sealing server hello: %w", err)
	}
	if err := conn.WriteMessage(textMessage, []byte(payload)); err != nil {
		clientKey.Close()
		serverKey.Close()
		return nil, fmt.Errorf("%w: sending server hello: %v", ErrTransport, err)
	}

	succeeded = true
	c := newConnection(conn, serverKey, clientKey, params.LocalName, meshid.AgentName(hello.ClientName), opts...)
	return &Result{Conn: c, PeerName: meshid.AgentName(hello.ClientName), PeerZone: acceptedZone}, nil
}

func hexKey(k *crypto.Key) string {
	return hex.EncodeToString(k.Bytes())
}

func hexToKey(s string) (*crypto.Key, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding session key: %w", err)
	}
	return crypto.FromBytes(raw)
}
