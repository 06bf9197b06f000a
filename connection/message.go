// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"github.com/isambard-sc/openportal/board"
	"github.com/isambard-sc/openportal/meshid"
)

// Kind discriminates the payload a Message carries across the wire.
type Kind string

const (
	// KindKeepalive carries no payload; it exists only to prove the
	// connection is alive and reset the peer's watchdog clock.
	KindKeepalive Kind = "keepalive"

	// KindDisconnect asks the peer to close the connection
	// immediately, with no further negotiation.
	KindDisconnect Kind = "disconnect"

	// KindBoardDelta carries a single Job whose local Board just
	// advanced it.
	KindBoardDelta Kind = "board_delta"

	// KindBoardSnapshot carries every Job on the sender's Board, sent
	// once immediately after the handshake completes so both sides'
	// Boards can reconcile after a reconnect.
	KindBoardSnapshot Kind = "board_snapshot"
)

// Message is the envelope that travels double-encrypted over a
// Connection: a text frame carrying the hex string produced by
// crypto.Envelope around this struct.
type Message struct {
	Sender    meshid.AgentName `json:"sender"`
	Recipient meshid.AgentName `json:"recipient"`
	Kind      Kind             `json:"kind"`
	Delta     *board.Delta     `json:"delta,omitempty"`
	Snapshot  *board.Snapshot  `json:"snapshot,omitempty"`
}

// Keepalive builds a keepalive Message between the two given agents.
func Keepalive(sender, recipient meshid.AgentName) Message {
	return Message{Sender: sender, Recipient: recipient, Kind: KindKeepalive}
}

// DisconnectMessage builds a Message asking recipient's connection to
// close immediately.
func DisconnectMessage(sender, recipient meshid.AgentName) Message {
	return Message{Sender: sender, Recipient: recipient, Kind: KindDisconnect}
}

// BoardDeltaMessage wraps a board.Delta for transmission.
func BoardDeltaMessage(sender, recipient meshid.AgentName, delta board.Delta) Message {
	return Message{Sender: sender, Recipient: recipient, Kind: KindBoardDelta, Delta: &delta}
}

// BoardSnapshotMessage wraps a board.Snapshot for transmission.
func BoardSnapshotMessage(sender, recipient meshid.AgentName, snap board.Snapshot) Message {
	return Message{Sender: sender, Recipient: recipient, Kind: KindBoardSnapshot, Snapshot: &snap}
}
