// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import "errors"

var (
	// ErrTransport wraps a websocket read/write failure.
	ErrTransport = errors.New("connection: transport failure")

	// ErrCrypto wraps an envelope decrypt/authentication failure on
	// an inbound frame.
	ErrCrypto = errors.New("connection: decrypt failure")

	// ErrMalformed is returned when an inbound frame decodes but its
	// JSON shape is not a valid Message, or when an outbound Message's
	// plaintext exceeds MaxPayloadSize.
	ErrMalformed = errors.New("connection: malformed message")

	// ErrPeerGone is returned when the watchdog or a Disconnect
	// control frame closes the connection.
	ErrPeerGone = errors.New("connection: peer gone")

	// ErrDuplicateConnection is returned by a server-side handshake
	// when it already holds a connection to the claimed client name.
	ErrDuplicateConnection = errors.New("connection: duplicate connection for this client name")

	// ErrHandshakeVersion is returned when the peer's protocol or
	// agent-engine version is incompatible with the minimum this side
	// requires.
	ErrHandshakeVersion = errors.New("connection: incompatible handshake version")

	// ErrHandshakeZone is returned when a handshake completes but
	// neither side's zone set overlaps.
	ErrHandshakeZone = errors.New("connection: no zone overlap")

	// ErrHandshakeRejected covers every other handshake precondition
	// failure (bad range, wrong name, bad ciphertext) — deliberately
	// undifferentiated so a hostile peer learns nothing from which
	// check failed.
	ErrHandshakeRejected = errors.New("connection: handshake rejected")

	// ErrClosed is returned by Send once the connection has been
	// closed, and is the reason Err reports after Close(nil).
	ErrClosed = errors.New("connection: closed")
)
