// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package exchange holds the process-wide registry of peer
// connections: one entry per AgentName, message routing by recipient
// name, and a single handler dispatched with both inbound Messages and
// synthesized Connected/Disconnected events as a peer's Connection
// comes and goes. Registration bookkeeping follows the same
// RWMutex-guarded map shape used throughout this codebase for shared,
// concurrently-read state.
package exchange

import (
	"sync"

	"github.com/isambard-sc/openportal/connection"
	"github.com/isambard-sc/openportal/meshid"
)

// EventKind discriminates what an Event carries.
type EventKind string

const (
	// EventMessage carries an inbound Message decrypted off the wire.
	EventMessage EventKind = "message"

	// EventConnected is synthesized the moment a peer is registered.
	// Never wire-transmitted.
	EventConnected EventKind = "connected"

	// EventDisconnected is synthesized the moment a peer's Connection
	// closes for any reason. Never wire-transmitted.
	EventDisconnected EventKind = "disconnected"
)

// Event is what Exchange hands to the registered Handler: either a
// real inbound Message, or a locally synthesized connection lifecycle
// notification.
type Event struct {
	Kind     EventKind
	Peer     meshid.AgentName
	PeerType meshid.AgentType
	Message  connection.Message
}

// Handler processes one Event. It must not block — Exchange calls it
// on the dispatch goroutine of the Connection that produced the event,
// so a slow handler delays only that one peer's further delivery, but
// a handler that never returns stalls that peer forever.
type Handler func(Event)

// peer is what Exchange tracks per registered connection.
type peer struct {
	conn *connection.Connection
	typ  meshid.AgentType
}

// Exchange is the process-wide AgentName -> Connection registry. All
// exported methods are safe for concurrent use.
type Exchange struct {
	mu      sync.RWMutex
	peers   map[meshid.AgentName]*peer
	handler Handler
}

// New creates an empty Exchange. SetHandler must be called before
// Register for events to actually be delivered anywhere; an Exchange
// with no handler silently drops every Event.
func New() *Exchange {
	return &Exchange{peers: make(map[meshid.AgentName]*peer)}
}

// SetHandler installs the single handler invoked for every Event.
// Overwrites any previously installed handler; intended to be called
// once during startup, before any connection registers.
func (e *Exchange) SetHandler(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// Register adds conn under name, rejecting a duplicate name, then
// spawns the goroutine that fires EventConnected, forwards conn's
// Inbox as EventMessage, and fires EventDisconnected plus Unregister
// once conn closes.
func (e *Exchange) Register(name meshid.AgentName, conn *connection.Connection, agentType meshid.AgentType) error {
	e.mu.Lock()
	if _, exists := e.peers[name]; exists {
		e.mu.Unlock()
		return ErrDuplicatePeer
	}
	e.peers[name] = &peer{conn: conn, typ: agentType}
	e.mu.Unlock()

	go e.dispatch(name, conn, agentType)
	return nil
}

// Unregister removes name from the registry without touching its
// Connection. Register's dispatch goroutine calls this itself once the
// Connection closes; callers evicting a peer for another reason should
// also close its Connection so the dispatch goroutine doesn't leak.
func (e *Exchange) Unregister(name meshid.AgentName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peers, name)
}

// Get returns the Connection registered under name, if any.
func (e *Exchange) Get(name meshid.AgentName) (*connection.Connection, meshid.AgentType, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.peers[name]
	if !ok {
		return nil, "", false
	}
	return p.conn, p.typ, true
}

// GetAll returns the names of every currently registered peer of the
// given type, in unspecified order. Pollers use this to wait for a
// specific role to appear (e.g. a Portal waiting for its Instance).
func (e *Exchange) GetAll(t meshid.AgentType) []meshid.AgentName {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var names []meshid.AgentName
	for name, p := range e.peers {
		if p.typ == t {
			names = append(names, name)
		}
	}
	return names
}

// Send looks up message.Recipient and enqueues message on its
// Connection's outbox. Returns ErrNoSuchPeer if no connection to the
// recipient is currently registered.
func (e *Exchange) Send(message connection.Message) error {
	e.mu.RLock()
	p, ok := e.peers[message.Recipient]
	e.mu.RUnlock()
	if !ok {
		return ErrNoSuchPeer
	}
	return p.conn.Send(message)
}

func (e *Exchange) dispatch(name meshid.AgentName, conn *connection.Connection, agentType meshid.AgentType) {
	e.fire(Event{Kind: EventConnected, Peer: name, PeerType: agentType})

	for msg := range conn.Inbox() {
		e.fire(Event{Kind: EventMessage, Peer: name, PeerType: agentType, Message: msg})
	}

	e.Unregister(name)
	e.fire(Event{Kind: EventDisconnected, Peer: name, PeerType: agentType})
}

func (e *Exchange) fire(ev Event) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}
