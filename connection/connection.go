// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection wraps one authenticated websocket after the
// handshake completes: double-encrypted envelopes, an outbox queue
// with keepalive, and a liveness watchdog that forces a reconnect
// when the peer goes quiet.
package connection

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isambard-sc/openportal/crypto"
	"github.com/isambard-sc/openportal/lib/clock"
	"github.com/isambard-sc/openportal/meshid"
)

// MaxPayloadSize bounds the plaintext JSON of a single Message before
// encryption. A well-formed peer never needs more than this for one
// Job's worth of delta or a keepalive; a larger request is refused
// before it ever reaches the wire.
const MaxPayloadSize = 1 << 20

// textMessage is gorilla/websocket's TextMessage frame type, the only
// frame type this protocol uses: every Message travels as a hex
// string.
const textMessage = websocket.TextMessage

// wsConn is the subset of *websocket.Conn this package depends on, so
// tests can substitute an in-process pair instead of a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ wsConn = (*websocket.Conn)(nil)

// DefaultKeepaliveInterval is how long the outbox may sit idle before
// a Keepalive is enqueued.
const DefaultKeepaliveInterval = 30 * time.Second

// DefaultWatchdogInterval is how often the liveness watchdog checks
// for a stalled peer.
const DefaultWatchdogInterval = 5 * time.Minute

// DefaultOutboxCapacity bounds how many Messages may sit queued for
// this Connection's writer before Send blocks the caller. This is the
// end-to-end flow control described for the mesh: a stalled peer's
// outbox fills, Send suspends, and backpressure propagates all the
// way up to whichever agent is forwarding onto this edge.
const DefaultOutboxCapacity = 256

// Connection wraps one handshaken websocket. Outbound Messages are
// enqueued via Send and drained by a background writer goroutine;
// inbound Messages are delivered on the channel returned by Inbox.
type Connection struct {
	conn      wsConn
	outer     *crypto.Key
	inner     *crypto.Key
	localName meshid.AgentName
	peerName  meshid.AgentName
	clock     clock.Clock

	keepaliveInterval time.Duration
	watchdogInterval  time.Duration

	inbox chan Message

	mu               sync.Mutex
	outboxQueue      []Message
	outboxCapacity   int
	outboxNotFull    *sync.Cond
	outboxNotify     chan struct{}
	lastSend         time.Time
	lastReceive      time.Time
	keepalivePending bool

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithClock overrides the clock used for keepalive and watchdog
// timing. Tests inject clock.NewFake for deterministic control.
func WithClock(c clock.Clock) Option {
	return func(conn *Connection) { conn.clock = c }
}

// WithKeepaliveInterval overrides DefaultKeepaliveInterval.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(conn *Connection) { conn.keepaliveInterval = d }
}

// WithWatchdogInterval overrides DefaultWatchdogInterval.
func WithWatchdogInterval(d time.Duration) Option {
	return func(conn *Connection) { conn.watchdogInterval = d }
}

// WithOutboxCapacity overrides DefaultOutboxCapacity.
func WithOutboxCapacity(n int) Option {
	return func(conn *Connection) { conn.outboxCapacity = n }
}

func newConnection(ws wsConn, outer, inner *crypto.Key, localName, peerName meshid.AgentName, opts ...Option) *Connection {
	now := time.Now()
	c := &Connection{
		conn:              ws,
		outer:             outer,
		inner:             inner,
		localName:         localName,
		peerName:          peerName,
		clock:             clock.Real(),
		keepaliveInterval: DefaultKeepaliveInterval,
		watchdogInterval:  DefaultWatchdogInterval,
		inbox:             make(chan Message, 64),
		outboxCapacity:    DefaultOutboxCapacity,
		outboxNotify:      make(chan struct{}, 1),
		lastSend:          now,
		lastReceive:       now,
		closed:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.outboxNotFull = sync.NewCond(&c.mu)
	c.lastSend = c.clock.Now()
	c.lastReceive = c.clock.Now()

	// The tickers are created here rather than inside their loops so
	// they exist before newConnection returns and a fake clock advanced
	// right afterwards already drives them.
	keepalive := c.clock.NewTicker(c.keepaliveInterval)
	watchdog := c.clock.NewTicker(c.watchdogInterval)

	go c.writeLoop()
	go c.readLoop()
	go c.keepaliveLoop(keepalive)
	go c.watchdogLoop(watchdog)

	return c
}

// PeerName returns the AgentName presented by the peer during the
// handshake.
func (c *Connection) PeerName() meshid.AgentName { return c.peerName }

// Inbox returns the channel that receives decrypted Messages arriving
// from the peer. Closed when the connection closes.
func (c *Connection) Inbox() <-chan Message { return c.inbox }

// Done returns a channel closed once the connection has shut down,
// for the owning Service to notice and redial.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// Err returns the reason the connection closed, once Done is closed.
func (c *Connection) Err() error {
	<-c.closed
	return c.closeErr
}

// Send enqueues msg on the outbox. The queue is bounded at
// outboxCapacity; once full, Send blocks the caller until the writer
// drains room or the connection closes, propagating backpressure from
// a stalled peer all the way up to whoever is forwarding onto it.
func (c *Connection) Send(msg Message) error {
	c.mu.Lock()
	for len(c.outboxQueue) >= c.outboxCapacity {
		select {
		case <-c.closed:
			c.mu.Unlock()
			return ErrClosed
		default:
		}
		c.outboxNotFull.Wait()
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.outboxQueue = append(c.outboxQueue, msg)
	c.mu.Unlock()
	c.wakeWriter()
	return nil
}

func (c *Connection) wakeWriter() {
	select {
	case c.outboxNotify <- struct{}{}:
	default:
	}
}

// Close shuts the connection down with the given reason. Idempotent;
// only the first call's reason is retained.
func (c *Connection) Close(reason error) error {
	c.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrClosed
		}
		c.mu.Lock()
		c.closeErr = reason
		close(c.closed)
		c.mu.Unlock()
		c.conn.Close()
		close(c.inbox)
		c.outer.Close()
		c.inner.Close()
		c.outboxNotFull.Broadcast()
	})
	return nil
}

func (c *Connection) writeLoop() {
	for {
		c.mu.Lock()
		if len(c.outboxQueue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.outboxNotify:
				continue
			case <-c.closed:
				return
			}
		}
		msg := c.outboxQueue[0]
		c.outboxQueue = c.outboxQueue[1:]
		c.outboxNotFull.Signal()
		c.mu.Unlock()

		if err := c.writeMessage(msg); err != nil {
			c.Close(fmt.Errorf("%w: %w", ErrTransport, err))
			return
		}
	}
}

func (c *Connection) writeMessage(msg Message) error {
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshaling message: %v", ErrMalformed, err)
	}
	if len(plaintext) > MaxPayloadSize {
		return fmt.Errorf("%w: message plaintext is %d bytes, exceeds MaxPayloadSize %d", ErrMalformed, len(plaintext), MaxPayloadSize)
	}

	payload, err := crypto.Envelope(c.outer, c.inner, msg)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(textMessage, []byte(payload)); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastSend = c.clock.Now()
	if msg.Kind == KindKeepalive {
		c.keepalivePending = true
	}
	c.mu.Unlock()
	return nil
}

func (c *Connection) readLoop() {
	for {
		frame, err := readFrame(c.conn)
		if err != nil {
			c.Close(err)
			return
		}
		var msg Message
		if err := crypto.Open(c.outer, c.inner, frame, &msg); err != nil {
			c.Close(fmt.Errorf("%w: %v", ErrCrypto, err))
			return
		}

		c.mu.Lock()
		c.lastReceive = c.clock.Now()
		c.keepalivePending = false
		c.mu.Unlock()

		switch msg.Kind {
		case KindKeepalive:
			// Liveness proof only; lastReceive already updated above.
		case KindDisconnect:
			c.Close(ErrPeerGone)
			return
		default:
			select {
			case c.inbox <- msg:
			case <-c.closed:
				return
			}
		}
	}
}

func (c *Connection) keepaliveLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			idle := c.clock.Now().Sub(c.lastSend) >= c.keepaliveInterval
			pending := c.keepalivePending
			c.mu.Unlock()
			if idle && !pending {
				c.Send(Keepalive(c.localName, c.peerName))
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Connection) watchdogLoop(ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			stale := c.clock.Now().Sub(c.lastReceive) >= c.watchdogInterval
			c.mu.Unlock()
			if stale {
				c.Close(ErrPeerGone)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func readFrame(conn wsConn) (string, error) {
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if messageType != textMessage {
		return "", fmt.Errorf("%w: expected a text frame, got frame type %d", ErrMalformed, messageType)
	}
	return string(data), nil
}
