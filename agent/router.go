// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the routing core every OpenPortal process
// runs on top of its Exchange: local identity and zone membership,
// one Board per connected edge, hop-by-hop forwarding along a Job's
// Path, and the zone-boundary check every forward must pass.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/isambard-sc/openportal/board"
	"github.com/isambard-sc/openportal/connection"
	"github.com/isambard-sc/openportal/exchange"
	"github.com/isambard-sc/openportal/job"
	"github.com/isambard-sc/openportal/lib/clock"
	"github.com/isambard-sc/openportal/meshid"
	"github.com/isambard-sc/openportal/xerr"
)

// DefaultConnectTimeout is how long forward waits for an as-yet-unseen
// next hop to appear before giving up — long enough to ride out a
// peer that is mid-reconnect at startup, short enough not to stall a
// misrouted Job indefinitely.
const DefaultConnectTimeout = 10 * time.Second

// pollInterval is how often awaitPeer re-checks the Exchange while
// waiting for a next hop to connect.
const pollInterval = 50 * time.Millisecond

// Option configures a Router at construction time.
type Option func(*Router)

// WithClock overrides the clock used for the connect-timeout wait.
func WithClock(c clock.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Router) { r.connectTimeout = d }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// Router is the local agent's routing table and dispatch point. One
// Router exists per process; Attach feeds it every Connection as it
// completes its handshake, and HandleEvent should be installed as the
// Exchange's Handler so inbound Messages and connection lifecycle
// events reach it.
type Router struct {
	Name  meshid.AgentName
	Type  meshid.AgentType
	Zones meshid.ZoneSet

	ex      *exchange.Exchange
	handler Handler

	clock          clock.Clock
	connectTimeout time.Duration
	logger         *slog.Logger

	mu     sync.RWMutex
	boards map[meshid.AgentName]*board.Board
	zones  map[meshid.AgentName]meshid.ZoneSet
	local  *board.Board
}

// New creates a Router for the given local identity, backed by ex for
// peer lookup and message delivery. handler runs every Job that
// reaches this agent as its destination; it may be nil, in which case
// such Jobs are recorded as errors.
func New(name meshid.AgentName, agentType meshid.AgentType, zones meshid.ZoneSet, ex *exchange.Exchange, handler Handler, opts ...Option) *Router {
	r := &Router{
		Name:           name,
		Type:           agentType,
		Zones:          zones,
		ex:             ex,
		handler:        handler,
		clock:          clock.Real(),
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.New(discardHandler{}),
		boards:         make(map[meshid.AgentName]*board.Board),
		zones:          make(map[meshid.AgentName]meshid.ZoneSet),
	}
	r.local = board.New(nil)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers a freshly handshaken Connection to peer, records
// its advertised zone set, and sends it this agent's current Board
// for that edge so both sides reconcile per the reconnect protocol.
func (r *Router) Attach(peer meshid.AgentName, conn *connection.Connection, peerType meshid.AgentType, peerZones meshid.ZoneSet) error {
	if err := r.ex.Register(peer, conn, peerType); err != nil {
		return err
	}

	r.mu.Lock()
	r.zones[peer] = peerZones
	r.mu.Unlock()

	b := r.boardFor(peer)
	snap := board.Snapshot{Jobs: b.Snapshot()}
	return conn.Send(connection.BoardSnapshotMessage(r.Name, peer, snap))
}

// GetAll returns the currently connected peers of the given type, for
// pollers awaiting the appearance of a specific role.
func (r *Router) GetAll(t meshid.AgentType) []meshid.AgentName {
	return r.ex.GetAll(t)
}

// Connected reports whether a live Connection to peer is currently
// registered, for the runtime's duplicate-connection check during
// handshake.
func (r *Router) Connected(peer meshid.AgentName) bool {
	_, _, ok := r.ex.Get(peer)
	return ok
}

// Boards returns a snapshot of every per-edge Board this Router
// currently holds, keyed by peer name. Used by the supervisor's expiry
// sweep and by the introspection socket; callers must not assume the
// map stays current after it's returned.
func (r *Router) Boards() map[meshid.AgentName]*board.Board {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[meshid.AgentName]*board.Board, len(r.boards))
	for peer, b := range r.boards {
		out[peer] = b
	}
	return out
}

// Local returns the Board holding Jobs this agent originated itself,
// with no peer edge involved.
func (r *Router) Local() *board.Board {
	return r.local
}

// Submit routes a locally originated Job — one this process created
// on behalf of a local caller, not one arriving from a peer.
func (r *Router) Submit(ctx context.Context, j *job.Job) error {
	return r.dispatch(ctx, j, "")
}

// Wait blocks until the locally originated Job with the given id
// reaches a terminal state, is removed, or ctx is done. dispatch keeps
// r.local mirrored with the outcome of every Job this agent
// originated, however many hops away it was actually executed, so
// this observes multi-hop completions too.
func (r *Router) Wait(ctx context.Context, id string) (*job.Job, error) {
	return r.local.Wait(ctx, id)
}

// HandleEvent is the exchange.Handler this Router expects to be
// installed as. It applies inbound BoardDelta/BoardSnapshot messages
// to the sending peer's Board and routes each contained Job onward,
// and logs every peer disconnection; other event kinds are ignored.
func (r *Router) HandleEvent(ev exchange.Event) {
	switch ev.Kind {
	case exchange.EventMessage:
		r.handleMessage(ev.Peer, ev.Message)
	case exchange.EventDisconnected:
		// The Board for this edge is kept in memory: the reconnect
		// protocol relies on both sides still holding their prior
		// state so a fresh snapshot exchange can reconcile it.
		r.logger.Info("peer disconnected", "peer", ev.Peer, "type", ev.PeerType)
	}
}

func (r *Router) handleMessage(peer meshid.AgentName, msg connection.Message) {
	b := r.boardFor(peer)
	ctx := context.Background()

	switch msg.Kind {
	case connection.KindBoardDelta:
		if msg.Delta == nil {
			return
		}
		b.Observe(msg.Delta.Job)
		if err := r.dispatch(ctx, msg.Delta.Job, peer); err != nil {
			r.logger.Warn("routing delta failed", "peer", peer, "job", msg.Delta.Job.ID, "error", err)
		}
	case connection.KindBoardSnapshot:
		if msg.Snapshot == nil {
			return
		}
		b.ApplySnapshot(*msg.Snapshot)
		b.ReconcileEdge(r.Name, peer)
		for _, j := range msg.Snapshot.Jobs {
			if err := r.dispatch(ctx, j, peer); err != nil {
				r.logger.Warn("routing snapshot job failed", "peer", peer, "job", j.ID, "error", err)
			}
		}
	}
}

// dispatch implements the per-Job routing decision: compute this
// agent's position in the Job's Path, dispatch locally if it's the
// tail, otherwise verify the zone constraint and forward to the next
// hop. arrivedFrom is empty for a Job this process originated itself.
//
// A Job this agent originated is mirrored onto r.local on every
// dispatch, not just at submission: the completion delta for a
// multi-hop Job arrives back here as an ordinary dispatch call (this
// agent sits at the Path's source, not its tail), and r.local is the
// only place Wait ever looks. A terminal Job arriving from anywhere
// else on the path is relayed one hop back toward the source instead
// of forwarded onward, so it reaches the origin the same way it got
// away from it.
func (r *Router) dispatch(ctx context.Context, j *job.Job, arrivedFrom meshid.AgentName) error {
	if err := checkSourcePortal(j); err != nil {
		return err
	}

	if j.Path.Source() == r.Name {
		r.local.Put(j)
	}

	idx, ok := j.Path.IndexOf(r.Name)
	if !ok {
		return xerr.Newf(xerr.Routing, "agent %s is not on path %s for job %s", r.Name, j.Path, j.ID)
	}

	if j.State.Terminal() {
		if idx > 0 {
			r.boardFor(j.Path[idx-1]).Put(j)
		}
		return nil
	}

	if idx == len(j.Path)-1 {
		return r.dispatchLocally(ctx, j, arrivedFrom)
	}

	if err := r.checkZones(j.Path); err != nil {
		return r.deferOriginError(arrivedFrom, j, err)
	}

	next, ok := j.Path.Next(r.Name)
	if !ok {
		return xerr.Newf(xerr.Routing, "no next hop after %s on path %s", r.Name, j.Path)
	}
	if err := r.forward(ctx, j, next); err != nil {
		return r.deferOriginError(arrivedFrom, j, err)
	}
	return nil
}

// deferOriginError implements the propagation policy for a Routing or
// Zone failure encountered while routing a Job this agent itself
// originated (arrivedFrom == ""): rather than surface the failure
// synchronously from Submit, it is recorded so a subsequent Wait can
// observe it. A Routing failure (no reachable next hop) resolves the
// Job to an explicit Error; a Zone failure is left Pending on r.local
// for the expiry sweep to resolve as Expired, matching a boundary the
// origin has no way to detect any earlier. Failures encountered while
// routing a Job that arrived from a peer are unaffected — handleMessage
// already logs and drops those.
func (r *Router) deferOriginError(arrivedFrom meshid.AgentName, j *job.Job, err error) error {
	if arrivedFrom != "" {
		return err
	}
	r.logger.Warn("deferring originated job failure to wait()", "job", j.ID, "error", err)
	if xerr.Is(err, xerr.Routing) {
		j.Update(r.clock.Now(), job.Error, nil, err.Error())
		r.local.Put(j)
	}
	return nil
}

// checkSourcePortal re-verifies the constraint job.ParseSubmission
// enforces at the originating agent: an Instruction that names a
// user or project may only travel on a Path whose source is the
// portal that owns it. This is checked again on every dispatch so a
// forged or buggy peer's delta cannot smuggle a mismatched
// path/instruction pair past the originating check and get it
// forwarded or executed.
func checkSourcePortal(j *job.Job) error {
	portal, applies := j.Instruction.SourcePortal()
	if !applies {
		return nil
	}
	source := j.Path.Source()
	if string(source) != string(portal) {
		return xerr.Newf(xerr.Parse, "%w: instruction names portal %q, path sourced from %q",
			job.ErrWrongSourcePortal, portal, source)
	}
	return nil
}

func (r *Router) dispatchLocally(ctx context.Context, j *job.Job, arrivedFrom meshid.AgentName) error {
	owner := r.local
	if arrivedFrom != "" {
		owner = r.boardFor(arrivedFrom)
	}

	if r.handler == nil {
		j.Update(r.clock.Now(), job.Error, nil, ErrNoHandler.Error())
		owner.Put(j)
		return nil
	}

	result, err := r.handler.Handle(ctx, j)
	if err != nil {
		j.Update(r.clock.Now(), job.Error, nil, err.Error())
		owner.Put(j)
		return nil
	}
	owner.Put(result)
	return nil
}

// forward hands j to the Board for the edge toward next, waiting a
// short while for that peer to connect if it hasn't yet. Put on that
// Board fires its onPut callback, which enqueues a BoardDelta on the
// live Connection if one exists.
func (r *Router) forward(ctx context.Context, j *job.Job, next meshid.AgentName) error {
	if _, _, ok := r.ex.Get(next); !ok {
		if !r.awaitPeer(ctx, next) {
			return xerr.Newf(xerr.Routing, "%w: %s for job %s", ErrPeerUnreachable, next, j.ID)
		}
	}
	r.boardFor(next).Put(j)
	return nil
}

func (r *Router) awaitPeer(ctx context.Context, peer meshid.AgentName) bool {
	deadline := r.clock.After(r.connectTimeout)
	ticker := r.clock.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if _, _, ok := r.ex.Get(peer); ok {
			return true
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// checkZones verifies that every named hop this agent already knows
// the zone membership of shares a zone with it. A hop this agent has
// never seen connect is skipped rather than rejected — it cannot yet
// be judged, and rejecting on ignorance would make first-contact
// routing impossible during startup.
func (r *Router) checkZones(path job.Path) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, hop := range path {
		if hop == r.Name {
			continue
		}
		zones, known := r.zones[hop]
		if !known {
			continue
		}
		if !r.Zones.Overlaps(zones) {
			return xerr.Newf(xerr.Zone, "hop %s shares no zone with %s", hop, r.Name)
		}
	}
	return nil
}

// boardFor returns the Board for the edge toward peer, creating it on
// first use. A Job put on this Board is sent to peer if a live
// Connection exists; if not, the Board still holds it for the next
// snapshot exchange once peer reconnects.
func (r *Router) boardFor(peer meshid.AgentName) *board.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.boards[peer]
	if !ok {
		b = board.New(func(j *job.Job) { r.sendDelta(peer, j) })
		r.boards[peer] = b
	}
	return b
}

func (r *Router) sendDelta(peer meshid.AgentName, j *job.Job) {
	conn, _, ok := r.ex.Get(peer)
	if !ok {
		return
	}
	if err := conn.Send(connection.BoardDeltaMessage(r.Name, peer, board.Delta{Job: j})); err != nil {
		r.logger.Warn("sending delta failed", "peer", peer, "job", j.ID, "error", err)
	}
}

// discardHandler is a slog.Handler that drops every record, used as
// the zero-value logger when the caller doesn't supply one.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
