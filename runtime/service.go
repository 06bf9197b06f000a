// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime owns the network lifecycle each OpenPortal agent
// runs on top of its Router: an optional inbound listener for
// configured clients, one outbound dial loop per configured server,
// and cooperative shutdown of both.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isambard-sc/openportal/agent"
	"github.com/isambard-sc/openportal/connection"
	"github.com/isambard-sc/openportal/invitation"
	"github.com/isambard-sc/openportal/lib/clock"
	"github.com/isambard-sc/openportal/lib/config"
	"github.com/isambard-sc/openportal/meshid"
)

// DefaultRetryInterval is how long a dial loop waits after a failed
// outbound connection attempt before retrying. Fixed, not exponential
// — an agent's peer set is small and static enough that backoff only
// delays recovery.
const DefaultRetryInterval = 5 * time.Second

// Option configures a Service at construction time.
type Option func(*Service)

// WithClock overrides the clock used for retry timing.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) { s.retryInterval = d }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithDialer overrides the websocket.Dialer used for outbound
// connections, so tests can point dial loops at an in-process server.
func WithDialer(d *websocket.Dialer) Option { return func(s *Service) { s.dialer = d } }

// Service drives the transport layer for one agent: it accepts
// inbound connections from configured clients and maintains one
// persistent outbound connection per configured server, handing every
// handshaken Connection to a Router via Attach.
type Service struct {
	cfg    *config.Agent
	router *agent.Router

	clock         clock.Clock
	retryInterval time.Duration
	logger        *slog.Logger
	dialer        *websocket.Dialer
	upgrader      websocket.Upgrader

	wg       sync.WaitGroup
	listener net.Listener
	ready    chan struct{}
}

// New builds a Service for cfg, delivering every handshaken Connection
// to router.
func New(cfg *config.Agent, router *agent.Router, opts ...Option) *Service {
	s := &Service{
		cfg:           cfg,
		router:        router,
		clock:         clock.Real(),
		retryInterval: DefaultRetryInterval,
		logger:        slog.New(discardHandler{}),
		dialer:        websocket.DefaultDialer,
		ready:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the inbound listener (if any) is bound and the
// dial loops have been started, so callers — chiefly tests — can wait
// for Run to be accepting connections before dialing it themselves.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// Addr returns the inbound listener's bound address, or nil if this
// agent has no configured clients and never opened one.
func (s *Service) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the inbound listener (if any clients are configured) and
// one dial loop per configured server, then blocks until ctx is
// cancelled. On return, the listener is closed and every dial loop has
// exited; outbound connections are closed but not drained further than
// their own outbox already guarantees.
func (s *Service) Run(ctx context.Context) error {
	if len(s.cfg.Service.Clients) > 0 {
		if err := s.listen(); err != nil {
			return err
		}
		s.wg.Add(1)
		go s.acceptLoop(ctx)
	}

	for _, server := range s.cfg.Service.Servers {
		s.wg.Add(1)
		go s.dialLoop(ctx, server)
	}

	close(s.ready)

	<-ctx.Done()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

func (s *Service) listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Service.IP, s.cfg.Service.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("runtime: listening on %s: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// acceptLoop serves the inbound HTTP upgrade endpoint until the
// listener closes (which Run does when ctx is cancelled).
func (s *Service) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	server := &http.Server{Handler: mux}

	if err := server.Serve(s.listener); err != nil && ctx.Err() == nil {
		s.logger.Error("inbound listener stopped", "error", err)
	}
}

func (s *Service) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	remoteIP := remoteAddrIP(r.RemoteAddr)
	invitations, err := s.clientInvitations()
	if err != nil {
		s.logger.Error("building client invitations failed", "error", err)
		ws.Close()
		return
	}

	params := connection.HandshakeParams{
		LocalName:          s.cfg.Service.Name,
		LocalType:          s.cfg.AgentType,
		LocalZones:         meshid.NewZoneSet(s.cfg.Service.Zone),
		MinProtocolVersion: connection.ProtocolVersion,
		MinEngineVersion:   connection.EngineVersion,
	}
	result, err := connection.ServerHandshake(ws, remoteIP, invitations, params, s.router.Connected)
	if err != nil {
		s.logger.Warn("inbound handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// The wire protocol only conveys AgentType from server to client
	// (in serverHello); an inbound client never announces its own
	// role, so the accepting side registers it with an empty type.
	peerZones := meshid.NewZoneSet(result.PeerZone)
	if err := s.router.Attach(result.PeerName, result.Conn, result.PeerType, peerZones); err != nil {
		s.logger.Error("attaching inbound connection failed", "peer", result.PeerName, "error", err)
		result.Conn.Close(err)
	}
}

// dialLoop maintains a persistent outbound connection to one
// configured server, redialing on a fixed interval indefinitely
// whenever the connection is absent or drops.
func (s *Service) dialLoop(ctx context.Context, peer config.ServerPeer) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialOnce(ctx, peer)
		if err != nil {
			s.logger.Warn("dial failed", "peer", peer.Name, "error", err)
			select {
			case <-s.clock.After(s.retryInterval):
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-conn.Done():
			s.logger.Info("outbound connection closed", "peer", peer.Name, "error", conn.Err())
		case <-ctx.Done():
			conn.Close(nil)
			return
		}

		select {
		case <-s.clock.After(s.retryInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) dialOnce(ctx context.Context, peer config.ServerPeer) (*connection.Connection, error) {
	inv, err := peer.Invitation(s.cfg.Service.Name)
	if err != nil {
		return nil, err
	}
	defer inv.Close()

	ws, _, err := s.dialer.DialContext(ctx, peer.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", peer.URL, err)
	}

	params := connection.HandshakeParams{
		LocalName:          s.cfg.Service.Name,
		LocalType:          s.cfg.AgentType,
		LocalZones:         meshid.NewZoneSet(s.cfg.Service.Zone),
		MinProtocolVersion: connection.ProtocolVersion,
		MinEngineVersion:   connection.EngineVersion,
	}
	result, err := connection.ClientHandshake(ws, inv, params)
	if err != nil {
		return nil, fmt.Errorf("handshake with %s: %w", peer.Name, err)
	}

	if err := s.router.Attach(result.PeerName, result.Conn, result.PeerType, meshid.NewZoneSet(result.PeerZone)); err != nil {
		result.Conn.Close(err)
		return nil, fmt.Errorf("attaching connection to %s: %w", peer.Name, err)
	}
	return result.Conn, nil
}

func (s *Service) clientInvitations() ([]*invitation.Invitation, error) {
	invitations := make([]*invitation.Invitation, 0, len(s.cfg.Service.Clients))
	for _, c := range s.cfg.Service.Clients {
		inv, err := c.Invitation(s.cfg.Service.Name, s.cfg.Service.URL)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, nil
}

func remoteAddrIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.ParseIP(addr)
	}
	return net.ParseIP(host)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
