// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package introspect serves a live snapshot of one agent's Router over
// a local Unix socket, for the board viewer and other operator
// tooling. Unlike the request/response socket protocols elsewhere in
// this codebase's ancestry, the wire format here is a single
// newline-delimited JSON object per request: connect, read one line
// back, disconnect.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/isambard-sc/openportal/agent"
	"github.com/isambard-sc/openportal/job"
	"github.com/isambard-sc/openportal/meshid"
)

// readTimeout bounds how long a connecting client has to send its
// request line before the server gives up on it.
const readTimeout = 5 * time.Second

// writeTimeout bounds how long writing the snapshot response may take.
const writeTimeout = 5 * time.Second

// Request is the single line a client writes after connecting.
// Currently the only recognized Action is "snapshot".
type Request struct {
	Action string `json:"action"`
}

// Snapshot is the NDJSON response body for the "snapshot" action.
type Snapshot struct {
	Agent       meshid.AgentName          `json:"agent"`
	AgentType   meshid.AgentType          `json:"agent_type"`
	Connections map[string]BoardSnapshot  `json:"connections"`
	Local       BoardSnapshot             `json:"local"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// BoardSnapshot is one Board's contents, flattened for JSON transport.
type BoardSnapshot struct {
	Jobs []JobSnapshot `json:"jobs"`
}

// JobSnapshot is one Job's externally visible fields.
type JobSnapshot struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	State   job.State `json:"state"`
	Version uint64    `json:"version"`
	Expires time.Time `json:"expires"`
}

// Server serves Router snapshots on a Unix socket.
type Server struct {
	socketPath string
	router     *agent.Router
	logger     *slog.Logger

	active sync.WaitGroup
}

// New creates a Server that will listen on socketPath once Serve is
// called.
func New(socketPath string, router *agent.Router, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Server{socketPath: socketPath, router: router, logger: logger}
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for in-flight requests to finish. The socket
// file is removed both before listening and on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("introspect: removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("introspect: listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("introspection socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handle(conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Debug("introspection request decode failed", "error", err)
		return
	}
	if req.Action != "snapshot" {
		s.writeError(conn, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := json.NewEncoder(conn).Encode(s.snapshot()); err != nil {
		s.logger.Debug("introspection response encode failed", "error", err)
	}
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	json.NewEncoder(conn).Encode(struct {
		Error string `json:"error"`
	}{Error: message})
}

func (s *Server) snapshot() Snapshot {
	boards := s.router.Boards()
	connections := make(map[string]BoardSnapshot, len(boards))
	for peer, b := range boards {
		connections[peer.String()] = snapshotBoard(b)
	}
	return Snapshot{
		Agent:       s.router.Name,
		AgentType:   s.router.Type,
		Connections: connections,
		Local:       snapshotBoard(s.router.Local()),
		GeneratedAt: time.Now(),
	}
}

func snapshotBoard(b interface {
	Snapshot() []*job.Job
}) BoardSnapshot {
	jobs := b.Snapshot()
	out := make([]JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobSnapshot{
			ID:      j.ID,
			Path:    j.Path.String(),
			State:   j.State,
			Version: j.Version,
			Expires: j.Expires,
		})
	}
	return BoardSnapshot{Jobs: out}
}

// Fetch dials socketPath, requests a snapshot, and decodes the
// response. Used by the board viewer's polling loop.
func Fetch(ctx context.Context, socketPath string) (*Snapshot, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("introspect: dialing %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(Request{Action: "snapshot"}); err != nil {
		return nil, fmt.Errorf("introspect: sending request: %w", err)
	}

	var snap Snapshot
	if err := json.NewDecoder(conn).Decode(&snap); err != nil {
		return nil, fmt.Errorf("introspect: decoding response: %w", err)
	}
	return &snap, nil
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
