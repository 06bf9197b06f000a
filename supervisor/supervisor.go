// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs the periodic housekeeping every OpenPortal
// agent needs regardless of its role: sweeping expired Jobs off every
// Board, and emitting a low-frequency structured-log summary of
// connection and Board sizes for operators watching the process.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/isambard-sc/openportal/agent"
	"github.com/isambard-sc/openportal/lib/clock"
)

// DefaultSweepInterval is how often expired Jobs are purged from every
// Board.
const DefaultSweepInterval = time.Second

// DefaultMetricsInterval is how often the connection/board summary is
// logged.
const DefaultMetricsInterval = 30 * time.Second

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithClock overrides the clock used for both tickers.
func WithClock(c clock.Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.sweepInterval = d }
}

// WithMetricsInterval overrides DefaultMetricsInterval.
func WithMetricsInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.metricsInterval = d }
}

// WithLogger overrides the default discard logger.
func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// Supervisor runs an agent's background maintenance loops against its
// Router: an expiry sweep of every Board (edge Boards plus the local
// one) and a periodic debug-level metrics line.
type Supervisor struct {
	router *agent.Router

	clock           clock.Clock
	sweepInterval   time.Duration
	metricsInterval time.Duration
	logger          *slog.Logger
}

// New creates a Supervisor for router.
func New(router *agent.Router, opts ...Option) *Supervisor {
	s := &Supervisor{
		router:          router,
		clock:           clock.Real(),
		sweepInterval:   DefaultSweepInterval,
		metricsInterval: DefaultMetricsInterval,
		logger:          slog.New(discardHandler{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, sweeping expired Jobs and logging periodic metrics,
// until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	sweep := s.clock.NewTicker(s.sweepInterval)
	defer sweep.Stop()
	metrics := s.clock.NewTicker(s.metricsInterval)
	defer metrics.Stop()

	for {
		select {
		case <-sweep.C:
			s.sweepOnce()
		case <-metrics.C:
			s.logMetrics()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) sweepOnce() {
	now := s.clock.Now()
	total := s.router.Local().SweepExpired(now)
	for _, b := range s.router.Boards() {
		total += b.SweepExpired(now)
	}
	if total > 0 {
		s.logger.Debug("expiry sweep purged jobs", "count", total)
	}
}

func (s *Supervisor) logMetrics() {
	boards := s.router.Boards()
	sizes := make(map[string]int, len(boards)+1)
	sizes["local"] = s.router.Local().Len()
	for peer, b := range boards {
		sizes[peer.String()] = b.Len()
	}
	s.logger.Debug("metrics pulse",
		"agent", s.router.Name,
		"connections", len(boards),
		"board_sizes", sizes,
	)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
