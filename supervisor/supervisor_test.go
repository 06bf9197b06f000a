// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/isambard-sc/openportal/agent"
	"github.com/isambard-sc/openportal/exchange"
	"github.com/isambard-sc/openportal/job"
	"github.com/isambard-sc/openportal/lib/clock"
	"github.com/isambard-sc/openportal/meshid"
)

func TestRunSweepsExpiredJobsFromLocalBoard(t *testing.T) {
	ex := exchange.New()
	router := agent.New("waldur", meshid.Provider, meshid.NewZoneSet("isambard"), ex, nil)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFake(start)

	path, instr, err := job.ParseSubmission("waldur add_user fred.proj.waldur")
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	// Put directly on the local Board rather than through Submit/dispatch,
	// so the Job stays Pending instead of resolving immediately (there is
	// no Handler installed on this Router).
	j := job.New(path, instr, time.Millisecond, start)
	router.Local().Put(j)

	if router.Local().Len() != 1 {
		t.Fatalf("Local().Len() = %d, want 1 before expiry", router.Local().Len())
	}

	sup := New(router, WithClock(fake), WithSweepInterval(time.Millisecond), WithMetricsInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go sup.Run(ctx)

	fake.Advance(time.Second)

	// Run registers its sweep ticker on its own goroutine, so keep
	// advancing until a tick lands after that registration. A swept Job
	// is purged from the Board.
	waitFor(t, func() bool {
		fake.Advance(time.Millisecond)
		_, ok := router.Local().Get(j.ID)
		return !ok
	})

	cancel()
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
