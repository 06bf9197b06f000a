// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package board implements the per-connection replicated Job store:
// one Board on each side of an edge, kept in sync by exchanging
// BoardDelta messages and reconciled with a version-monotonic merge
// that never regresses either replica.
package board

import (
	"context"
	"sync"
	"time"

	"github.com/isambard-sc/openportal/job"
)

// ChangeFunc is called after a local Put actually changes a Job — a
// new insertion or a version bump — so the caller can enqueue the
// resulting BoardDelta on the connection's outbox. It is never called
// from Observe, since deltas arriving from the peer must not echo
// straight back to that same peer.
type ChangeFunc func(*job.Job)

// Board is the replicated Job map for one side of one Connection. All
// exported methods are safe for concurrent use.
type Board struct {
	mu      sync.RWMutex
	jobs    map[string]*job.Job
	waiters map[string][]chan *job.Job
	onPut   ChangeFunc
}

// New creates an empty Board. onPut, if non-nil, is invoked whenever
// Put stores a genuinely new or advanced Job.
func New(onPut ChangeFunc) *Board {
	return &Board{
		jobs:    make(map[string]*job.Job),
		waiters: make(map[string][]chan *job.Job),
		onPut:   onPut,
	}
}

// Put inserts j, or — if a Job with the same ID already exists —
// merges by keeping whichever has the higher Version. Reports whether
// the stored Job actually advanced, and invokes onPut when it did.
func (b *Board) Put(j *job.Job) bool {
	changed := b.merge(j)
	if changed && b.onPut != nil {
		b.onPut(j.Clone())
	}
	return changed
}

// Observe applies a Job replica that arrived from the peer over the
// connection this Board belongs to. Same version-monotonic merge as
// Put, but never re-triggers onPut: an arriving delta must not be
// echoed straight back to the peer that sent it.
func (b *Board) Observe(j *job.Job) bool {
	return b.merge(j)
}

func (b *Board) merge(incoming *job.Job) bool {
	b.mu.Lock()
	existing, ok := b.jobs[incoming.ID]
	if !ok {
		b.jobs[incoming.ID] = incoming.Clone()
	} else if err := existing.Merge(incoming); err != nil {
		b.mu.Unlock()
		return false
	}
	stored := b.jobs[incoming.ID]
	var snapshot *job.Job
	if stored.State.Terminal() {
		snapshot = stored.Clone()
	}
	b.mu.Unlock()

	if snapshot != nil {
		b.wake(incoming.ID, snapshot)
	}
	return true
}

// Remove drops a Job outright. Any waiters are woken with a nil result
// so they observe the removal as an absence rather than blocking
// forever.
func (b *Board) Remove(id string) {
	b.mu.Lock()
	delete(b.jobs, id)
	b.mu.Unlock()
	b.wake(id, nil)
}

// Get returns a copy of the Job with the given ID, if present.
func (b *Board) Get(id string) (*job.Job, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	j, ok := b.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Snapshot returns a copy of every Job currently on the Board, for
// exchange on reconnect and for local recovery after restart.
func (b *Board) Snapshot() []*job.Job {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*job.Job, 0, len(b.jobs))
	for _, j := range b.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Len reports how many Jobs the Board currently holds.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jobs)
}

// SweepExpired marks every non-terminal Job whose deadline has passed
// as Expired and purges it from the Board, waking their waiters with
// the Expired snapshot, and returns how many were swept. Called by the
// supervisor once per sweep interval.
func (b *Board) SweepExpired(now time.Time) int {
	b.mu.Lock()
	var expired []*job.Job
	for _, j := range b.jobs {
		if !j.State.Terminal() && j.IsExpired(now) {
			j.MarkExpired(now)
			expired = append(expired, j.Clone())
		}
	}
	for _, ej := range expired {
		delete(b.jobs, ej.ID)
	}
	b.mu.Unlock()

	for _, ej := range expired {
		b.wake(ej.ID, ej)
	}
	return len(expired)
}

// Wait blocks until the Job with the given ID reaches a terminal
// state, is removed, or ctx is done, and returns the terminal snapshot
// (or nil if the Job was already gone, or was explicitly removed
// while Wait was blocked) plus ctx.Err() on cancellation. A waiter
// already blocked when the expiry sweep marks the Job Expired still
// receives that Expired snapshot even though the sweep purges the
// entry from the map in the same pass — wake delivers the terminal
// value straight to the waiter's channel rather than making it re-read
// the (by then empty) map.
func (b *Board) Wait(ctx context.Context, id string) (*job.Job, error) {
	b.mu.Lock()
	if j, ok := b.jobs[id]; !ok {
		b.mu.Unlock()
		return nil, nil
	} else if j.State.Terminal() {
		result := j.Clone()
		b.mu.Unlock()
		return result, nil
	}
	ch := make(chan *job.Job, 1)
	b.waiters[id] = append(b.waiters[id], ch)
	b.mu.Unlock()

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wake delivers result (nil on plain removal) to every waiter
// registered for id and clears the registration. Each waiter gets its
// own clone so none can observe another's mutation of the result.
func (b *Board) wake(id string, result *job.Job) {
	b.mu.Lock()
	channels := b.waiters[id]
	delete(b.waiters, id)
	b.mu.Unlock()

	for _, ch := range channels {
		if result == nil {
			ch <- nil
		} else {
			ch <- result.Clone()
		}
	}
}
