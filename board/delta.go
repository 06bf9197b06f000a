// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package board

import (
	"github.com/isambard-sc/openportal/job"
	"github.com/isambard-sc/openportal/meshid"
)

// Delta is the wire message a Board sends to its peer whenever a local
// Put advances a Job: a single Job's full current state. OpenPortal
// replicates whole Jobs rather than field-level diffs since Jobs are
// small and infrequent compared to the connections they travel over.
type Delta struct {
	Job *job.Job `json:"job"`
}

// Snapshot is the wire message exchanged by both sides immediately
// after a connection (re)establishes, carrying every Job the sender's
// Board currently holds so the receiver's merge can catch up on
// whatever it missed while disconnected.
type Snapshot struct {
	Jobs []*job.Job `json:"jobs"`
}

// ApplySnapshot merges every Job in a peer's Snapshot into b via
// Observe, the same version-monotonic rule a single Delta uses.
func (b *Board) ApplySnapshot(snap Snapshot) {
	for _, j := range snap.Jobs {
		b.Observe(j)
	}
}

// ReconcileEdge drops every Job whose Path no longer names the edge
// between local and peer — as either the local hop or the very next
// hop after it — once both sides have exchanged snapshots after a
// reconnect. A Job that has moved past this edge in both directions
// has no further business occupying this Board.
func (b *Board) ReconcileEdge(local, peer meshid.AgentName) {
	b.mu.Lock()
	var stale []string
	for id, j := range b.jobs {
		if !edgeOnPath(j.Path, local, peer) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(b.jobs, id)
	}
	b.mu.Unlock()

	for _, id := range stale {
		b.wake(id, nil)
	}
}

func edgeOnPath(path job.Path, local, peer meshid.AgentName) bool {
	for _, edge := range path.Edges() {
		if (edge[0] == local && edge[1] == peer) || (edge[0] == peer && edge[1] == local) {
			return true
		}
	}
	// A single-hop path with local or peer as its only hop still
	// belongs on this edge's Board while it is in flight to or from
	// that endpoint.
	return path.IsLocal() && (path.Source() == local || path.Source() == peer)
}
