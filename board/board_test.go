// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package board

import (
	"context"
	"testing"
	"time"

	"github.com/isambard-sc/openportal/job"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestJob(t *testing.T, submission string, expiry time.Duration) *job.Job {
	t.Helper()
	path, instr, err := job.ParseSubmission(submission)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return job.New(path, instr, expiry, epoch)
}

func TestPutInsertsNewJobAndFiresOnPut(t *testing.T) {
	var fired *job.Job
	b := New(func(j *job.Job) { fired = j })

	j := newTestJob(t, "a.b submit", 0)
	if changed := b.Put(j); !changed {
		t.Fatal("Put of a new job should report changed")
	}
	if fired == nil || fired.ID != j.ID {
		t.Fatal("onPut should fire for a new insertion")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

func TestPutMergesByHigherVersion(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", 0)
	b.Put(j)

	advanced := j.Clone()
	if err := advanced.Update(epoch.Add(time.Second), job.Complete, "done", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Put(advanced)

	got, ok := b.Get(j.ID)
	if !ok {
		t.Fatal("expected job to still be present")
	}
	if got.State != job.Complete || got.Version != advanced.Version {
		t.Fatalf("got %+v, want merged state", got)
	}
}

func TestObserveDoesNotFireOnPut(t *testing.T) {
	fired := false
	b := New(func(*job.Job) { fired = true })
	j := newTestJob(t, "a.b submit", 0)
	b.Observe(j)
	if fired {
		t.Fatal("Observe must never invoke onPut, or deltas would echo back to the sender")
	}
	if b.Len() != 1 {
		t.Fatal("Observe should still store the job")
	}
}

func TestObserveDiscardsStaleArrival(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", 0)
	if err := j.Update(epoch.Add(time.Second), job.Running, nil, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Put(j)

	stale := j.Clone()
	stale.Version = 1
	stale.State = job.Pending
	b.Observe(stale)

	got, _ := b.Get(j.ID)
	if got.State != job.Running {
		t.Fatalf("stale observe should not have regressed state, got %v", got.State)
	}
}

func TestWaitResolvesOnTerminalState(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", 0)
	b.Put(j)

	done := make(chan *job.Job, 1)
	go func() {
		result, err := b.Wait(context.Background(), j.ID)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- result
	}()

	advanced := j.Clone()
	if err := advanced.Update(epoch.Add(time.Second), job.Complete, "ok", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Put(advanced)

	select {
	case result := <-done:
		if result == nil || result.State != job.Complete {
			t.Fatalf("Wait returned %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not resolve within timeout")
	}
}

func TestWaitReturnsNilOnRemoval(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", 0)
	b.Put(j)

	done := make(chan *job.Job, 1)
	go func() {
		result, _ := b.Wait(context.Background(), j.ID)
		done <- result
	}()

	b.Remove(j.ID)

	select {
	case result := <-done:
		if result != nil {
			t.Fatalf("Wait after removal should return nil, got %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not resolve within timeout")
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", 0)
	b.Put(j)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Wait(ctx, j.ID); err == nil {
		t.Fatal("expected Wait to report the cancellation")
	}
}

func TestSweepExpiredMarksPastDeadline(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", time.Second)
	b.Put(j)

	swept := b.SweepExpired(epoch.Add(2 * time.Second))
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if _, ok := b.Get(j.ID); ok {
		t.Fatal("expired job should be purged from the board")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", b.Len())
	}
}

func TestSweepExpiredWakesWaitersWithExpiredSnapshot(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", time.Second)
	b.Put(j)

	done := make(chan *job.Job, 1)
	go func() {
		result, _ := b.Wait(context.Background(), j.ID)
		done <- result
	}()

	// Give Wait a chance to register as a waiter before the sweep runs.
	time.Sleep(10 * time.Millisecond)
	b.SweepExpired(epoch.Add(2 * time.Second))

	select {
	case result := <-done:
		if result == nil || result.State != job.Expired {
			t.Fatalf("Wait after expiry sweep = %+v, want an Expired snapshot", result)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not resolve within timeout")
	}

	if _, ok := b.Get(j.ID); ok {
		t.Fatal("the expired job should still be purged from the board once observed")
	}
}

func TestSweepExpiredSkipsTerminalJobs(t *testing.T) {
	b := New(nil)
	j := newTestJob(t, "a.b submit", time.Second)
	if err := j.Update(epoch, job.Complete, "ok", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Put(j)

	if swept := b.SweepExpired(epoch.Add(time.Hour)); swept != 0 {
		t.Fatalf("swept = %d, want 0", swept)
	}
}

func TestSnapshotAndApplySnapshotRoundTrip(t *testing.T) {
	source := New(nil)
	source.Put(newTestJob(t, "a.b submit", 0))
	source.Put(newTestJob(t, "a.c submit", 0))

	target := New(nil)
	target.ApplySnapshot(Snapshot{Jobs: source.Snapshot()})

	if target.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", target.Len())
	}
}

func TestReconcileEdgeDropsJobsOffThisEdge(t *testing.T) {
	b := New(nil)
	onEdge := newTestJob(t, "a.b submit", 0)
	offEdge := newTestJob(t, "x.y submit", 0)
	b.Put(onEdge)
	b.Put(offEdge)

	b.ReconcileEdge("a", "b")

	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
	if _, ok := b.Get(onEdge.ID); !ok {
		t.Fatal("job on this edge should survive reconciliation")
	}
	if _, ok := b.Get(offEdge.ID); ok {
		t.Fatal("job on a different edge should have been dropped")
	}
}
