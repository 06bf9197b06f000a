// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually-advanced Clock for deterministic tests. The
// zero value is not usable; construct with NewFake.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	tickers []*fakeTicker
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

type fakeTicker struct {
	next    time.Time
	period  time.Duration
	ch      chan time.Time
	stopped bool
}

// NewFake creates a FakeClock starting at the given time.
func NewFake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: f.now.Add(d), ch: ch}
	if d <= 0 {
		w.fired = true
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, w)
	return ch
}

func (f *FakeClock) NewTicker(d time.Duration) *Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ft := &fakeTicker{next: f.now.Add(d), period: d, ch: ch}
	f.tickers = append(f.tickers, ft)
	return &Ticker{C: ch, stopFunc: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		ft.stopped = true
	}}
}

// Sleep advances the fake clock by d and fires any waiters/tickers due.
func (f *FakeClock) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the fake clock forward by d, firing every After
// channel whose deadline has passed and every Ticker tick due, in
// order. Safe to call from a different goroutine than the one blocked
// on the returned channels.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	f.now = target

	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if !w.fired && !w.deadline.After(target) {
			w.fired = true
			w.ch <- target
			continue
		}
		remaining = append(remaining, w)
	}
	f.waiters = remaining

	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(target) {
			select {
			case t.ch <- t.next:
			default:
				// Ticker channel has capacity 1; drop the tick if the
				// consumer hasn't drained the previous one yet, matching
				// time.Ticker's documented behavior.
			}
			t.next = t.next.Add(t.period)
		}
	}
}
