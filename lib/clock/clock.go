// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so that keepalive, watchdog, and expiry
// sweep logic can be tested deterministically instead of racing real
// wall-clock timers. Production code takes a Clock parameter and calls
// Real(); tests inject NewFake(...) and advance it explicitly.
package clock

import "time"

// Clock is the seam every timing-dependent piece of OpenPortal is
// built against. Never call time.Now, time.After, time.NewTicker, or
// time.Sleep directly outside this package.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer; read ticks from C.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop releases the ticker. No further ticks are sent on C.
func (t *Ticker) Stop() { t.stopFunc() }

type realClock struct{}

// Real returns the production Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
