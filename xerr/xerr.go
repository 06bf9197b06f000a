// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package xerr defines the error taxonomy shared by every OpenPortal
// package: a small, closed set of Kinds (Parse, Auth, Transport,
// Crypto, Routing, Zone, Expired, Handler, Shutdown) that callers can
// test for with errors.Is/errors.As without string matching, while the
// wrapped error keeps whatever detail the failing package attached.
package xerr

import (
	"errors"
	"fmt"
)

// Kind is one error taxonomy bucket in OpenPortal's propagation policy.
// It is never compared for equality directly by callers — use
// Is(err, kind) so wrapping and re-wrapping keep working.
type Kind int

const (
	// Parse: malformed path, instruction, or argument. Reported to the
	// caller; never retried.
	Parse Kind = iota
	// Auth: handshake rejected. Connection dropped, redialed after backoff.
	Auth
	// Transport: websocket I/O failure. Dropped, redialed.
	Transport
	// Crypto: decrypt/MAC failure. Connection dropped, treated as hostile.
	Crypto
	// Routing: unknown next hop, deferred up to a timeout.
	Routing
	// Zone: path crosses a zone boundary.
	Zone
	// Expired: Job past its deadline.
	Expired
	// Handler: business-logic error at the destination agent.
	Handler
	// Shutdown: process exiting.
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Auth:
		return "auth"
	case Transport:
		return "transport"
	case Crypto:
		return "crypto"
	case Routing:
		return "routing"
	case Zone:
		return "zone"
	case Expired:
		return "expired"
	case Handler:
		return "handler"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its taxonomy Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. If err is nil, New returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf wraps a formatted error with kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind == kind
	}
	return false
}

// KindOf returns the Kind attached to err, and whether one was found.
func KindOf(err error) (Kind, bool) {
	var xe *Error
	if errors.As(err, &xe) {
		return xe.Kind, true
	}
	return 0, false
}
