// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package job

import "errors"

var (
	// ErrStaleUpdate is returned by Job.Merge when an incoming update
	// carries a Version no greater than the current one. Replication
	// is version-monotonic: stale updates are dropped, not applied.
	ErrStaleUpdate = errors.New("job: stale update, version did not advance")

	// ErrTerminal is returned when a caller tries to mutate a Job that
	// has already reached a terminal State (Complete, Error, or
	// Expired).
	ErrTerminal = errors.New("job: job already in a terminal state")

	// ErrWrongSourcePortal is returned by Parse-adjacent validation
	// when a user- or project-impacting instruction's argument names a
	// portal other than the one submitting it.
	ErrWrongSourcePortal = errors.New("job: instruction argument names a different portal than the submitter")
)
