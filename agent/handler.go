// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"

	"github.com/isambard-sc/openportal/job"
)

// Handler executes a Job that has reached its destination — this
// agent — and returns the Job carrying its new terminal (or
// still-running) state. Handle is called with the Job by value
// ownership: nothing else touches it concurrently while Handle runs,
// and the returned Job is what gets written back to the Board it
// arrived on.
type Handler interface {
	Handle(ctx context.Context, j *job.Job) (*job.Job, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, j *job.Job) (*job.Job, error)

func (f HandlerFunc) Handle(ctx context.Context, j *job.Job) (*job.Job, error) {
	return f(ctx, j)
}
