// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package job implements the unit of work that flows across
// OpenPortal: an id-addressed, versioned, state-machined Job carrying
// a typed Instruction, replicated hop-by-hop along a Path.
package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/isambard-sc/openportal/meshid"
)

// State is a Job's lifecycle stage.
type State string

const (
	Pending  State = "pending"
	Running  State = "running"
	Complete State = "complete"
	Error    State = "error"
	Expired  State = "expired"
)

// Terminal reports whether s is one of the states a Job never leaves.
func (s State) Terminal() bool {
	switch s {
	case Complete, Error, Expired:
		return true
	default:
		return false
	}
}

// DefaultExpiry is the lifetime given to a Job submitted by an
// ordinary caller.
const DefaultExpiry = 60 * time.Second

// BridgeExpiry is the lifetime given to a Job originated by a bridge
// agent, which typically waits on slower external systems.
const BridgeExpiry = 60 * time.Minute

// Job is the unit of work replicated across Boards. Only the owner —
// the agent named by Path.Destination — may transition it out of
// Pending or Running; every other holder treats it as read-only and
// forwards it unchanged along the path.
type Job struct {
	ID          string
	Path        Path
	Instruction Instruction
	Version     uint64
	Created     time.Time
	Changed     time.Time
	Expires     time.Time
	State       State
	Result      any    `json:",omitempty"`
	ErrorText   string `json:",omitempty"`
}

// ParseSubmission parses a full grammar line: "<path> <instruction>
// <args...>", into the Path and Instruction a caller hands to New. It is the sole
// entry point that turns caller-supplied text into a validated
// (Path, Instruction) pair.
func ParseSubmission(line string) (Path, Instruction, error) {
	pathText, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return nil, Instruction{}, fmt.Errorf("job: submission %q is missing an instruction", line)
	}
	path, err := ParsePath(pathText)
	if err != nil {
		return nil, Instruction{}, err
	}
	instr, err := Parse(rest)
	if err != nil {
		return nil, Instruction{}, err
	}
	if portal, applies := instr.SourcePortal(); applies {
		source := path.Source()
		if string(source) != string(portal) {
			return nil, Instruction{}, fmt.Errorf(
				"job: %w: instruction names portal %q, submitted from %q",
				ErrWrongSourcePortal, portal, source)
		}
	}
	return path, instr, nil
}

// New creates a fresh Job at version 1, addressed to path, with the
// given expiry. A zero expiry means DefaultExpiry.
func New(path Path, instr Instruction, expiry time.Duration, now time.Time) *Job {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Job{
		ID:          uuid.NewString(),
		Path:        path,
		Instruction: instr,
		Version:     1,
		Created:     now,
		Changed:     now,
		Expires:     now.Add(expiry),
		State:       Pending,
	}
}

// NewFromBridge is New with BridgeExpiry, for jobs originated by a
// Bridge agent waiting on a slower external system.
func NewFromBridge(path Path, instr Instruction, now time.Time) *Job {
	return New(path, instr, BridgeExpiry, now)
}

// Clone returns a deep-enough copy safe to hand to a Board without
// aliasing the caller's Job.
func (j *Job) Clone() *Job {
	clone := *j
	clone.Path = append(Path(nil), j.Path...)
	return &clone
}

// Update advances the Job's State (and, on completion, its Result or
// ErrorText), bumping Version and Changed. Only the owning agent
// should call Update; every other holder receives the effect via
// Board replication. Update refuses to mutate a Job already in a
// terminal state.
func (j *Job) Update(now time.Time, state State, result any, errText string) error {
	if j.State.Terminal() {
		return ErrTerminal
	}
	j.State = state
	j.Result = result
	j.ErrorText = errText
	j.Version++
	j.Changed = now
	return nil
}

// MarkExpired transitions the Job to Expired, for the supervisor's
// sweep to call on Jobs past their deadline. A no-op if already
// terminal.
func (j *Job) MarkExpired(now time.Time) {
	if j.State.Terminal() {
		return
	}
	j.State = Expired
	j.Version++
	j.Changed = now
}

// IsExpired reports whether now is at or past the Job's deadline.
func (j *Job) IsExpired(now time.Time) bool {
	return !now.Before(j.Expires)
}

// Merge applies an incoming replica of the same Job id, keeping
// whichever side has the higher Version and discarding the other —
// the version-monotonic rule every Board applies on put and observe.
// Returns ErrStaleUpdate (and leaves j unchanged) when incoming does
// not carry a strictly higher version.
func (j *Job) Merge(incoming *Job) error {
	if incoming.Version <= j.Version {
		return ErrStaleUpdate
	}
	*j = *incoming
	return nil
}

// ResultView is what Result() exposes without blocking: either a
// terminal outcome or an indication that the Job is still in flight.
type ResultView struct {
	State     State
	Result    any
	ErrorText string
}

// ResultOf returns the Job's current terminal payload (Complete's
// Result, Error's ErrorText) or its in-flight State when neither
// applies yet.
func (j *Job) ResultOf() ResultView {
	return ResultView{State: j.State, Result: j.Result, ErrorText: j.ErrorText}
}

// NextHop returns the agent this Job should be forwarded to from the
// point of view of holder, and whether holder is not yet the
// destination.
func (j *Job) NextHop(holder meshid.AgentName) (meshid.AgentName, bool) {
	return j.Path.Next(holder)
}
