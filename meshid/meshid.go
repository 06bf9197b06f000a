// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package meshid holds the identifiers shared across every layer of
// OpenPortal — AgentName, AgentType, and Zone — in their own leaf
// package so that job.Path, connection.Connection, exchange.Exchange,
// and agent.Agent can all depend on them without importing each other.
package meshid

import "fmt"

// AgentName is a short printable identifier unique within a zone; the
// routing key used throughout Path, Exchange, and Board.
type AgentName string

// Validate checks that name is non-empty and contains only
// alphanumerics, '-', and '_' — the same rule invitation names follow.
func (n AgentName) Validate() error {
	if n == "" {
		return fmt.Errorf("meshid: agent name is empty")
	}
	for _, r := range string(n) {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("meshid: agent name %q contains invalid characters", n)
		}
	}
	return nil
}

func (n AgentName) String() string { return string(n) }

// AgentType is the capability role a name is registered under, used
// for capability discovery via Exchange.GetAll(type).
type AgentType string

const (
	Portal     AgentType = "Portal"
	Provider   AgentType = "Provider"
	Platform   AgentType = "Platform"
	Instance   AgentType = "Instance"
	Account    AgentType = "Account"
	Filesystem AgentType = "Filesystem"
	Bridge     AgentType = "Bridge"
)

// Valid reports whether t is one of the seven recognized agent roles.
func (t AgentType) Valid() bool {
	switch t {
	case Portal, Provider, Platform, Instance, Account, Filesystem, Bridge:
		return true
	default:
		return false
	}
}

func (t AgentType) String() string { return string(t) }

// Zone is an opaque security compartment identifier. Two agents may
// exchange messages only if they share at least one zone.
type Zone string

func (z Zone) Validate() error {
	if z == "" {
		return fmt.Errorf("meshid: zone is empty")
	}
	for _, r := range string(z) {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("meshid: zone %q contains invalid characters", z)
		}
	}
	return nil
}

func (z Zone) String() string { return string(z) }

// ZoneSet is an agent's set of zone memberships. An agent belonging to
// several zones acts as a bridge between them.
type ZoneSet map[Zone]struct{}

// NewZoneSet builds a ZoneSet from a list of zones.
func NewZoneSet(zones ...Zone) ZoneSet {
	set := make(ZoneSet, len(zones))
	for _, z := range zones {
		set[z] = struct{}{}
	}
	return set
}

// Contains reports whether z is a member of the set.
func (s ZoneSet) Contains(z Zone) bool {
	_, ok := s[z]
	return ok
}

// Overlaps reports whether s and other share at least one zone.
func (s ZoneSet) Overlaps(other ZoneSet) bool {
	// Iterate the smaller set for efficiency; correctness doesn't
	// depend on which side is smaller.
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for z := range small {
		if large.Contains(z) {
			return true
		}
	}
	return false
}

// List returns the zones in the set, in unspecified order.
func (s ZoneSet) List() []Zone {
	list := make([]Zone, 0, len(s))
	for z := range s {
		list = append(list, z)
	}
	return list
}
