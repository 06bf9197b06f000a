// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package meshid

import "testing"

func TestAgentNameValidate(t *testing.T) {
	if err := AgentName("brics-notebook_1").Validate(); err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
	if err := AgentName("").Validate(); err == nil {
		t.Fatal("expected empty name to be invalid")
	}
	if err := AgentName("bad name").Validate(); err == nil {
		t.Fatal("expected space in name to be invalid")
	}
}

func TestAgentTypeValid(t *testing.T) {
	for _, valid := range []AgentType{Portal, Provider, Platform, Instance, Account, Filesystem, Bridge} {
		if !valid.Valid() {
			t.Fatalf("%q should be valid", valid)
		}
	}
	if AgentType("Robot").Valid() {
		t.Fatal("unknown agent type should not be valid")
	}
}

func TestZoneSetOverlaps(t *testing.T) {
	a := NewZoneSet("isambard", "brics")
	b := NewZoneSet("brics", "waldur")
	c := NewZoneSet("waldur")

	if !a.Overlaps(b) {
		t.Fatal("a and b share brics, expected overlap")
	}
	if a.Overlaps(c) {
		t.Fatal("a and c share nothing, expected no overlap")
	}
	if !b.Overlaps(c) {
		t.Fatal("b and c share waldur, expected overlap")
	}
}
