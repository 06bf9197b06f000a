// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package job

import "testing"

func TestParseSubmit(t *testing.T) {
	instr, err := Parse("submit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr.Kind() != KindSubmit {
		t.Fatalf("Kind() = %v", instr.Kind())
	}
	if _, err := Parse("submit extra"); err == nil {
		t.Fatal("expected submit with arguments to be rejected")
	}
}

func TestParseAddUser(t *testing.T) {
	instr, err := Parse("add_user fred.proj.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, ok := instr.UserID()
	if !ok {
		t.Fatal("UserID() should apply to add_user")
	}
	if user.String() != "fred.proj.org" {
		t.Fatalf("UserID() = %q", user.String())
	}
	portal, ok := instr.SourcePortal()
	if !ok || portal != "org" {
		t.Fatalf("SourcePortal() = %q, %v", portal, ok)
	}
}

func TestParseSetLimit(t *testing.T) {
	instr, err := Parse("set_limit proj.org 100.5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	limit, ok := instr.Limit()
	if !ok || limit != 100.5 {
		t.Fatalf("Limit() = %v, %v", limit, ok)
	}
	if _, err := Parse("set_limit proj.org -1"); err == nil {
		t.Fatal("expected negative limit to be rejected")
	}
	if _, err := Parse("set_limit proj.org notanumber"); err == nil {
		t.Fatal("expected non-numeric limit to be rejected")
	}
}

func TestParseGetUsageReport(t *testing.T) {
	instr, err := Parse("get_usage_report 2024-01-01 2024-02-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rng, ok := instr.Range()
	if !ok || rng.Start != "2024-01-01" || rng.End != "2024-02-01" {
		t.Fatalf("Range() = %+v, %v", rng, ok)
	}
}

func TestParseAddLocalUser(t *testing.T) {
	instr, err := Parse("add_local_user fred.proj.org=fred_proj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mapping, ok := instr.Mapping()
	if !ok || mapping.LocalUser != "fred_proj" {
		t.Fatalf("Mapping() = %+v, %v", mapping, ok)
	}
}

func TestParseUnknownKind(t *testing.T) {
	if _, err := Parse("frobnicate x"); err == nil {
		t.Fatal("expected unknown instruction kind to be rejected")
	}
}

func TestParseWrongArity(t *testing.T) {
	if _, err := Parse("add_user"); err == nil {
		t.Fatal("expected missing argument to be rejected")
	}
	if _, err := Parse("add_user a.b.org c.d.org"); err == nil {
		t.Fatal("expected extra argument to be rejected")
	}
}

func TestParseEmptyLine(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected empty instruction line to be rejected")
	}
	if _, err := Parse("   "); err == nil {
		t.Fatal("expected whitespace-only instruction line to be rejected")
	}
}

func TestParseSubmissionMatchesSourcePortal(t *testing.T) {
	path, instr, err := ParseSubmission("org.provider add_user fred.proj.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path.String() != "org.provider" {
		t.Fatalf("path = %q", path.String())
	}
	if instr.Kind() != KindAddUser {
		t.Fatalf("Kind() = %v", instr.Kind())
	}
}

func TestParseSubmissionRejectsWrongSourcePortal(t *testing.T) {
	_, _, err := ParseSubmission("other.provider add_user fred.proj.org")
	if err == nil {
		t.Fatal("expected mismatched source portal to be rejected")
	}
}

func TestParseSubmissionAllowsInstructionsWithNoSourceRestriction(t *testing.T) {
	// submit carries no portal argument, so no source-portal check applies
	// regardless of which agent originates the path.
	_, instr, err := ParseSubmission("any.notebook submit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instr.Kind() != KindSubmit {
		t.Fatalf("Kind() = %v", instr.Kind())
	}
}
