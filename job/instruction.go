// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which Instruction variant a Job carries.
type Kind string

const (
	KindSubmit            Kind = "submit"
	KindAddUser           Kind = "add_user"
	KindRemoveUser        Kind = "remove_user"
	KindAddProject        Kind = "add_project"
	KindRemoveProject     Kind = "remove_project"
	KindAddLocalUser      Kind = "add_local_user"
	KindGetUsageReport    Kind = "get_usage_report"
	KindIsProtectedUser   Kind = "is_protected_user"
	KindGetHomeDir        Kind = "get_home_dir"
	KindSetLimit          Kind = "set_limit"
	KindGetLimit          Kind = "get_limit"
	KindGetProjectMapping Kind = "get_project_mapping"
)

// UsageRange is the [start, end) window a GetUsageReport instruction
// reports over.
type UsageRange struct {
	Start string // RFC 3339 date, e.g. "2024-01-01"
	End   string
}

func (r UsageRange) String() string { return fmt.Sprintf("%s:%s", r.Start, r.End) }

// Instruction is a tagged variant produced *only* by Parse. Its fields
// are unexported so no package outside job can assemble one directly
// from arbitrary arguments; every field is reached through a typed
// accessor that also reports whether it applies to this Instruction's
// Kind.
type Instruction struct {
	kind Kind

	userID     UserId
	projectID  ProjectId
	mapping    UserMapping
	usageRange UsageRange
	limit      float64
}

// Kind reports which variant this Instruction is.
func (i Instruction) Kind() Kind { return i.kind }

// UserID returns the UserId argument, for AddUser, RemoveUser,
// IsProtectedUser, and GetHomeDir.
func (i Instruction) UserID() (UserId, bool) {
	switch i.kind {
	case KindAddUser, KindRemoveUser, KindIsProtectedUser, KindGetHomeDir:
		return i.userID, true
	default:
		return UserId{}, false
	}
}

// ProjectID returns the ProjectId argument, for AddProject,
// RemoveProject, GetProjectMapping, SetLimit, and GetLimit.
func (i Instruction) ProjectID() (ProjectId, bool) {
	switch i.kind {
	case KindAddProject, KindRemoveProject, KindGetProjectMapping, KindSetLimit, KindGetLimit:
		return i.projectID, true
	default:
		return ProjectId{}, false
	}
}

// Mapping returns the UserMapping argument, for AddLocalUser.
func (i Instruction) Mapping() (UserMapping, bool) {
	if i.kind == KindAddLocalUser {
		return i.mapping, true
	}
	return UserMapping{}, false
}

// Range returns the UsageRange argument, for GetUsageReport.
func (i Instruction) Range() (UsageRange, bool) {
	if i.kind == KindGetUsageReport {
		return i.usageRange, true
	}
	return UsageRange{}, false
}

// Limit returns the usage-limit float argument, for SetLimit. The
// ProjectId the limit applies to is returned by ProjectID.
func (i Instruction) Limit() (float64, bool) {
	if i.kind == KindSetLimit {
		return i.limit, true
	}
	return 0, false
}

// SourcePortal returns the portal that must have originated this
// Instruction — user- and project-impacting instructions may only be
// submitted by the portal that owns the affected user or project — and
// whether that restriction applies at all. Callers that don't care can
// ignore the second value.
func (i Instruction) SourcePortal() (PortalId, bool) {
	switch i.kind {
	case KindAddUser, KindRemoveUser, KindIsProtectedUser, KindGetHomeDir:
		return i.userID.Portal, true
	case KindAddProject, KindRemoveProject, KindSetLimit, KindGetProjectMapping, KindGetLimit:
		return i.projectID.Portal, true
	case KindAddLocalUser:
		return i.mapping.User.Portal, true
	default:
		return "", false
	}
}

func (i Instruction) String() string {
	switch i.kind {
	case KindSubmit:
		return "submit"
	case KindAddUser, KindRemoveUser, KindIsProtectedUser, KindGetHomeDir:
		return fmt.Sprintf("%s %s", i.kind, i.userID)
	case KindAddProject, KindRemoveProject, KindGetProjectMapping, KindGetLimit:
		return fmt.Sprintf("%s %s", i.kind, i.projectID)
	case KindAddLocalUser:
		return fmt.Sprintf("%s %s", i.kind, i.mapping)
	case KindGetUsageReport:
		return fmt.Sprintf("%s %s", i.kind, i.usageRange)
	case KindSetLimit:
		return fmt.Sprintf("%s %s %g", i.kind, i.projectID, i.limit)
	default:
		return string(i.kind)
	}
}

// wireInstruction is the JSON shape used to replicate an already-parsed
// Instruction inside a Board delta. This is not a second construction
// path for callers — it round-trips a value that already passed
// Parse's validation once, the same way a serde derive round-trips an
// already-validated enum.
type wireInstruction struct {
	Kind       Kind        `json:"kind"`
	UserID     *UserId     `json:"user_id,omitempty"`
	ProjectID  *ProjectId  `json:"project_id,omitempty"`
	Mapping    *UserMapping `json:"mapping,omitempty"`
	UsageRange *UsageRange `json:"usage_range,omitempty"`
	Limit      *float64    `json:"limit,omitempty"`
}

func (i Instruction) MarshalJSON() ([]byte, error) {
	wire := wireInstruction{Kind: i.kind}
	switch i.kind {
	case KindAddUser, KindRemoveUser, KindIsProtectedUser, KindGetHomeDir:
		wire.UserID = &i.userID
	case KindAddProject, KindRemoveProject, KindGetProjectMapping:
		wire.ProjectID = &i.projectID
	case KindSetLimit:
		wire.ProjectID = &i.projectID
		wire.Limit = &i.limit
	case KindGetLimit:
		wire.ProjectID = &i.projectID
	case KindAddLocalUser:
		wire.Mapping = &i.mapping
	case KindGetUsageReport:
		wire.UsageRange = &i.usageRange
	case KindSubmit:
		// no arguments
	}
	return json.Marshal(wire)
}

func (i *Instruction) UnmarshalJSON(data []byte) error {
	var wire wireInstruction
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("job: decoding instruction: %w", err)
	}
	out := Instruction{kind: wire.Kind}
	if wire.UserID != nil {
		out.userID = *wire.UserID
	}
	if wire.ProjectID != nil {
		out.projectID = *wire.ProjectID
	}
	if wire.Mapping != nil {
		out.mapping = *wire.Mapping
	}
	if wire.UsageRange != nil {
		out.usageRange = *wire.UsageRange
	}
	if wire.Limit != nil {
		out.limit = *wire.Limit
	}
	*i = out
	return nil
}
