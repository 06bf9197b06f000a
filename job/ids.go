// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"fmt"
	"strings"
)

func validateComponent(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s is empty", kind)
	}
	for _, r := range value {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("%s %q contains invalid characters", kind, value)
		}
	}
	return nil
}

// PortalId names the portal at the root of the user/project namespace,
// e.g. "org" in "fred.proj.org".
type PortalId string

// ParsePortalId validates a single portal component.
func ParsePortalId(s string) (PortalId, error) {
	if err := validateComponent("portal id", s); err != nil {
		return "", fmt.Errorf("job: %w", err)
	}
	return PortalId(s), nil
}

func (p PortalId) String() string { return string(p) }

// ProjectId is a "project.portal" pair, e.g. "proj.org".
type ProjectId struct {
	Project string
	Portal  PortalId
}

// ParseProjectId parses a "project.portal" dotted pair.
func ParseProjectId(s string) (ProjectId, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProjectId{}, fmt.Errorf("job: project id %q must have the form project.portal", s)
	}
	if err := validateComponent("project", parts[0]); err != nil {
		return ProjectId{}, fmt.Errorf("job: %w", err)
	}
	portal, err := ParsePortalId(parts[1])
	if err != nil {
		return ProjectId{}, err
	}
	return ProjectId{Project: parts[0], Portal: portal}, nil
}

func (p ProjectId) String() string { return fmt.Sprintf("%s.%s", p.Project, p.Portal) }

// UserId is a "username.project.portal" triple, e.g. "fred.proj.org".
type UserId struct {
	Username string
	Project  string
	Portal   PortalId
}

// ParseUserId parses a "username.project.portal" dotted triple.
func ParseUserId(s string) (UserId, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return UserId{}, fmt.Errorf("job: user id %q must have the form username.project.portal", s)
	}
	if err := validateComponent("username", parts[0]); err != nil {
		return UserId{}, fmt.Errorf("job: %w", err)
	}
	if err := validateComponent("project", parts[1]); err != nil {
		return UserId{}, fmt.Errorf("job: %w", err)
	}
	portal, err := ParsePortalId(parts[2])
	if err != nil {
		return UserId{}, err
	}
	return UserId{Username: parts[0], Project: parts[1], Portal: portal}, nil
}

func (u UserId) String() string {
	return fmt.Sprintf("%s.%s.%s", u.Username, u.Project, u.Portal)
}

// ProjectId returns the project.portal this user belongs to.
func (u UserId) ProjectId() ProjectId {
	return ProjectId{Project: u.Project, Portal: u.Portal}
}

// UserMapping pairs a portal UserId with the local account name it
// maps to on a Provider/Instance, the argument to AddLocalUser.
type UserMapping struct {
	User      UserId
	LocalUser string
}

// ParseUserMapping parses "userid=localuser", e.g.
// "fred.proj.org=fred_proj".
func ParseUserMapping(s string) (UserMapping, error) {
	idPart, localPart, ok := strings.Cut(s, "=")
	if !ok {
		return UserMapping{}, fmt.Errorf("job: user mapping %q must have the form userid=localuser", s)
	}
	userID, err := ParseUserId(idPart)
	if err != nil {
		return UserMapping{}, err
	}
	if err := validateComponent("local user", localPart); err != nil {
		return UserMapping{}, fmt.Errorf("job: %w", err)
	}
	return UserMapping{User: userID, LocalUser: localPart}, nil
}

func (m UserMapping) String() string {
	return fmt.Sprintf("%s=%s", m.User, m.LocalUser)
}
