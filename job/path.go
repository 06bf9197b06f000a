// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"fmt"
	"strings"

	"github.com/isambard-sc/openportal/meshid"
)

// Path is the non-empty ordered sequence of AgentNames a Job travels
// through, source first and ultimate destination (the owner) last.
// Example: waldur.brics.notebook.shared.
type Path []meshid.AgentName

// ParsePath parses a dot-separated path such as
// "waldur.brics.notebook.shared".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("job: path is empty")
	}
	parts := strings.Split(s, ".")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		name := meshid.AgentName(part)
		if err := name.Validate(); err != nil {
			return nil, fmt.Errorf("job: parsing path %q: %w", s, err)
		}
		path = append(path, name)
	}
	return path, nil
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, name := range p {
		parts[i] = name.String()
	}
	return strings.Join(parts, ".")
}

// Source returns the first hop: whoever originated the Job.
func (p Path) Source() meshid.AgentName {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// Destination returns the last hop: the authoritative owner.
func (p Path) Destination() meshid.AgentName {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// IndexOf returns the position of name in the path, or false if name
// does not appear.
func (p Path) IndexOf(name meshid.AgentName) (int, bool) {
	for i, hop := range p {
		if hop == name {
			return i, true
		}
	}
	return 0, false
}

// Next returns the hop immediately after name, or false if name is the
// destination or does not appear in the path.
func (p Path) Next(name meshid.AgentName) (meshid.AgentName, bool) {
	i, ok := p.IndexOf(name)
	if !ok || i+1 >= len(p) {
		return "", false
	}
	return p[i+1], true
}

// IsLocal reports whether the path has a single hop — the caller and
// owner are the same agent, so the Job executes without ever being
// sent over a connection.
func (p Path) IsLocal() bool {
	return len(p) == 1
}

// Edges returns the (from, to) AgentName pairs the path crosses, one
// per hop boundary. A Job lives on at most one Board per edge it has
// traversed or still must traverse; Edges enumerates those edges.
func (p Path) Edges() [][2]meshid.AgentName {
	if len(p) < 2 {
		return nil
	}
	edges := make([][2]meshid.AgentName, 0, len(p)-1)
	for i := 0; i+1 < len(p); i++ {
		edges = append(edges, [2]meshid.AgentName{p[i], p[i+1]})
	}
	return edges
}
