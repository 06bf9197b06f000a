// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package job

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse is the sole constructor of Instruction. It accepts a single
// space-separated line whose first word is the Kind and whose
// remaining words are that Kind's arguments, e.g.
// "add_user fred.proj.org" or "set_limit proj.org 100.5".
func Parse(line string) (Instruction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Instruction{}, fmt.Errorf("job: empty instruction")
	}
	kind := Kind(fields[0])
	args := fields[1:]

	switch kind {
	case KindSubmit:
		if len(args) != 0 {
			return Instruction{}, fmt.Errorf("job: %s takes no arguments", kind)
		}
		return Instruction{kind: kind}, nil

	case KindAddUser, KindRemoveUser, KindIsProtectedUser, KindGetHomeDir:
		if len(args) != 1 {
			return Instruction{}, fmt.Errorf("job: %s expects a single user id argument", kind)
		}
		userID, err := ParseUserId(args[0])
		if err != nil {
			return Instruction{}, fmt.Errorf("job: parsing %s argument: %w", kind, err)
		}
		return Instruction{kind: kind, userID: userID}, nil

	case KindAddProject, KindRemoveProject, KindGetProjectMapping, KindGetLimit:
		if len(args) != 1 {
			return Instruction{}, fmt.Errorf("job: %s expects a single project id argument", kind)
		}
		projectID, err := ParseProjectId(args[0])
		if err != nil {
			return Instruction{}, fmt.Errorf("job: parsing %s argument: %w", kind, err)
		}
		return Instruction{kind: kind, projectID: projectID}, nil

	case KindAddLocalUser:
		if len(args) != 1 {
			return Instruction{}, fmt.Errorf("job: %s expects a single user mapping argument", kind)
		}
		mapping, err := ParseUserMapping(args[0])
		if err != nil {
			return Instruction{}, fmt.Errorf("job: parsing %s argument: %w", kind, err)
		}
		return Instruction{kind: kind, mapping: mapping}, nil

	case KindSetLimit:
		if len(args) != 2 {
			return Instruction{}, fmt.Errorf("job: %s expects a project id and a numeric limit", kind)
		}
		projectID, err := ParseProjectId(args[0])
		if err != nil {
			return Instruction{}, fmt.Errorf("job: parsing %s argument: %w", kind, err)
		}
		limit, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return Instruction{}, fmt.Errorf("job: parsing %s limit %q: %w", kind, args[1], err)
		}
		if limit < 0 {
			return Instruction{}, fmt.Errorf("job: %s limit must not be negative, got %g", kind, limit)
		}
		return Instruction{kind: kind, projectID: projectID, limit: limit}, nil

	case KindGetUsageReport:
		if len(args) != 2 {
			return Instruction{}, fmt.Errorf("job: %s expects a start and end date", kind)
		}
		return Instruction{kind: kind, usageRange: UsageRange{Start: args[0], End: args[1]}}, nil

	default:
		return Instruction{}, fmt.Errorf("job: unrecognized instruction kind %q", fields[0])
	}
}

// MustParse is Parse but panics on error, for building fixed
// instructions in tests and constant tables.
func MustParse(line string) Instruction {
	instr, err := Parse(line)
	if err != nil {
		panic(err)
	}
	return instr
}
