// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Command openportal-agent runs a single OpenPortal mesh agent, and
// carries the subcommands used to provision its configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/isambard-sc/openportal/cli"
)

func main() {
	err := cli.Root().Execute(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "openportal-agent:", err)
	}
	os.Exit(cli.CodeOf(err))
}
