// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the CLI's command tree: either a leaf with a
// Run function, or a branch dispatching to Subcommands by name.
type Command struct {
	// Name is the token typed by the user to reach this command.
	Name string

	// Summary is a one-line description shown in the parent's help
	// listing.
	Summary string

	// Flags returns a configured *pflag.FlagSet for this command,
	// called lazily on first use. Nil means the command takes no
	// flags.
	Flags func() *pflag.FlagSet

	// Subcommands are dispatched by the first positional argument.
	Subcommands []*Command

	// Run executes the command with the remaining positional
	// arguments after flag parsing. Exactly one of Run or Subcommands
	// is normally set.
	Run func(args []string) error

	parent *Command
}

// Execute parses args against c's flags (if any), dispatches to a
// matching subcommand, or calls Run.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if c.parent == nil && len(args) > 0 && isVersionFlag(args[0]) {
		fmt.Fprintln(os.Stdout, Version)
		return nil
	}

	if len(c.Subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name := args[0]
		for _, sub := range c.Subcommands {
			if sub.Name == name {
				sub.parent = c
				return sub.Execute(args[1:])
			}
		}
		c.PrintHelp(os.Stderr)
		return Usagef("unknown command %q", name)
	}

	if c.Flags != nil {
		flagSet := c.Flags()
		flagSet.SetOutput(io.Discard)
		if err := flagSet.Parse(args); err != nil {
			c.PrintHelp(os.Stderr)
			return Usagef("%s", err.Error())
		}
		args = flagSet.Args()
	}

	if c.Run != nil {
		return c.Run(args)
	}

	if len(c.Subcommands) > 0 {
		c.PrintHelp(os.Stderr)
		return Usagef("subcommand required for %q", c.fullName())
	}

	return Usagef("no action defined for %q", c.fullName())
}

// PrintHelp writes a short usage summary to w.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n\nCommands:\n", name)
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
		return
	}

	fmt.Fprintf(w, "Usage:\n  %s [flags]\n", name)
	if c.Flags != nil {
		fmt.Fprintln(w, "\nFlags:")
		fmt.Fprint(w, c.Flags().FlagUsagesWrapped(0))
	}
}

func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(s string) bool {
	return s == "-h" || s == "--help"
}

func isVersionFlag(s string) bool {
	return s == "--version"
}
