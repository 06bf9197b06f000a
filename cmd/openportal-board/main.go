// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Command openportal-board is a terminal viewer for one agent's Boards:
// it polls that agent's introspection socket and renders every
// connection's Board, plus the agent's own local Board, as a live
// scrollable table of jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/isambard-sc/openportal/introspect"
)

const pollInterval = time.Second

func main() {
	var socketPath string
	flagSet := pflag.NewFlagSet("openportal-board", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "path to the agent's introspection socket")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if socketPath == "" {
		fmt.Fprintln(os.Stderr, "openportal-board: --socket is required")
		os.Exit(2)
	}

	program := tea.NewProgram(newModel(socketPath), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "openportal-board:", err)
		os.Exit(1)
	}
}

type snapshotMsg struct {
	snapshot *introspect.Snapshot
	err      error
}

type model struct {
	socketPath string
	header     string
	table      table.Model
	err        error
}

var columns = []table.Column{
	{Title: "Edge", Width: 14},
	{Title: "Job", Width: 10},
	{Title: "State", Width: 10},
	{Title: "Version", Width: 8},
	{Title: "Path", Width: 40},
}

func newModel(socketPath string) model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	style := table.DefaultStyles()
	style.Header = style.Header.Bold(true).BorderBottom(true)
	style.Selected = style.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("6"))
	t.SetStyles(style)
	return model{socketPath: socketPath, table: t}
}

func (m model) Init() tea.Cmd {
	return m.poll()
}

func (m model) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pollInterval)
		defer cancel()
		snap, err := introspect.Fetch(ctx, m.socketPath)
		return snapshotMsg{snapshot: snap, err: err}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 4)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.header = fmt.Sprintf("%s (%s) — %s", msg.snapshot.Agent, msg.snapshot.AgentType,
				msg.snapshot.GeneratedAt.Format(time.TimeOnly))
			m.table.SetRows(rowsFor(msg.snapshot))
		}
		return m, m.poll()
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

func (m model) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("openportal-board: %v\n", m.err)) + "\npress q to quit"
	}
	return headerStyle.Render(m.header) + "\n\n" + m.table.View() + "\n\npress q to quit"
}

func rowsFor(snap *introspect.Snapshot) []table.Row {
	rows := make([]table.Row, 0)
	appendBoard := func(edge string, b introspect.BoardSnapshot) {
		for _, j := range b.Jobs {
			rows = append(rows, table.Row{
				edge, j.ID[:8], string(j.State), fmt.Sprintf("%d", j.Version), j.Path,
			})
		}
	}

	appendBoard("local", snap.Local)

	peers := make([]string, 0, len(snap.Connections))
	for peer := range snap.Connections {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	for _, peer := range peers {
		appendBoard(peer, snap.Connections[peer])
	}

	return rows
}
