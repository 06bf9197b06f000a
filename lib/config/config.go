// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and saves the per-agent TOML configuration
// file: agent role, service coordinates, the outbound servers to dial
// and inbound clients to accept, free-form extras, and a secrets table
// that is either plaintext-on-disk or passphrase-encrypted.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/isambard-sc/openportal/meshid"
)

// Agent is the top-level shape of one agent's configuration file.
type Agent struct {
	AgentType meshid.AgentType `toml:"agent"`
	Service   Service          `toml:"service"`
	Extras    map[string]string `toml:"extras,omitempty"`
	Secrets   Secrets          `toml:"secrets"`
}

// Service holds this agent's own network coordinates plus the peers it
// dials (Servers) and the peers allowed to dial it (Clients).
type Service struct {
	Name    meshid.AgentName `toml:"name"`
	URL     string           `toml:"url"`
	IP      string           `toml:"ip"`
	Port    int              `toml:"port"`
	Zone    meshid.Zone      `toml:"zone"`
	Servers []ServerPeer     `toml:"servers,omitempty"`
	Clients []ClientPeer     `toml:"clients,omitempty"`
}

// ServerPeer is one outbound peer this agent dials as a client.
type ServerPeer struct {
	Name     meshid.AgentName `toml:"name"`
	URL      string           `toml:"url"`
	OuterKey string           `toml:"outer_key"`
	InnerKey string           `toml:"inner_key"`
	Zone     meshid.Zone      `toml:"zone"`
}

// ClientPeer is one inbound peer this agent accepts as a server.
type ClientPeer struct {
	Name     meshid.AgentName `toml:"name"`
	IPRange  string           `toml:"ip_range"`
	OuterKey string           `toml:"outer_key"`
	InnerKey string           `toml:"inner_key"`
	Zone     meshid.Zone      `toml:"zone"`
}

// Load reads and parses the TOML configuration file at path.
func Load(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var cfg Agent
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if !cfg.AgentType.Valid() {
		return nil, fmt.Errorf("config: %s: unrecognized agent role %q", path, cfg.AgentType)
	}
	return &cfg, nil
}

// Save serialises cfg as TOML to path with permissions restrictive
// enough for a file that may carry secret material: 0600, same as the
// invitation files this agent issues.
func Save(path string, cfg *Agent) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// New creates a fresh Agent skeleton for the given role and local
// service coordinates, with empty extras, secrets, and peer lists —
// the shape `openportal-agent init` writes out for an operator to
// populate.
func New(agentType meshid.AgentType, name meshid.AgentName, url, ip string, port int, zone meshid.Zone) *Agent {
	return &Agent{
		AgentType: agentType,
		Service: Service{
			Name: name,
			URL:  url,
			IP:   ip,
			Port: port,
			Zone: zone,
		},
		Extras:  make(map[string]string),
		Secrets: Secrets{Mode: SecretsSimple, Values: make(map[string]string)},
	}
}
