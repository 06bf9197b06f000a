// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

// Package invitation implements OpenPortal's one-shot credential
// pairing: a server agent issues an Invitation carrying a fresh key
// pair, its own coordinates, and the zone the connection will belong
// to; the invited client consumes it exactly once during the handshake
// in package connection.
package invitation

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/isambard-sc/openportal/crypto"
)

// Invitation is the credential pair issued by a server agent to invite
// exactly one named client.
type Invitation struct {
	ServerName   string
	ServerURL    string
	ClientName   string
	AllowedRange *net.IPNet
	Zone         string
	OuterKey     *crypto.Key
	InnerKey     *crypto.Key
}

// wireInvitation is the TOML-serialisable shape: keys as 64-hex-char
// strings, the allowed range as CIDR text.
type wireInvitation struct {
	Server struct {
		Name string `toml:"name"`
		URL  string `toml:"url"`
	} `toml:"server"`
	Client struct {
		Name     string `toml:"name"`
		IPRange  string `toml:"ip_range"`
		OuterKey string `toml:"outer_key"`
		InnerKey string `toml:"inner_key"`
	} `toml:"client"`
	Zone string `toml:"zone"`
}

// New issues a fresh Invitation for client from allowedRange, with
// newly generated outer and inner keys. The server-side config module
// is responsible for persisting the {client, range, keys, zone} tuple
// this represents; New only constructs the value.
func New(serverName, serverURL, clientName string, allowedRange *net.IPNet, zone string) (*Invitation, error) {
	if err := validateName(clientName); err != nil {
		return nil, fmt.Errorf("invitation: invalid client name: %w", err)
	}
	if err := validateName(zone); err != nil {
		return nil, fmt.Errorf("invitation: invalid zone: %w", err)
	}
	if serverURL == "" {
		return nil, fmt.Errorf("invitation: server url is empty")
	}
	if allowedRange == nil {
		return nil, fmt.Errorf("invitation: allowed range is required")
	}

	outer, err := crypto.Generate()
	if err != nil {
		return nil, fmt.Errorf("invitation: generating outer key: %w", err)
	}
	inner, err := crypto.Generate()
	if err != nil {
		outer.Close()
		return nil, fmt.Errorf("invitation: generating inner key: %w", err)
	}

	return &Invitation{
		ServerName:   serverName,
		ServerURL:    serverURL,
		ClientName:   clientName,
		AllowedRange: allowedRange,
		Zone:         zone,
		OuterKey:     outer,
		InnerKey:     inner,
	}, nil
}

// Close releases the invitation's key material.
func (inv *Invitation) Close() error {
	var firstErr error
	if inv.OuterKey != nil {
		if err := inv.OuterKey.Close(); err != nil {
			firstErr = err
		}
	}
	if inv.InnerKey != nil {
		if err := inv.InnerKey.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AssertValid checks the invitation's structural invariants: a
// non-empty, alphanumeric (plus -/_) client name and zone, a non-empty
// server URL, an allowed range, and non-null keys. The server name is
// not checked.
func (inv *Invitation) AssertValid() error {
	if err := validateName(inv.ClientName); err != nil {
		return fmt.Errorf("invitation: %w", err)
	}
	if err := validateName(inv.Zone); err != nil {
		return fmt.Errorf("invitation: %w", err)
	}
	if inv.ServerURL == "" {
		return fmt.Errorf("invitation: server url is empty")
	}
	if inv.AllowedRange == nil {
		return fmt.Errorf("invitation: allowed range is required")
	}
	if inv.OuterKey == nil || inv.OuterKey.IsNull() {
		return fmt.Errorf("invitation: outer key is null")
	}
	if inv.InnerKey == nil || inv.InnerKey.IsNull() {
		return fmt.Errorf("invitation: inner key is null")
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return fmt.Errorf("name %q contains invalid characters (must be alphanumeric, -, or _)", name)
		}
	}
	return nil
}

// Save serialises the invitation to a TOML text block at path.
func (inv *Invitation) Save(path string) error {
	if err := inv.AssertValid(); err != nil {
		return err
	}

	var wire wireInvitation
	wire.Server.Name = inv.ServerName
	wire.Server.URL = inv.ServerURL
	wire.Client.Name = inv.ClientName
	wire.Client.IPRange = inv.AllowedRange.String()
	wire.Client.OuterKey = hex.EncodeToString(inv.OuterKey.Bytes())
	wire.Client.InnerKey = hex.EncodeToString(inv.InnerKey.Bytes())
	wire.Zone = inv.Zone

	data, err := toml.Marshal(wire)
	if err != nil {
		return fmt.Errorf("invitation: marshaling toml: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("invitation: creating parent directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("invitation: writing file: %w", err)
	}
	return nil
}

// Load parses an invitation TOML file and validates it (in case it has
// been tampered with since Save).
func Load(path string) (*Invitation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("invitation: reading file: %w", err)
	}

	var wire wireInvitation
	if err := toml.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("invitation: parsing toml: %w", err)
	}

	_, cidr, err := net.ParseCIDR(wire.Client.IPRange)
	if err != nil {
		return nil, fmt.Errorf("invitation: parsing allowed ip range %q: %w", wire.Client.IPRange, err)
	}

	outerRaw, err := hex.DecodeString(strings.TrimSpace(wire.Client.OuterKey))
	if err != nil {
		return nil, fmt.Errorf("invitation: parsing outer key: %w", err)
	}
	outer, err := crypto.FromBytes(outerRaw)
	if err != nil {
		return nil, fmt.Errorf("invitation: outer key: %w", err)
	}

	innerRaw, err := hex.DecodeString(strings.TrimSpace(wire.Client.InnerKey))
	if err != nil {
		outer.Close()
		return nil, fmt.Errorf("invitation: parsing inner key: %w", err)
	}
	inner, err := crypto.FromBytes(innerRaw)
	if err != nil {
		outer.Close()
		return nil, fmt.Errorf("invitation: inner key: %w", err)
	}

	inv := &Invitation{
		ServerName:   wire.Server.Name,
		ServerURL:    wire.Server.URL,
		ClientName:   wire.Client.Name,
		AllowedRange: cidr,
		Zone:         wire.Zone,
		OuterKey:     outer,
		InnerKey:     inner,
	}

	if err := inv.AssertValid(); err != nil {
		inv.Close()
		return nil, err
	}
	return inv, nil
}

// AllowsIP reports whether ip falls inside the invitation's allowed
// client range, checked by the server before decrypting the client's
// handshake message.
func (inv *Invitation) AllowsIP(ip net.IP) bool {
	return inv.AllowedRange.Contains(ip)
}
