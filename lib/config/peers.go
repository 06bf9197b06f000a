// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/isambard-sc/openportal/crypto"
	"github.com/isambard-sc/openportal/invitation"
	"github.com/isambard-sc/openportal/meshid"
)

// anyIPRange is the allowed-client range recorded on an Invitation
// built for outbound use, where nothing ever checks it — only a
// server handshake consults AllowedRange, and this side always plays
// the client.
var anyIPRange = func() *net.IPNet {
	_, cidr, err := net.ParseCIDR("0.0.0.0/0")
	if err != nil {
		panic(err)
	}
	return cidr
}()

// Invitation reconstructs the Invitation this agent uses to dial the
// server named by p as a client, from the keys recorded in the
// configuration file.
func (p ServerPeer) Invitation(localName meshid.AgentName) (*invitation.Invitation, error) {
	outer, inner, err := decodeKeyPair(p.OuterKey, p.InnerKey)
	if err != nil {
		return nil, fmt.Errorf("config: server peer %s: %w", p.Name, err)
	}
	return &invitation.Invitation{
		ServerName:   p.Name.String(),
		ServerURL:    p.URL,
		ClientName:   localName.String(),
		AllowedRange: anyIPRange,
		Zone:         p.Zone.String(),
		OuterKey:     outer,
		InnerKey:     inner,
	}, nil
}

// Invitation reconstructs the Invitation this agent uses to accept an
// inbound connection from the client named by p, from the keys and
// allowed range recorded in the configuration file.
func (p ClientPeer) Invitation(localName meshid.AgentName, localURL string) (*invitation.Invitation, error) {
	_, cidr, err := net.ParseCIDR(p.IPRange)
	if err != nil {
		return nil, fmt.Errorf("config: client peer %s: parsing ip_range %q: %w", p.Name, p.IPRange, err)
	}
	outer, inner, err := decodeKeyPair(p.OuterKey, p.InnerKey)
	if err != nil {
		return nil, fmt.Errorf("config: client peer %s: %w", p.Name, err)
	}
	return &invitation.Invitation{
		ServerName:   localName.String(),
		ServerURL:    localURL,
		ClientName:   p.Name.String(),
		AllowedRange: cidr,
		Zone:         p.Zone.String(),
		OuterKey:     outer,
		InnerKey:     inner,
	}, nil
}

func decodeKeyPair(outerHex, innerHex string) (outer, inner *crypto.Key, err error) {
	outerRaw, err := hex.DecodeString(strings.TrimSpace(outerHex))
	if err != nil {
		return nil, nil, fmt.Errorf("decoding outer key: %w", err)
	}
	outer, err = crypto.FromBytes(outerRaw)
	if err != nil {
		return nil, nil, fmt.Errorf("outer key: %w", err)
	}
	innerRaw, err := hex.DecodeString(strings.TrimSpace(innerHex))
	if err != nil {
		outer.Close()
		return nil, nil, fmt.Errorf("decoding inner key: %w", err)
	}
	inner, err = crypto.FromBytes(innerRaw)
	if err != nil {
		outer.Close()
		return nil, nil, fmt.Errorf("inner key: %w", err)
	}
	return outer, inner, nil
}

// NewServerPeer generates a fresh key pair for a new outbound peer
// entry, for the `server -a` CLI command.
func NewServerPeer(name meshid.AgentName, url string, zone meshid.Zone) (ServerPeer, error) {
	outer, inner, err := generateKeyPair()
	if err != nil {
		return ServerPeer{}, err
	}
	defer outer.Close()
	defer inner.Close()
	return ServerPeer{
		Name:     name,
		URL:      url,
		OuterKey: hex.EncodeToString(outer.Bytes()),
		InnerKey: hex.EncodeToString(inner.Bytes()),
		Zone:     zone,
	}, nil
}

// NewClientPeer generates a fresh key pair for a new inbound peer
// entry, for the `client -a` CLI command.
func NewClientPeer(name meshid.AgentName, ipRange string, zone meshid.Zone) (ClientPeer, error) {
	outer, inner, err := generateKeyPair()
	if err != nil {
		return ClientPeer{}, err
	}
	defer outer.Close()
	defer inner.Close()
	return ClientPeer{
		Name:     name,
		IPRange:  ipRange,
		OuterKey: hex.EncodeToString(outer.Bytes()),
		InnerKey: hex.EncodeToString(inner.Bytes()),
		Zone:     zone,
	}, nil
}

func generateKeyPair() (outer, inner *crypto.Key, err error) {
	outer, err = crypto.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("generating outer key: %w", err)
	}
	inner, err = crypto.Generate()
	if err != nil {
		outer.Close()
		return nil, nil, fmt.Errorf("generating inner key: %w", err)
	}
	return outer, inner, nil
}
