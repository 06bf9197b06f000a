// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"

	"github.com/isambard-sc/openportal/lib/secret"
	"github.com/isambard-sc/openportal/meshid"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := New(meshid.Portal, "brics", "wss://brics.example.org:9000/", "0.0.0.0", 9000, "isambard")

	serverPeer, err := NewServerPeer("waldur", "wss://waldur.example.org:9001/", "isambard")
	if err != nil {
		t.Fatalf("NewServerPeer: %v", err)
	}
	cfg.Service.Servers = append(cfg.Service.Servers, serverPeer)

	clientPeer, err := NewClientPeer("egi", "10.0.0.0/8", "egi")
	if err != nil {
		t.Fatalf("NewClientPeer: %v", err)
	}
	cfg.Service.Clients = append(cfg.Service.Clients, clientPeer)

	cfg.Extras["require_managed_class"] = "true"

	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.AgentType != meshid.Portal {
		t.Errorf("AgentType = %v, want Portal", got.AgentType)
	}
	if got.Service.Name != "brics" {
		t.Errorf("Service.Name = %v, want brics", got.Service.Name)
	}
	if len(got.Service.Servers) != 1 || got.Service.Servers[0].Name != "waldur" {
		t.Fatalf("Servers = %+v, want one entry named waldur", got.Service.Servers)
	}
	if len(got.Service.Clients) != 1 || got.Service.Clients[0].Name != "egi" {
		t.Fatalf("Clients = %+v, want one entry named egi", got.Service.Clients)
	}
	if got.Extras["require_managed_class"] != "true" {
		t.Errorf("Extras[require_managed_class] = %q, want %q", got.Extras["require_managed_class"], "true")
	}
}

func TestLoadRejectsUnknownAgentRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := Save(path, &Agent{AgentType: "Sorcerer"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an unrecognized agent role")
	}
}

func TestServerPeerInvitationRoundTripsKeys(t *testing.T) {
	peer, err := NewServerPeer("waldur", "wss://waldur.example.org/", "isambard")
	if err != nil {
		t.Fatalf("NewServerPeer: %v", err)
	}
	inv, err := peer.Invitation("brics")
	if err != nil {
		t.Fatalf("Invitation: %v", err)
	}
	defer inv.Close()
	if inv.ServerName != "waldur" || inv.ClientName != "brics" {
		t.Errorf("inv = %+v, want ServerName=waldur ClientName=brics", inv)
	}
	if inv.OuterKey.IsNull() || inv.InnerKey.IsNull() {
		t.Error("expected non-null keys reconstructed from config")
	}
}

func TestClientPeerInvitationRejectsBadIPRange(t *testing.T) {
	peer := ClientPeer{Name: "egi", IPRange: "not-a-cidr", OuterKey: "00", InnerKey: "00"}
	if _, err := peer.Invitation("waldur", "wss://waldur.example.org/"); err == nil {
		t.Fatal("expected Invitation to reject a malformed ip_range")
	}
}

func TestSecretsSimpleModeRoundTrips(t *testing.T) {
	var s Secrets
	if err := s.Seal(map[string]string{"api_key": "swordfish"}, nil); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	values, err := s.Open(nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if values["api_key"] != "swordfish" {
		t.Errorf("values[api_key] = %q, want swordfish", values["api_key"])
	}
}

func TestSecretsEncryptedModeRoundTrips(t *testing.T) {
	passphrase, err := secret.NewFromBytes([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer passphrase.Close()

	s := Secrets{Mode: SecretsEncrypted}
	if err := s.Seal(map[string]string{"api_key": "swordfish"}, passphrase); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if s.Blob == "" {
		t.Fatal("expected a non-empty encrypted blob")
	}
	if len(s.Values) != 0 {
		t.Fatal("expected no plaintext values to remain on the encrypted table")
	}

	values, err := s.Open(passphrase)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if values["api_key"] != "swordfish" {
		t.Errorf("values[api_key] = %q, want swordfish", values["api_key"])
	}
}

func TestSecretsEncryptedModeRejectsWrongPassphrase(t *testing.T) {
	right, err := secret.NewFromBytes([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer right.Close()
	wrong, err := secret.NewFromBytes([]byte("incorrect horse"))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	defer wrong.Close()

	s := Secrets{Mode: SecretsEncrypted}
	if err := s.Seal(map[string]string{"api_key": "swordfish"}, right); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := s.Open(wrong); err == nil {
		t.Fatal("expected Open to fail with the wrong passphrase")
	}
}
