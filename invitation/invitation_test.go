// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package invitation

import (
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
)

func testRange(t *testing.T) *net.IPNet {
	t.Helper()
	prefix := netip.MustParsePrefix("10.1.0.0/16")
	_, ipnet, err := net.ParseCIDR(prefix.String())
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}
	return ipnet
}

func TestNewAndAssertValid(t *testing.T) {
	inv, err := New("brics", "wss://brics.example.org:8080/", "notebook", testRange(t), "isambard")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inv.Close()

	if err := inv.AssertValid(); err != nil {
		t.Fatalf("AssertValid: %v", err)
	}
}

func TestNewRejectsInvalidName(t *testing.T) {
	_, err := New("brics", "wss://x/", "bad name!", testRange(t), "isambard")
	if err == nil {
		t.Fatal("expected error for a client name with a space")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	inv, err := New("brics", "wss://brics.example.org:8080/", "notebook", testRange(t), "isambard")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inv.Close()

	outerBytes := append([]byte(nil), inv.OuterKey.Bytes()...)
	innerBytes := append([]byte(nil), inv.InnerKey.Bytes()...)

	path := filepath.Join(t.TempDir(), "notebook.invite")
	if err := inv.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	if loaded.ClientName != inv.ClientName || loaded.ServerName != inv.ServerName ||
		loaded.ServerURL != inv.ServerURL || loaded.Zone != inv.Zone {
		t.Fatalf("loaded invitation fields differ: %+v vs %+v", loaded, inv)
	}
	if string(loaded.OuterKey.Bytes()) != string(outerBytes) {
		t.Fatal("outer key did not round-trip")
	}
	if string(loaded.InnerKey.Bytes()) != string(innerBytes) {
		t.Fatal("inner key did not round-trip")
	}
	if !loaded.AllowsIP(net.ParseIP("10.1.5.9")) {
		t.Fatal("expected loaded invitation to allow an IP inside its range")
	}
	if loaded.AllowsIP(net.ParseIP("10.2.0.1")) {
		t.Fatal("expected loaded invitation to reject an IP outside its range")
	}
}

func TestLoadRejectsTamperedFile(t *testing.T) {
	inv, err := New("brics", "wss://brics.example.org:8080/", "notebook", testRange(t), "isambard")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer inv.Close()

	path := filepath.Join(t.TempDir(), "notebook.invite")
	if err := inv.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Corrupt the file so it no longer parses as valid TOML.
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a corrupted invitation file")
	}
}
