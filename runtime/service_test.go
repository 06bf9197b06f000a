// Copyright 2026 The OpenPortal Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isambard-sc/openportal/agent"
	"github.com/isambard-sc/openportal/connection"
	"github.com/isambard-sc/openportal/exchange"
	"github.com/isambard-sc/openportal/lib/config"
	"github.com/isambard-sc/openportal/meshid"
)

func waitReady(t *testing.T, s *Service) {
	t.Helper()
	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the service to become ready")
	}
}

func TestAcceptLoopHandshakesInboundClientAndAttaches(t *testing.T) {
	clientPeer, err := config.NewClientPeer("brics", "127.0.0.1/32", "isambard")
	if err != nil {
		t.Fatalf("NewClientPeer: %v", err)
	}

	cfg := &config.Agent{
		AgentType: meshid.Provider,
		Service: config.Service{
			Name:    "waldur",
			URL:     "ws://127.0.0.1:0/",
			IP:      "127.0.0.1",
			Port:    0,
			Zone:    "isambard",
			Clients: []config.ClientPeer{clientPeer},
		},
	}

	ex := exchange.New()
	attached := make(chan meshid.AgentName, 1)
	ex.SetHandler(func(ev exchange.Event) {
		if ev.Kind == exchange.EventConnected {
			attached <- ev.Peer
		}
	})
	router := agent.New("waldur", meshid.Provider, meshid.NewZoneSet("isambard"), ex, nil)

	svc := New(cfg, router)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	waitReady(t, svc)

	inv, err := clientPeer.Invitation(cfg.Service.Name, cfg.Service.URL)
	if err != nil {
		t.Fatalf("Invitation: %v", err)
	}
	defer inv.Close()

	url := fmt.Sprintf("ws://%s/", svc.Addr().String())
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	params := connection.HandshakeParams{
		LocalName:          "brics",
		LocalType:          meshid.Portal,
		LocalZones:         meshid.NewZoneSet("isambard"),
		MinProtocolVersion: connection.ProtocolVersion,
		MinEngineVersion:   connection.EngineVersion,
	}
	result, err := connection.ClientHandshake(ws, inv, params)
	if err != nil {
		t.Fatalf("ClientHandshake: %v", err)
	}
	defer result.Conn.Close(nil)

	select {
	case peer := <-attached:
		if peer != "brics" {
			t.Fatalf("attached peer = %v, want brics", peer)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the inbound connection to be attached")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to shut down")
	}
}

func TestDialOnceClosesConnectionWhenAttachFails(t *testing.T) {
	serverPeer, err := config.NewServerPeer("waldur", "placeholder", "isambard")
	if err != nil {
		t.Fatalf("NewServerPeer: %v", err)
	}

	clientCfg := &config.Agent{
		AgentType: meshid.Portal,
		Service: config.Service{
			Name:    "brics",
			Zone:    "isambard",
			Servers: []config.ServerPeer{serverPeer},
		},
	}

	serverClientPeer := config.ClientPeer{
		Name:     "brics",
		IPRange:  "127.0.0.1/32",
		OuterKey: serverPeer.OuterKey,
		InnerKey: serverPeer.InnerKey,
		Zone:     "isambard",
	}
	serverCfg := &config.Agent{
		AgentType: meshid.Provider,
		Service: config.Service{
			Name:    "waldur",
			URL:     "ws://127.0.0.1:0/",
			IP:      "127.0.0.1",
			Port:    0,
			Zone:    "isambard",
			Clients: []config.ClientPeer{serverClientPeer},
		},
	}

	serverEx := exchange.New()
	serverRouter := agent.New("waldur", meshid.Provider, meshid.NewZoneSet("isambard"), serverEx, nil)
	serverSvc := New(serverCfg, serverRouter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverSvc.Run(ctx)
	waitReady(t, serverSvc)

	clientCfg.Service.Servers[0].URL = fmt.Sprintf("ws://%s/", serverSvc.Addr().String())

	clientEx := exchange.New()
	clientRouter := agent.New("brics", meshid.Portal, meshid.NewZoneSet("isambard"), clientEx, nil)

	// Pre-register a fake peer under the server's name so the client's
	// Attach call fails with a duplicate-peer error, exercising
	// dialOnce's cleanup path.
	stub := &connection.Connection{}
	if err := clientEx.Register("waldur", stub, meshid.Provider); err != nil {
		t.Fatalf("Register: %v", err)
	}

	clientSvc := New(clientCfg, clientRouter)
	if _, err := clientSvc.dialOnce(ctx, clientCfg.Service.Servers[0]); err == nil {
		t.Fatal("dialOnce: expected an error from the failed Attach")
	}
}

func TestDialLoopRetriesOnFailureAndSucceedsOnceServerAppears(t *testing.T) {
	serverPeer, err := config.NewServerPeer("waldur", "placeholder", "isambard")
	if err != nil {
		t.Fatalf("NewServerPeer: %v", err)
	}

	clientCfg := &config.Agent{
		AgentType: meshid.Portal,
		Service: config.Service{
			Name:    "brics",
			Zone:    "isambard",
			Servers: []config.ServerPeer{serverPeer},
		},
	}

	serverClientPeer := config.ClientPeer{
		Name:     "brics",
		IPRange:  "127.0.0.1/32",
		OuterKey: serverPeer.OuterKey,
		InnerKey: serverPeer.InnerKey,
		Zone:     "isambard",
	}
	serverCfg := &config.Agent{
		AgentType: meshid.Provider,
		Service: config.Service{
			Name:    "waldur",
			URL:     "ws://127.0.0.1:0/",
			IP:      "127.0.0.1",
			Port:    0,
			Zone:    "isambard",
			Clients: []config.ClientPeer{serverClientPeer},
		},
	}

	serverEx := exchange.New()
	attached := make(chan meshid.AgentName, 1)
	serverEx.SetHandler(func(ev exchange.Event) {
		if ev.Kind == exchange.EventConnected {
			attached <- ev.Peer
		}
	})
	serverRouter := agent.New("waldur", meshid.Provider, meshid.NewZoneSet("isambard"), serverEx, nil)
	serverSvc := New(serverCfg, serverRouter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serverSvc.Run(ctx)
	waitReady(t, serverSvc)

	clientCfg.Service.Servers[0].URL = fmt.Sprintf("ws://%s/", serverSvc.Addr().String())

	clientEx := exchange.New()
	clientEx.SetHandler(func(exchange.Event) {})
	clientRouter := agent.New("brics", meshid.Portal, meshid.NewZoneSet("isambard"), clientEx, nil)
	clientSvc := New(clientCfg, clientRouter, WithRetryInterval(10*time.Millisecond))
	go clientSvc.Run(ctx)

	select {
	case peer := <-attached:
		if peer != "brics" {
			t.Fatalf("attached peer = %v, want brics", peer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the dial loop to connect")
	}
}
