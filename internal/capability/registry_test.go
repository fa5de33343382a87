package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-caption/internal/bus"
	"github.com/loqalabs/loqa-caption/internal/config"
	"github.com/loqalabs/loqa-caption/internal/natsserver"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connect(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Host: "127.0.0.1", Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDescribe(t *testing.T) {
	cfg := config.Default()
	caps := Describe(cfg)
	if len(caps) != 3 {
		t.Fatalf("expected capture, stt and translate, got %+v", caps)
	}
	if caps[0].Name != "capture" || caps[0].Attributes["sample_rate"] != "48000" {
		t.Fatalf("unexpected capture capability %+v", caps[0])
	}
	if caps[2].Attributes["target"] != "ko" {
		t.Fatalf("unexpected translate capability %+v", caps[2])
	}

	cfg.Translation.Enabled = false
	if len(Describe(cfg)) != 2 {
		t.Fatal("expected translate to be omitted when disabled")
	}
}

func TestRegistryTracksNodes(t *testing.T) {
	client := connect(t)
	cfg := config.NodeConfig{ID: "node-a", HeartbeatInterval: 50, HeartbeatTimeout: 1000}

	a, err := NewRegistry(context.Background(), cfg, Describe(config.Default()), client, newLogger())
	if err != nil {
		t.Fatalf("registry a: %v", err)
	}
	defer a.Close()

	waitFor(t, a.Healthy)

	b, err := NewRegistry(context.Background(), config.NodeConfig{ID: "node-b", HeartbeatInterval: 50, HeartbeatTimeout: 1000},
		[]Capability{{Name: "stt", Tier: "openai"}}, client, newLogger())
	if err != nil {
		t.Fatalf("registry b: %v", err)
	}
	defer b.Close()

	waitFor(t, func() bool { return len(a.Nodes(nil)) == 2 })

	nodes := a.Nodes(nil)
	if nodes[0].ID != "node-a" || nodes[1].ID != "node-b" {
		t.Fatalf("unexpected nodes %+v", nodes)
	}
	if nodes[1].Role != RoleCaption {
		t.Fatalf("expected caption role, got %q", nodes[1].Role)
	}
	if got := a.Nodes(WithCapability("capture")); len(got) != 1 || got[0].ID != "node-a" {
		t.Fatalf("capture filter returned %+v", got)
	}
}

func TestRegistryMarksSilentNodesUnhealthy(t *testing.T) {
	client := connect(t)
	r, err := NewRegistry(context.Background(), config.NodeConfig{ID: "node-a", HeartbeatInterval: 60000, HeartbeatTimeout: 100}, nil, client, newLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer r.Close()

	r.updateNode("ghost", RoleCaption, nil, time.Now().Add(-time.Minute))
	r.evaluateHealth()
	if got := r.Nodes(IsHealthy); len(got) != 1 || got[0].ID != "node-a" {
		t.Fatalf("expected only node-a healthy, got %+v", got)
	}
}
