package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/queeriouslabs/secbot/internal/bus"
)

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, []string{"--config", "/nonexistent/path/secbot.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_UnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secbot.yaml")
	if err := os.WriteFile(path, []byte("latch:\n  driver:\n    type: piplates\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := run(context.Background(), []string{"--config", path}); err == nil {
		t.Fatal("run() accepted an unknown relay driver")
	}
}

// TestRun_SimulatedCycle starts the latch binary's wiring with the sim
// relay and checks it announces itself ready to the event target.
func TestRun_SimulatedCycle(t *testing.T) {
	root, err := os.MkdirTemp("", "sb")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := bus.New("broadcast", bus.Options{SocketRoot: root, AcceptAny: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := events.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer events.Stop()

	path := filepath.Join(t.TempDir(), "secbot.yaml")
	content := "logging:\n  output: stderr\n  level: error\nbus:\n  socket_root: " + root + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- run(runCtx, []string{"--config", path}) }()

	select {
	case msg := <-events.In():
		if msg.Event() != "/front_door/ready" || msg.SourceID() != "front_door_latch" {
			t.Errorf("first event = %v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no ready event")
	}

	stop()
	if err := <-done; err != nil {
		t.Errorf("run() error = %v", err)
	}
}
