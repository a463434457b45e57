package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const waitTimeout = 10 * time.Second

type recordLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordLogger) record(msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			r.lines = append(r.lines, args[i+1].(string))
		}
	}
}

func (r *recordLogger) Debug(msg string, args ...any) { r.record(msg, args...) }
func (r *recordLogger) Info(msg string, args ...any)  { r.record(msg, args...) }
func (r *recordLogger) Warn(msg string, args ...any)  { r.record(msg, args...) }
func (r *recordLogger) Error(msg string, args ...any) { r.record(msg, args...) }

func (r *recordLogger) has(line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l == line {
			return true
		}
	}
	return false
}

// script writes an executable shell script into a temp dir.
func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svc.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitDone(t *testing.T, m *Manager) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("manager still monitoring, status %s", m.Status())
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "authorizer", Binary: "/bin/true"}, nil)

	if m.config.RestartDelay != 2*time.Second {
		t.Errorf("RestartDelay = %v", m.config.RestartDelay)
	}
	if m.config.GracefulTimeout != 10*time.Second {
		t.Errorf("GracefulTimeout = %v", m.config.GracefulTimeout)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q", m.Status())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}

func TestManager_CapturesOutputAndNoRestart(t *testing.T) {
	log := &recordLogger{}
	m := NewManager(Config{
		Name:   "front_door_latch",
		Binary: script(t, `echo '{"msg":"relay failed"}'; echo oops >&2; exit 3`),
	}, log)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, m)

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want failed", m.Status())
	}
	if m.LastError() == nil || !strings.Contains(m.LastError().Error(), "exit status 3") {
		t.Errorf("LastError() = %v", m.LastError())
	}
	if !log.has(`{"msg":"relay failed"}`) || !log.has("oops") {
		t.Errorf("captured lines = %q", log.lines)
	}
	if m.Stats().Restarts != 0 {
		t.Errorf("Restarts = %d, want 0", m.Stats().Restarts)
	}
}

func TestManager_RestartLimit(t *testing.T) {
	m := NewManager(Config{
		Name:               "authorizer",
		Binary:             "/bin/true",
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartAttempts: 2,
	}, nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, m)

	st := m.Stats()
	if st.Status != StatusGaveUp {
		t.Errorf("Status = %q, want gave_up", st.Status)
	}
	if st.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", st.Restarts)
	}
	if !errors.Is(m.LastError(), ErrExitedCleanly) {
		t.Errorf("LastError() = %v", m.LastError())
	}
}

func TestManager_StopGraceful(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "terminated")
	m := NewManager(Config{
		Name:             "front_door_latch",
		Binary:           script(t, `trap 'touch `+marker+`; exit 0' TERM; while true; do sleep 0.05; done`),
		RestartOnFailure: true,
		GracefulTimeout:  5 * time.Second,
	}, nil)

	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v", err)
	}
	if m.Stats().PID == 0 {
		t.Error("no PID while running")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q", m.Status())
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("service did not receive SIGTERM")
	}
}

func TestManager_StopEscalates(t *testing.T) {
	m := NewManager(Config{
		Name:            "stubborn",
		Binary:          script(t, `trap '' TERM; while true; do sleep 0.05; done`),
		GracefulTimeout: 200 * time.Millisecond,
	}, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if time.Since(start) > waitTimeout {
		t.Error("Stop did not escalate to SIGKILL")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q", m.Status())
	}
}

func TestManager_MissingBinary(t *testing.T) {
	m := NewManager(Config{Name: "ghost", Binary: filepath.Join(t.TempDir(), "nope")}, nil)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() of a missing binary succeeded")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q", m.Status())
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSupervisor(t *testing.T) {
	if _, err := NewSupervisor(nil, nil); !errors.Is(err, ErrNoServices) {
		t.Errorf("NewSupervisor(nil) error = %v", err)
	}
	if _, err := NewSupervisor([]Config{{Name: "a"}, {Name: "a"}}, nil); err == nil {
		t.Error("duplicate service accepted")
	}

	loop := script(t, `while true; do sleep 0.05; done`)
	sup, err := NewSupervisor([]Config{
		{Name: "authorizer", Binary: loop, GracefulTimeout: time.Second},
		{Name: "front_door_latch", Binary: loop, GracefulTimeout: time.Second},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.Now().Add(waitTimeout)
	for {
		st := sup.Stats()
		if st[0].Status == StatusRunning && st[1].Status == StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("services not running: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	for _, st := range sup.Stats() {
		if st.Status != StatusStopped {
			t.Errorf("%s status = %q", st.Name, st.Status)
		}
	}
}

func TestSupervisor_StartFailureStopsOthers(t *testing.T) {
	loop := script(t, `while true; do sleep 0.05; done`)
	sup, err := NewSupervisor([]Config{
		{Name: "authorizer", Binary: loop, GracefulTimeout: time.Second},
		{Name: "ghost", Binary: filepath.Join(t.TempDir(), "nope")},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with a missing binary")
	}
	if st := sup.Stats()[0]; st.Status != StatusStopped {
		t.Errorf("authorizer status = %q, want stopped", st.Status)
	}
}
