package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a supervised service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
	StatusGaveUp   Status = "gave_up"
	StatusStarting Status = "starting"
)

// maxOutputLine bounds one captured line of child output.
const maxOutputLine = 64 * 1024

// Config describes one supervised service binary.
type Config struct {
	// Name identifies the service in logs. It is normally its bus address.
	Name string

	Binary string
	Args   []string

	// Env is appended to the supervisor's environment.
	Env []string

	// RestartOnFailure restarts the service after it exits on its own.
	// The latch leaves this off: a Failed latch needs an operator.
	RestartOnFailure bool

	// RestartDelay is the wait before a restart.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs one service binary and restarts it per its Config.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastError     error
	startTime     time.Time
	stopRequested bool
	exited        chan struct{} // closed when the current cmd has been reaped
	done          chan struct{} // closed when monitor returns
}

// NewManager creates a manager. Zero durations get defaults of 2s restart
// delay and 10s graceful timeout.
func NewManager(cfg Config, logger Logger) *Manager {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Manager{
		config: cfg,
		logger: logger,
		status: StatusStopped,
	}
}

// Start launches the service and monitors it until Stop or ctx ends.
//
// Returns:
//   - error: ErrAlreadyRunning, or the exec error if the binary cannot start
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", m.config.Name, ErrAlreadyRunning)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.spawn(); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		close(m.done)
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)
	return nil
}

// spawn starts the binary in its own process group. exec.CommandContext
// is not used because it sends SIGKILL, and the latch needs SIGTERM to
// de-energize its relay on the way out.
func (m *Manager) spawn() error {
	m.logger.Info("starting service",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.Command(m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from the supervisor config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	cmd.Stdout = &lineLogger{m: m, stream: "stdout"}
	cmd.Stderr = &lineLogger{m: m, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	exited := make(chan struct{})
	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.exited = exited
	m.mu.Unlock()

	m.logger.Info("service started", "name", m.config.Name, "pid", cmd.Process.Pid)
	return nil
}

// lineLogger forwards child output line by line. Services write
// structured lines of their own, so each is passed through as one record.
// exec copies into it from a single goroutine per stream.
type lineLogger struct {
	m      *Manager
	stream string
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > maxOutputLine {
		l.emit(l.buf)
		l.buf = nil
	}
	return len(p), nil
}

func (l *lineLogger) emit(line []byte) {
	l.m.logger.Info("service output",
		"name", l.m.config.Name,
		"stream", l.stream,
		"line", string(line),
	)
}

// monitor reaps the child and applies the restart policy.
func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	for {
		m.mu.RLock()
		cmd, exited := m.cmd, m.exited
		m.mu.RUnlock()

		err := cmd.Wait()
		close(exited)

		m.mu.Lock()
		stopRequested := m.stopRequested
		if stopRequested {
			m.status = StatusStopped
		} else {
			m.status = StatusFailed
			m.lastError = exitError(err)
		}
		m.mu.Unlock()

		if stopRequested {
			m.logger.Info("service stopped", "name", m.config.Name)
			return
		}

		m.logger.Error("service exited", "name", m.config.Name, "error", m.LastError())

		if !m.config.RestartOnFailure {
			m.logger.Warn("restart disabled, operator action required", "name", m.config.Name)
			return
		}
		if !m.restart(ctx) {
			return
		}
	}
}

// restart waits RestartDelay and respawns the service, retrying failed
// spawns. It reports false when monitoring should end.
func (m *Manager) restart(ctx context.Context) bool {
	for {
		m.mu.Lock()
		attempt := m.restarts + 1
		if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
			m.status = StatusGaveUp
			m.mu.Unlock()
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
			return false
		}
		m.restarts = attempt
		m.mu.Unlock()

		m.logger.Info("restarting service",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", m.config.RestartDelay,
		)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.config.RestartDelay):
		}

		if m.stopping() {
			m.setStatus(StatusStopped)
			return false
		}

		if err := m.spawn(); err != nil {
			m.logger.Error("restart failed", "name", m.config.Name, "error", err)
			m.mu.Lock()
			m.lastError = err
			m.mu.Unlock()
			continue
		}

		// Stop may have run while spawning; it only saw a dead child.
		if m.stopping() {
			m.signal(syscall.SIGTERM)
		}
		return true
	}
}

func (m *Manager) stopping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopRequested
}

// signal sends sig to the current child's process group.
func (m *Manager) signal(sig syscall.Signal) {
	m.mu.RLock()
	cmd := m.cmd
	m.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("signalling service failed", "name", m.config.Name, "signal", sig.String(), "error", err)
	}
}

// exitError keeps a clean exit distinguishable from a crash in Stats.
func exitError(err error) error {
	if err == nil {
		return ErrExitedCleanly
	}
	return err
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Stop sends SIGTERM to the service's process group, waits up to
// GracefulTimeout, then sends SIGKILL. It returns once monitoring ends.
// Stop is safe to call on a manager that never started.
func (m *Manager) Stop() error {
	m.mu.Lock()
	m.stopRequested = true
	cmd, exited, done := m.cmd, m.exited, m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	m.logger.Info("stopping service", "name", m.config.Name, "pid", cmd.Process.Pid)
	m.signal(syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful stop timed out, sending SIGKILL",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout,
		)
		m.signal(syscall.SIGKILL)
	}

	<-done
	return nil
}

// Done is closed when the manager stops monitoring: after Stop, after an
// exit that is not restarted, or when the Start context ends during a
// restart delay.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError returns why the service last exited on its own.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Stats is a snapshot of one service.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the service.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Name:     m.config.Name,
		Status:   m.status,
		Restarts: m.restarts,
	}
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		s.PID = m.cmd.Process.Pid
		s.Uptime = time.Since(m.startTime)
	}
	if m.lastError != nil {
		s.LastError = m.lastError.Error()
	}
	return s
}
