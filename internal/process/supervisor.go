package process

import (
	"context"
	"fmt"
	"slices"
)

// Supervisor runs a set of services for the lifetime of a context.
type Supervisor struct {
	managers []*Manager
	logger   Logger
}

// NewSupervisor creates a supervisor for configs, started in order and
// stopped in reverse.
func NewSupervisor(configs []Config, logger Logger) (*Supervisor, error) {
	if len(configs) == 0 {
		return nil, ErrNoServices
	}
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Supervisor{logger: logger}
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if seen[cfg.Name] {
			return nil, fmt.Errorf("service %q configured twice", cfg.Name)
		}
		seen[cfg.Name] = true
		s.managers = append(s.managers, NewManager(cfg, logger))
	}
	return s, nil
}

// Run starts every service and blocks until ctx is cancelled, then stops
// them. A service that fails to start stops the ones already running.
func (s *Supervisor) Run(ctx context.Context) error {
	for i, m := range s.managers {
		if err := m.Start(ctx); err != nil {
			s.stop(s.managers[:i])
			return err
		}
	}
	s.logger.Info("all services started", "count", len(s.managers))

	<-ctx.Done()
	s.logger.Info("stopping services")
	s.stop(s.managers)
	return nil
}

func (s *Supervisor) stop(managers []*Manager) {
	for _, m := range slices.Backward(managers) {
		if err := m.Stop(); err != nil {
			s.logger.Error("stopping service failed", "name", m.config.Name, "error", err)
		}
	}
}

// Stats returns a snapshot of every service, in start order.
func (s *Supervisor) Stats() []Stats {
	out := make([]Stats, len(s.managers))
	for i, m := range s.managers {
		out[i] = m.Stats()
	}
	return out
}
