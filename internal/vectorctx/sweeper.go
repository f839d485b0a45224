package vectorctx

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/aura-dev/aura/internal/observability"
)

// Sweeper periodically rebuilds the index of every tracked project. Shell
// commands mutate workspaces without going through the write path, so the
// sweep reconciles that drift.
type Sweeper struct {
	runner *cron.Cron
	logger *observability.Logger

	mu      sync.Mutex
	targets map[string]*Service
}

// NewSweeper builds a sweeper firing on the given cron schedule (standard
// five-field expressions and descriptors like "@every 30m"). An empty
// schedule leaves the sweeper inert; Track and Sweep still work.
func NewSweeper(schedule string, logger *observability.Logger) (*Sweeper, error) {
	s := &Sweeper{
		logger:  logger.WithFields("component", "index_sweeper"),
		targets: make(map[string]*Service),
	}
	if schedule != "" {
		s.runner = cron.New()
		if _, err := s.runner.AddFunc(schedule, s.Sweep); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() {
	if s.runner != nil {
		s.runner.Start()
	}
}

// Stop halts scheduling; a sweep already running finishes.
func (s *Sweeper) Stop() {
	if s.runner != nil {
		s.runner.Stop()
	}
}

// Track registers a project index for sweeping. key must be unique per
// (user, project).
func (s *Sweeper) Track(key string, svc *Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[key] = svc
}

// Forget removes a project from the sweep set.
func (s *Sweeper) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.targets, key)
}

// Sweep reindexes every tracked project now.
func (s *Sweeper) Sweep() {
	s.mu.Lock()
	targets := make(map[string]*Service, len(s.targets))
	for k, v := range s.targets {
		targets[k] = v
	}
	s.mu.Unlock()

	ctx := context.Background()
	for key, svc := range targets {
		if err := svc.ReindexProject(ctx); err != nil {
			s.logger.Warn(ctx, "scheduled reindex failed", "project", key, "error", err)
		}
	}
}
