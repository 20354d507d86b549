// Package service wires one or more Reconciler+Watcher pairs into a
// long-running process with a minimal HTTP control surface: status,
// force-reindex, and watcher start/stop per configured project, plus a
// websocket stream of progress events for connected CLI/UI clients.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rlefko/codeindex/internal/logging"
	"github.com/rlefko/codeindex/internal/reconciler"
	"github.com/rlefko/codeindex/internal/watcher"
	"github.com/rlefko/codeindex/pkg/model"
)

// Project is one configured project directory: its Reconciler (the
// pipeline entry points) and, once started, its Watcher's lifecycle.
type Project struct {
	Name       string
	Collection string
	Dir        string
	Reconciler *reconciler.Reconciler
	Watcher    *watcher.Watcher

	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	lastResult *model.PipelineResult
	lastRunAt  time.Time
}

// Status is the serializable snapshot returned by the control surface.
type Status struct {
	Name            string    `json:"name"`
	Collection      string    `json:"collection"`
	Dir             string    `json:"dir"`
	WatcherRunning  bool      `json:"watcher_running"`
	LastRunAt       time.Time `json:"last_run_at,omitempty"`
	LastRunSuccess  bool      `json:"last_run_success"`
	FilesProcessed  int       `json:"files_processed"`
	EntitiesCreated int       `json:"entities_created"`
}

// Service owns every configured Project for the lifetime of the process.
type Service struct {
	mu       sync.RWMutex
	projects map[string]*Project
	hub      *progressHub
	logger   logging.Logger
}

// New builds an empty Service. Call AddProject for each configured project
// before serving the HTTP control surface.
func New() *Service {
	return &Service{
		projects: make(map[string]*Project),
		hub:      newProgressHub(),
		logger:   logging.WithComponent("service"),
	}
}

// AddProject registers a project; its watcher is started separately by
// StartWatcher. name must be unique; dir/collection are recorded for
// Status reporting only (the Reconciler already knows them).
func (s *Service) AddProject(name, collection, dir string, rec *reconciler.Reconciler, w *watcher.Watcher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[name]; exists {
		return fmt.Errorf("service: project %q already registered", name)
	}
	s.projects[name] = &Project{
		Name:       name,
		Collection: collection,
		Dir:        dir,
		Reconciler: rec,
		Watcher:    w,
	}
	return nil
}

// StartWatcher starts (or restarts) the named project's watcher.
func (s *Service) StartWatcher(name string) error {
	p, err := s.project(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true
	go func() {
		if err := p.Watcher.Run(ctx); err != nil && err != context.Canceled {
			s.logger.Warn("watcher exited", "project", name, "error", err.Error())
		}
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()
	return nil
}

// StopWatcher cooperatively stops the named project's watcher.
func (s *Service) StopWatcher(name string) error {
	p, err := s.project(name)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	p.Watcher.Stop()
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// ForceReindex runs IndexProject for the named project outside its normal
// watcher/schedule (a full pass when the ledger is empty, an incremental
// pass otherwise) and broadcasts the outcome.
func (s *Service) ForceReindex(ctx context.Context, name string) (*model.PipelineResult, error) {
	p, err := s.project(name)
	if err != nil {
		return nil, err
	}

	s.hub.broadcast(ProgressEvent{
		Collection: p.Collection, Operation: "reindex_started", Success: true, Timestamp: time.Now(),
	})

	result, err := p.Reconciler.IndexProject(ctx, false)

	p.mu.Lock()
	p.lastRunAt = time.Now()
	p.lastResult = result
	p.mu.Unlock()

	ev := ProgressEvent{Collection: p.Collection, Operation: "reindex_completed", Timestamp: time.Now()}
	if err != nil {
		ev.Message = err.Error()
	} else if result != nil {
		ev.Success = result.Success
		ev.FilesProcessed = result.FilesProcessed
		ev.EntitiesCreated = result.EntitiesCreated
	}
	s.hub.broadcast(ev)

	return result, err
}

// Status returns a snapshot of every registered project.
func (s *Service) Status() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.projects))
	for _, p := range s.projects {
		p.mu.Lock()
		st := Status{
			Name: p.Name, Collection: p.Collection, Dir: p.Dir,
			WatcherRunning: p.running, LastRunAt: p.lastRunAt,
		}
		if p.lastResult != nil {
			st.LastRunSuccess = p.lastResult.Success
			st.FilesProcessed = p.lastResult.FilesProcessed
			st.EntitiesCreated = p.lastResult.EntitiesCreated
		}
		p.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Shutdown asks every running watcher to stop. It returns without waiting
// for the watchers' Run loops to finish.
func (s *Service) Shutdown() {
	s.mu.RLock()
	names := make([]string, 0, len(s.projects))
	for name := range s.projects {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		if err := s.StopWatcher(name); err != nil {
			s.logger.Warn("error stopping watcher during shutdown", "project", name, "error", err.Error())
		}
	}
}

func (s *Service) project(name string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[name]
	if !ok {
		return nil, fmt.Errorf("service: unknown project %q", name)
	}
	return p, nil
}
