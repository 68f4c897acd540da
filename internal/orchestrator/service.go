// Package orchestrator holds the composed execution state behind the editor
// UI: run routing, ephemeral server lifecycle and quota, and the clock-driven
// warning subsystem.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/runplane/runplane/internal/history"
	"github.com/runplane/runplane/internal/langs"
	"github.com/runplane/runplane/internal/provider"
)

// SandboxBackend is the provider that executes python runs and hosts
// ephemeral servers.
type SandboxBackend interface {
	provider.Runner
	provider.ServerHost
}

// Config tunes quota defaults and watcher cadence. Zero values fall back to
// package defaults.
type Config struct {
	DefaultServerLimit int
	RefreshInterval    time.Duration
	WatchInterval      time.Duration
}

const defaultServerLimit = 5

var (
	ErrRunInFlight       = errors.New("a run is already in progress")
	ErrQuotaExceeded     = errors.New("server quota reached")
	ErrInvalidServerName = errors.New("invalid server name")
	ErrExecutionFailed   = errors.New("execution failed")
)

var serverNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)

// AutoStopWarning names the server an impending automatic stop applies to.
type AutoStopWarning struct {
	Active bool
	PID    string
	Name   string
}

// WarningState is the UI-facing snapshot of both warning flags.
type WarningState struct {
	ResourceWarningActive bool
	AutoStop              AutoStopWarning
}

// Service is the single state holder the UI layer issues commands to. It is
// constructed and injected at startup; tests build isolated instances.
type Service struct {
	Sandbox  SandboxBackend
	Runtime  provider.Runner
	Registry *langs.Registry
	Journal  *history.Journal
	Logger   *log.Logger
	Config   Config

	// now overrides the wall clock in tests.
	now func() time.Time

	mu          sync.Mutex
	servers     map[string]provider.ServerProcess
	activeCount int
	limit       int
	runInFlight bool

	resourceWarningActive bool
	resourceWarningFired  bool
	autoStopWarning       AutoStopWarning
	warned                map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *Service) ensureStateLocked() {
	if s.servers == nil {
		s.servers = map[string]provider.ServerProcess{}
	}
	if s.warned == nil {
		s.warned = map[string]bool{}
	}
	if s.limit == 0 {
		s.limit = s.Config.DefaultServerLimit
		if s.limit <= 0 {
			s.limit = defaultServerLimit
		}
	}
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Execute routes one run. Runs are single-flight: a second call while one is
// outstanding is rejected with ErrRunInFlight, and the guard clears on every
// outcome.
func (s *Service) Execute(ctx context.Context, req provider.ExecRequest) (provider.ExecResult, error) {
	s.mu.Lock()
	s.ensureStateLocked()
	if s.runInFlight {
		s.mu.Unlock()
		return provider.ExecResult{}, ErrRunInFlight
	}
	s.runInFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.runInFlight = false
		s.mu.Unlock()
	}()

	runID := newRunID()
	result, backendName, err := s.route(ctx, req)
	s.recordHistory(ctx, history.Entry{
		Kind:      history.KindExecution,
		RunID:     runID,
		Language:  req.Language,
		Backend:   backendName,
		Succeeded: err == nil && result.Succeeded,
	})
	if err != nil {
		return provider.ExecResult{}, err
	}
	return result, nil
}

// StartServer validates the name and quota locally before any network call,
// then inserts the backend-confirmed process and reconciles.
func (s *Service) StartServer(ctx context.Context, req provider.StartServerRequest) (provider.ServerProcess, error) {
	if !serverNameRE.MatchString(req.Name) {
		return provider.ServerProcess{}, fmt.Errorf("%w: %q must match [A-Za-z0-9_-]{1,50}", ErrInvalidServerName, req.Name)
	}

	s.mu.Lock()
	s.ensureStateLocked()
	if s.activeCount >= s.limit {
		active, limit := s.activeCount, s.limit
		s.mu.Unlock()
		return provider.ServerProcess{}, fmt.Errorf("%w: %d of %d servers active", ErrQuotaExceeded, active, limit)
	}
	s.mu.Unlock()

	proc, err := s.Sandbox.StartServer(ctx, req)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("server start failed", "name", req.Name, "error", err)
		}
		return provider.ServerProcess{}, fmt.Errorf("start server %q: %w", req.Name, err)
	}

	s.mu.Lock()
	s.servers[proc.PID] = *proc
	s.activeCount++
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Info("server started", "pid", proc.PID, "name", proc.Name, "port", proc.Port)
	}
	s.recordHistory(ctx, history.Entry{
		Kind:      history.KindServerStart,
		PID:       proc.PID,
		Name:      proc.Name,
		Language:  proc.Language,
		Backend:   provider.BackendSandbox,
		Succeeded: true,
	})

	if err := s.Refresh(ctx); err != nil && s.Logger != nil {
		s.Logger.Warn("post-start refresh failed", "error", err)
	}
	return *proc, nil
}

// StopServer stops a server. It is idempotent: stopping a process that is no
// longer in the local set leaves the quota count untouched.
func (s *Service) StopServer(ctx context.Context, pid string) error {
	return s.stopServer(ctx, pid, history.KindServerStop)
}

func (s *Service) stopServer(ctx context.Context, pid, kind string) error {
	if err := s.Sandbox.StopServer(ctx, pid); err != nil {
		// A server the backend no longer knows counts as stopped; the local
		// entry still has to go.
		if !errors.Is(err, provider.ErrServerNotFound) {
			if s.Logger != nil {
				s.Logger.Warn("server stop failed", "pid", pid, "error", err)
			}
			return fmt.Errorf("stop server %s: %w", pid, err)
		}
		if s.Logger != nil {
			s.Logger.Debug("server already gone", "pid", pid)
		}
	}

	s.mu.Lock()
	s.ensureStateLocked()
	name := ""
	if proc, ok := s.servers[pid]; ok {
		name = proc.Name
		delete(s.servers, pid)
		if s.activeCount > 0 {
			s.activeCount--
		}
	}
	delete(s.warned, pid)
	if s.autoStopWarning.Active && s.autoStopWarning.PID == pid {
		s.autoStopWarning = AutoStopWarning{}
	}
	s.mu.Unlock()

	if s.Logger != nil {
		s.Logger.Info("server stopped", "pid", pid, "name", name, "kind", kind)
	}
	s.recordHistory(ctx, history.Entry{
		Kind:      kind,
		PID:       pid,
		Name:      name,
		Backend:   provider.BackendSandbox,
		Succeeded: true,
	})
	return nil
}

// Refresh replaces the local server set and quota with the backend's
// authoritative view. A failed fetch leaves the last known good state
// untouched.
func (s *Service) Refresh(ctx context.Context) error {
	inv, err := s.Sandbox.ListServers(ctx)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("server refresh failed, keeping last known state", "error", err)
		}
		return fmt.Errorf("refresh servers: %w", err)
	}
	count, countErr := s.Sandbox.UserServerCount(ctx)

	s.mu.Lock()
	s.ensureStateLocked()
	next := make(map[string]provider.ServerProcess, len(inv.Servers))
	for _, proc := range inv.Servers {
		if _, dup := next[proc.PID]; dup {
			continue
		}
		next[proc.PID] = proc
	}
	s.servers = next
	if countErr == nil {
		s.activeCount = count
	} else {
		s.activeCount = len(next)
	}
	if inv.Limit > 0 {
		s.limit = inv.Limit
	}
	for pid := range s.warned {
		if _, ok := next[pid]; !ok {
			delete(s.warned, pid)
		}
	}
	if s.autoStopWarning.Active {
		if _, ok := next[s.autoStopWarning.PID]; !ok {
			s.autoStopWarning = AutoStopWarning{}
		}
	}
	s.mu.Unlock()

	if countErr != nil && s.Logger != nil {
		s.Logger.Debug("user server count unavailable, derived from list", "error", countErr)
	}
	return nil
}

// ServerLogs fetches the log content for a server; empty on failure.
func (s *Service) ServerLogs(ctx context.Context, pid string) (string, error) {
	logText, err := s.Sandbox.ServerLogs(ctx, pid)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("server log fetch failed", "pid", pid, "error", err)
		}
		return "", fmt.Errorf("fetch logs for %s: %w", pid, err)
	}
	return logText, nil
}

// Servers returns a copy of the active set ordered by start time.
func (s *Service) Servers() []provider.ServerProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureStateLocked()

	items := make([]provider.ServerProcess, 0, len(s.servers))
	for _, proc := range s.servers {
		items = append(items, proc)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].StartedAt != items[j].StartedAt {
			return items[i].StartedAt < items[j].StartedAt
		}
		return items[i].PID < items[j].PID
	})
	return items
}

// Quota reports the current active count and the backend-declared limit.
func (s *Service) Quota() (active, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureStateLocked()
	return s.activeCount, s.limit
}

// Warnings snapshots both warning flags for the UI layer.
func (s *Service) Warnings() WarningState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WarningState{
		ResourceWarningActive: s.resourceWarningActive,
		AutoStop:              s.autoStopWarning,
	}
}

// AcknowledgeResourceWarning dismisses the general resource warning. It will
// not re-fire until the condition clears and recurs.
func (s *Service) AcknowledgeResourceWarning() {
	s.mu.Lock()
	s.resourceWarningActive = false
	s.mu.Unlock()
}

// KeepServerRunning dismisses the current auto-stop warning without touching
// the server. The server is still stopped automatically when it reaches the
// age limit.
func (s *Service) KeepServerRunning() {
	s.mu.Lock()
	s.autoStopWarning = AutoStopWarning{}
	s.mu.Unlock()
}

func (s *Service) recordHistory(ctx context.Context, entry history.Entry) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Record(ctx, entry); err != nil && s.Logger != nil {
		s.Logger.Warn("history record failed", "kind", entry.Kind, "error", err)
	}
}
