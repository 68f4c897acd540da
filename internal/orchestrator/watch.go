package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/runplane/runplane/internal/history"
)

// Age thresholds for the per-server state machine. All ages are wall-clock
// epoch subtractions so a delayed check still lands in the right zone.
const (
	resourceWarningAge    = 20 * time.Minute
	autoStopWarningAge    = 25 * time.Minute
	autoStopWarningWindow = time.Minute
	autoStopAge           = 30 * time.Minute

	defaultRefreshInterval = 30 * time.Second
	defaultWatchInterval   = time.Minute
)

// Start launches the reconciliation poller and the three watchers. There is
// exactly one poller feeding the shared state; Close tears everything down.
func (s *Service) Start(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	refreshInterval := s.Config.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}
	watchInterval := s.Config.WatchInterval
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}

	s.goEvery(watchCtx, refreshInterval, func(ctx context.Context, _ time.Time) {
		_ = s.Refresh(ctx)
	})
	s.goEvery(watchCtx, watchInterval, func(_ context.Context, now time.Time) {
		s.evaluateResourceWarning(now)
	})
	s.goEvery(watchCtx, watchInterval, func(_ context.Context, now time.Time) {
		s.evaluateAutoStopWarning(now)
	})
	s.goEvery(watchCtx, watchInterval, func(ctx context.Context, now time.Time) {
		s.enforceAutoStop(ctx, now)
	})
}

// Close cancels all periodic tasks and waits for them to exit.
func (s *Service) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) goEvery(ctx context.Context, every time.Duration, fn func(context.Context, time.Time)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx, s.clock())
			}
		}
	}()
}

func serverAge(now time.Time, startedAt int64) time.Duration {
	return now.Sub(time.Unix(startedAt, 0))
}

// evaluateResourceWarning raises the one-shot general warning when any server
// has been running past the resource threshold. The flag stays raised until
// acknowledged and re-arms only after the condition clears.
func (s *Service) evaluateResourceWarning(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureStateLocked()

	anyOld := false
	for _, proc := range s.servers {
		if serverAge(now, proc.StartedAt) >= resourceWarningAge {
			anyOld = true
			break
		}
	}
	if !anyOld {
		s.resourceWarningFired = false
		return
	}
	if s.resourceWarningFired {
		return
	}
	s.resourceWarningFired = true
	s.resourceWarningActive = true
	if s.Logger != nil {
		s.Logger.Info("resource warning raised", "active_servers", len(s.servers))
	}
}

// evaluateAutoStopWarning raises the per-server auto-stop warning exactly
// once inside the warning window, regardless of how many checks land there.
func (s *Service) evaluateAutoStopWarning(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureStateLocked()

	pids := make([]string, 0, len(s.servers))
	for pid := range s.servers {
		pids = append(pids, pid)
	}
	sort.Strings(pids)

	for _, pid := range pids {
		proc := s.servers[pid]
		age := serverAge(now, proc.StartedAt)
		if age < autoStopWarningAge || age >= autoStopWarningAge+autoStopWarningWindow {
			continue
		}
		if s.warned[pid] {
			continue
		}
		s.warned[pid] = true
		s.autoStopWarning = AutoStopWarning{Active: true, PID: pid, Name: proc.Name}
		if s.Logger != nil {
			s.Logger.Info("auto-stop warning raised", "pid", pid, "name", proc.Name)
		}
	}
}

// enforceAutoStop stops every server past the age limit. Each server is
// evaluated independently; a failed stop is logged and retried on the next
// pass because the server stays in the local set.
func (s *Service) enforceAutoStop(ctx context.Context, now time.Time) {
	s.mu.Lock()
	s.ensureStateLocked()
	targets := make([]string, 0)
	for pid, proc := range s.servers {
		if serverAge(now, proc.StartedAt) >= autoStopAge {
			targets = append(targets, pid)
		}
	}
	sort.Strings(targets)
	s.mu.Unlock()

	for _, pid := range targets {
		if err := s.stopServer(ctx, pid, history.KindServerReaped); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("auto-stop failed, will retry", "pid", pid, "error", err)
			}
		}
	}
}
