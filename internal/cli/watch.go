package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/runplane/runplane/internal/orchestrator"
	"github.com/runplane/runplane/internal/provider"
)

type ServersWatchCommand struct {
	LogLevel string        `help:"Log level (debug|info|warn|error)"`
	Interval time.Duration `default:"30s" help:"Interval between status renders"`
}

// Run holds the service open so the age watchers can fire, re-rendering the
// server list and any lifecycle warnings until interrupted.
func (s *ServersWatchCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(s.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.watch(ctx, rc, svc)
}

func (s *ServersWatchCommand) watch(ctx context.Context, rc *runtimeContext, svc *orchestrator.Service) error {
	if err := svc.Refresh(ctx); err != nil {
		return err
	}
	svc.Start(ctx)
	defer svc.Close()

	go readWatchCommands(rc.Stdin, svc)

	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := renderStatus(rc.Stdout, svc); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// readWatchCommands consumes "keep" and "ack" lines typed while watching.
func readWatchCommands(in *os.File, svc *orchestrator.Service) {
	if in == nil {
		return
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "keep":
			svc.KeepServerRunning()
		case "ack":
			svc.AcknowledgeResourceWarning()
		}
	}
}

func renderStatus(out io.Writer, svc *orchestrator.Service) error {
	active, limit := svc.Quota()
	if _, err := fmt.Fprintf(out, "servers: %d of %d\n", active, limit); err != nil {
		return err
	}
	for _, proc := range svc.Servers() {
		if err := fprintServer(out, proc); err != nil {
			return err
		}
	}

	warnings := svc.Warnings()
	if warnings.ResourceWarningActive {
		if _, err := fmt.Fprintln(out, `warning: a server has been running for over 20 minutes (type "ack" to dismiss)`); err != nil {
			return err
		}
	}
	if warnings.AutoStop.Active {
		if _, err := fmt.Fprintf(out, "warning: server %s (pid %s) stops automatically soon (type \"keep\" to dismiss)\n",
			warnings.AutoStop.Name, warnings.AutoStop.PID); err != nil {
			return err
		}
	}
	return nil
}

func fprintServer(out io.Writer, proc provider.ServerProcess) error {
	started := time.Unix(proc.StartedAt, 0).UTC().Format(time.RFC3339)
	_, err := fmt.Fprintf(out, "- %s  %s  port=%d  lang=%s  started=%s  status=%s\n",
		proc.PID, proc.Name, proc.Port, proc.Language, started, proc.Status)
	return err
}
