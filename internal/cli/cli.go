// Package cli is the interactive surface standing in for the editor UI layer.
// All orchestration state lives in the injected service; the commands here
// only collect input and render results.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/runplane/runplane/internal/history"
	"github.com/runplane/runplane/internal/langs"
	"github.com/runplane/runplane/internal/orchestrator"
	"github.com/runplane/runplane/internal/paths"
	"github.com/runplane/runplane/internal/provider"
	"github.com/runplane/runplane/internal/provider/piston"
	"github.com/runplane/runplane/internal/provider/sandbox"
	"github.com/runplane/runplane/internal/runtimeconfig"
)

type runtimeContext struct {
	Stdout     *os.File
	Stdin      *os.File
	Config     runtimeconfig.Config
	ConfigPath string

	// InputRequired is the injected input-requirement analyzer; nil means
	// no run ever needs interactive input collected up front.
	InputRequired func(language, source string) bool
}

type CLI struct {
	Run       RunCommand       `cmd:"" help:"Execute a source file"`
	Servers   ServersCommand   `cmd:"" help:"Manage ephemeral servers"`
	Languages LanguagesCommand `cmd:"" help:"List executable languages"`
	History   HistoryCommand   `cmd:"" help:"Show recent runs and server events"`
}

type RunCommand struct {
	LogLevel string   `help:"Log level (debug|info|warn|error)"`
	Language string   `help:"Language override (defaults to filename detection)"`
	Stdin    string   `help:"Program input passed as stdin"`
	Attach   []string `help:"File attachment as field=path (repeatable)"`

	File string `arg:"" required:"" help:"Source file to execute"`
}

type ServersCommand struct {
	List  ServersListCommand  `cmd:"" help:"List active servers and quota"`
	Start ServersStartCommand `cmd:"" help:"Start a server from a source file"`
	Stop  ServersStopCommand  `cmd:"" help:"Stop a server"`
	Logs  ServersLogsCommand  `cmd:"" help:"Fetch a server's log"`
	Watch ServersWatchCommand `cmd:"" help:"Watch servers and lifecycle warnings"`
}

type ServersListCommand struct {
	LogLevel string `help:"Log level (debug|info|warn|error)"`
}

type ServersStartCommand struct {
	LogLevel string `help:"Log level (debug|info|warn|error)"`
	Language string `help:"Language override (defaults to filename detection)"`

	Name string `arg:"" required:"" help:"Server name"`
	File string `arg:"" required:"" help:"Source file the server runs"`
}

type ServersStopCommand struct {
	LogLevel string `help:"Log level (debug|info|warn|error)"`

	PID string `arg:"" required:"" help:"Process id to stop"`
}

type ServersLogsCommand struct {
	LogLevel string `help:"Log level (debug|info|warn|error)"`

	PID string `arg:"" required:"" help:"Process id to fetch logs for"`
}

type LanguagesCommand struct {
	LogLevel string `help:"Log level (debug|info|warn|error)"`
}

type HistoryCommand struct {
	Limit int `default:"20" help:"Number of entries to show"`
}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command failed with exit code %d", e.code)
}

func (e exitCodeError) ExitCode() int {
	return e.code
}

type hasExitCode interface {
	ExitCode() int
}

func Run(args []string) error {
	cfg, cfgPath, err := runtimeconfig.Load()
	if err != nil {
		return err
	}

	runtimeCtx := &runtimeContext{
		Stdout:        os.Stdout,
		Stdin:         os.Stdin,
		Config:        cfg,
		ConfigPath:    cfgPath,
		InputRequired: defaultInputRequired,
	}

	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("runplane"),
		kong.Description("Execution orchestration for the collaborative editor"),
	)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return ctx.Run(runtimeCtx)
}

func ExitCode(err error) int {
	var codeErr hasExitCode
	if errors.As(err, &codeErr) {
		return codeErr.ExitCode()
	}
	return 1
}

// buildService wires provider clients, registry, and journal into one
// orchestrator instance for the lifetime of a command.
func buildService(rc *runtimeContext, logger *log.Logger) (*orchestrator.Service, error) {
	sandboxURL := rc.Config.Providers.Sandbox.BaseURL
	pistonURL := rc.Config.Providers.Piston.BaseURL
	if sandboxURL == "" && pistonURL == "" {
		return nil, fmt.Errorf("no provider endpoints configured (set providers in %s or RUNPLANE_SANDBOX_URL / RUNPLANE_PISTON_URL)", rc.ConfigPath)
	}

	var sandboxOpts []sandbox.Option
	if secs := rc.Config.Providers.Sandbox.TimeoutSeconds; secs > 0 {
		sandboxOpts = append(sandboxOpts, sandbox.WithExecTimeout(secs))
	}
	sandboxClient := sandbox.New(sandboxURL, sandboxOpts...)
	pistonClient := piston.New(pistonURL)

	registry := &langs.Registry{
		Lister: pistonClient,
		Logger: logger.With("component", "langs"),
	}

	var journal *history.Journal
	if !rc.Config.History.Disabled {
		dbPath := rc.Config.History.Path
		if dbPath == "" {
			var err error
			dbPath, err = paths.HistoryDBPath()
			if err != nil {
				return nil, fmt.Errorf("resolve history path: %w", err)
			}
		}
		var err error
		journal, err = history.Open(dbPath)
		if err != nil {
			logger.Warn("history journal unavailable", "path", dbPath, "error", err)
		}
	}

	svc := &orchestrator.Service{
		Sandbox:  sandboxClient,
		Runtime:  pistonClient,
		Registry: registry,
		Journal:  journal,
		Logger:   logger.With("component", "orchestrator"),
		Config: orchestrator.Config{
			DefaultServerLimit: rc.Config.Quota.DefaultServerLimit,
			RefreshInterval:    time.Duration(rc.Config.Watch.RefreshSeconds) * time.Second,
			WatchInterval:      time.Duration(rc.Config.Watch.WarningCheckSeconds) * time.Second,
		},
	}
	return svc, nil
}

func (r *RunCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(r.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(r.File)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}

	ctx := context.Background()
	if err := svc.Registry.Load(ctx); err != nil {
		logger.Warn("language list unavailable", "error", err)
	}

	language := r.Language
	if language == "" {
		desc := svc.Registry.DetectByFilename(r.File)
		if desc.Zero() {
			return fmt.Errorf("cannot detect language for %q; pass --language", r.File)
		}
		language = desc.Name
	}

	inputs, err := r.collectInput(rc, language, string(source))
	if err != nil {
		return err
	}
	stdin, attachments := inputs.Build()

	result, err := svc.Execute(ctx, provider.ExecRequest{
		Source:      string(source),
		Language:    language,
		Stdin:       stdin,
		Attachments: attachments,
	})
	if err != nil {
		return err
	}

	if _, err := fmt.Fprint(rc.Stdout, result.Output); err != nil {
		return err
	}
	if result.Output != "" && !strings.HasSuffix(result.Output, "\n") {
		if _, err := fmt.Fprintln(rc.Stdout); err != nil {
			return err
		}
	}
	if !result.Succeeded {
		return exitCodeError{code: 1}
	}
	return nil
}

func (s *ServersListCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(s.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := svc.Refresh(ctx); err != nil {
		return err
	}

	servers := svc.Servers()
	active, limit := svc.Quota()
	if _, err := fmt.Fprintf(rc.Stdout, "servers: %d of %d\n", active, limit); err != nil {
		return err
	}
	for _, proc := range servers {
		if err := fprintServer(rc.Stdout, proc); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServersStartCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(s.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	source, err := os.ReadFile(s.File)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}

	ctx := context.Background()
	language := s.Language
	if language == "" {
		if err := svc.Registry.Load(ctx); err != nil {
			logger.Warn("language list unavailable", "error", err)
		}
		desc := svc.Registry.DetectByFilename(s.File)
		if desc.Zero() {
			return fmt.Errorf("cannot detect language for %q; pass --language", s.File)
		}
		language = desc.Name
	}

	// Adopt the backend's authoritative view first so the quota gate rejects
	// locally instead of bouncing off the backend.
	if err := svc.Refresh(ctx); err != nil {
		return err
	}

	proc, err := svc.StartServer(ctx, provider.StartServerRequest{
		Name:     s.Name,
		Source:   string(source),
		Language: language,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(rc.Stdout, "started %s (pid %s) on port %d\n", proc.Name, proc.PID, proc.Port)
	return err
}

func (s *ServersStopCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(s.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	if err := svc.StopServer(context.Background(), s.PID); err != nil {
		return err
	}
	_, err = fmt.Fprintf(rc.Stdout, "stopped %s\n", s.PID)
	return err
}

func (s *ServersLogsCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(s.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	logText, err := svc.ServerLogs(context.Background(), s.PID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(rc.Stdout, logText)
	return err
}

func (l *LanguagesCommand) Run(rc *runtimeContext) error {
	logger, err := newLogger(l.LogLevel, "client")
	if err != nil {
		return err
	}
	svc, err := buildService(rc, logger)
	if err != nil {
		return err
	}

	if err := svc.Registry.Load(context.Background()); err != nil {
		return err
	}
	for _, lang := range svc.Registry.Languages() {
		aliases := ""
		if len(lang.Aliases) > 0 {
			aliases = " (" + strings.Join(lang.Aliases, ", ") + ")"
		}
		if _, err := fmt.Fprintf(rc.Stdout, "%s %s%s\n", lang.Name, lang.Version, aliases); err != nil {
			return err
		}
	}
	return nil
}

func (h *HistoryCommand) Run(rc *runtimeContext) error {
	dbPath := rc.Config.History.Path
	if dbPath == "" {
		var err error
		dbPath, err = paths.HistoryDBPath()
		if err != nil {
			return fmt.Errorf("resolve history path: %w", err)
		}
	}
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		_, werr := fmt.Fprintf(rc.Stdout, "no history recorded yet (%s)\n", dbPath)
		return werr
	}

	journal, err := history.Open(dbPath)
	if err != nil {
		return err
	}
	entries, err := journal.Recent(context.Background(), h.Limit)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		outcome := "ok"
		if !entry.Succeeded {
			outcome = "failed"
		}
		subject := entry.RunID
		if subject == "" {
			subject = fmt.Sprintf("%s/%s", entry.Name, entry.PID)
		}
		if _, err := fmt.Fprintf(rc.Stdout, "%s  %-16s  %-10s  %s  %s\n",
			entry.RecordedAt.Format(time.RFC3339), entry.Kind, entry.Backend, subject, outcome); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(rawLevel, component string) (*log.Logger, error) {
	levelName := strings.TrimSpace(strings.ToLower(rawLevel))
	if levelName == "" {
		levelName = "warn"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", rawLevel, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:     level,
		Formatter: log.TextFormatter,
	})
	return logger.With("component", component), nil
}
