// Package provider defines the request/result types shared by the remote
// execution backends and the interfaces the orchestrator programs against.
package provider

import "context"

// LanguageDescriptor identifies one executable language as reported by the
// generic runtime. The set is replaced wholesale on refresh; descriptors are
// never mutated after fetch.
type LanguageDescriptor struct {
	Name    string
	Version string
	Aliases []string
}

// Zero reports whether the descriptor is unset (no language detected).
func (d LanguageDescriptor) Zero() bool {
	return d.Name == ""
}

// ExecRequest is a normalized single-run execution request. Constructed per
// run, never persisted.
type ExecRequest struct {
	Source      string
	Language    string
	Version     string
	Stdin       string
	Attachments []Attachment
}

// Attachment is one named file carried alongside the source on the sandbox
// multipart path.
type Attachment struct {
	Field    string
	Filename string
	Content  []byte
}

// ExecResult is the normalized outcome of a run. Output already reflects the
// stderr-over-stdout preference for backends that report both.
type ExecResult struct {
	Output    string
	Succeeded bool
}

// ServerProcess is one user-owned long-lived process as reported by the
// sandbox backend. PID is backend-assigned and unique; StartedAt is epoch
// seconds and immutable after creation.
type ServerProcess struct {
	PID        string
	Port       int
	Name       string
	Language   string
	StartedAt  int64
	AutoStopAt int64
	Status     string
	OwnerID    string
	LogRef     string
}

// ServerInventory is the authoritative view returned by a list call.
type ServerInventory struct {
	Servers []ServerProcess
	// Limit is the backend-declared per-user quota; zero when the backend
	// did not report one.
	Limit int
}

// StartServerRequest carries everything a server start needs.
type StartServerRequest struct {
	Name     string
	Source   string
	Language string
}

// Runner executes a request once against a backend.
type Runner interface {
	Name() string
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// RuntimeLister reports the executable language set.
type RuntimeLister interface {
	Runtimes(ctx context.Context) ([]LanguageDescriptor, error)
}

// ServerHost is implemented by backends that can hold ephemeral long-lived
// servers on behalf of a user.
type ServerHost interface {
	StartServer(ctx context.Context, req StartServerRequest) (*ServerProcess, error)
	StopServer(ctx context.Context, pid string) error
	ListServers(ctx context.Context) (*ServerInventory, error)
	UserServerCount(ctx context.Context) (int, error)
	ServerLogs(ctx context.Context, pid string) (string, error)
}
