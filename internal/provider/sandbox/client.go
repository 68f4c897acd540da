// Package sandbox is the HTTP client for the sandboxed execution service:
// single-shot execution (JSON or multipart when attachments are present) and
// the ephemeral server surface (start/stop/list/logs/quota).
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/runplane/runplane/internal/provider"
)

const defaultExecTimeout = 15 * time.Second

type Client struct {
	baseURL     string
	httpClient  *http.Client
	execSeconds int64
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithExecTimeout sets the timeout, in seconds, forwarded on execute requests.
func WithExecTimeout(seconds int64) Option {
	return func(c *Client) {
		if seconds > 0 {
			c.execSeconds = seconds
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		execSeconds: int64(defaultExecTimeout / time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return provider.BackendSandbox }

type executeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"input"`
	Timeout  int64  `json:"timeout"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
}

// Execute runs the request once. A response with success=false yields an
// ExecResult with Succeeded=false and the reported error text as output; the
// caller decides whether that triggers a fallback.
func (c *Client) Execute(ctx context.Context, req provider.ExecRequest) (*provider.ExecResult, error) {
	var resp executeResponse
	if len(req.Attachments) > 0 {
		if err := c.postMultipart(ctx, "/execute", req, &resp); err != nil {
			return nil, err
		}
	} else {
		payload := executeRequest{
			Code:     req.Source,
			Language: req.Language,
			Input:    req.Stdin,
			Timeout:  c.execSeconds,
		}
		if err := c.postJSON(ctx, "/execute", payload, &resp); err != nil {
			return nil, err
		}
	}

	if !resp.Success {
		out := resp.Error
		if out == "" {
			out = resp.Output
		}
		return &provider.ExecResult{Output: out, Succeeded: false}, nil
	}
	return &provider.ExecResult{Output: resp.Output, Succeeded: true}, nil
}

type startServerRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Name     string `json:"name"`
}

type serverPayload struct {
	PID       string `json:"pid"`
	Port      int    `json:"port"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	StartedAt int64  `json:"started_at"`
	AutoStop  int64  `json:"auto_stop_at"`
	Status    string `json:"status"`
	Runner    string `json:"runner"`
	UserID    string `json:"user_id"`
	Log       string `json:"log"`
}

type startServerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	serverPayload
}

func (c *Client) StartServer(ctx context.Context, req provider.StartServerRequest) (*provider.ServerProcess, error) {
	payload := startServerRequest{
		Code:     req.Source,
		Language: req.Language,
		Name:     req.Name,
	}
	var resp startServerResponse
	if err := c.postJSON(ctx, "/start-server", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &provider.Error{Backend: c.Name(), Op: "start-server", Message: resp.Error}
	}
	proc := resp.serverPayload.process()
	return &proc, nil
}

func (p serverPayload) process() provider.ServerProcess {
	return provider.ServerProcess{
		PID:        p.PID,
		Port:       p.Port,
		Name:       p.Name,
		Language:   p.Language,
		StartedAt:  p.StartedAt,
		AutoStopAt: p.AutoStop,
		Status:     p.Status,
		OwnerID:    p.UserID,
		LogRef:     p.Log,
	}
}

type stopServerResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) StopServer(ctx context.Context, pid string) error {
	payload := map[string]string{"pid": pid}
	var resp stopServerResponse
	if err := c.postJSON(ctx, "/stop", payload, &resp); err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", provider.ErrServerNotFound, pid)
		}
		return err
	}
	if !resp.Success {
		if stopNotFound(resp.Error) {
			return fmt.Errorf("%w: %s", provider.ErrServerNotFound, pid)
		}
		return &provider.Error{Backend: c.Name(), Op: "stop", Message: resp.Error}
	}
	return nil
}

// stopNotFound matches the backend's report of an unknown pid.
func stopNotFound(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "no server") || strings.Contains(m, "not found")
}

type listServersResponse struct {
	Success    bool            `json:"success"`
	Error      string          `json:"error"`
	Servers    []serverPayload `json:"servers"`
	MaxServers int             `json:"max_servers_per_user"`
}

func (c *Client) ListServers(ctx context.Context) (*provider.ServerInventory, error) {
	var resp listServersResponse
	if err := c.getJSON(ctx, "/list-servers", &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &provider.Error{Backend: c.Name(), Op: "list-servers", Message: resp.Error}
	}
	inv := &provider.ServerInventory{
		Servers: make([]provider.ServerProcess, 0, len(resp.Servers)),
		Limit:   resp.MaxServers,
	}
	for _, s := range resp.Servers {
		inv.Servers = append(inv.Servers, s.process())
	}
	return inv, nil
}

type userServersResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Count   int    `json:"count"`
}

func (c *Client) UserServerCount(ctx context.Context) (int, error) {
	var resp userServersResponse
	if err := c.getJSON(ctx, "/user-servers", &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		return 0, &provider.Error{Backend: c.Name(), Op: "user-servers", Message: resp.Error}
	}
	return resp.Count, nil
}

type logsResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Log     string `json:"log"`
}

func (c *Client) ServerLogs(ctx context.Context, pid string) (string, error) {
	payload := map[string]string{"pid": pid}
	var resp logsResponse
	if err := c.postJSON(ctx, "/logs", payload, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &provider.Error{Backend: c.Name(), Op: "logs", Message: resp.Error}
	}
	return resp.Log, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *Client) postMultipart(ctx context.Context, path string, execReq provider.ExecRequest, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"code":     execReq.Source,
		"language": execReq.Language,
		"input":    execReq.Stdin,
		"timeout":  strconv.FormatInt(c.execSeconds, 10),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("write multipart field %q: %w", name, err)
		}
	}
	for _, att := range execReq.Attachments {
		part, err := writer.CreateFormFile(att.Field, att.Filename)
		if err != nil {
			return fmt.Errorf("create multipart file %q: %w", att.Field, err)
		}
		if _, err := part.Write(att.Content); err != nil {
			return fmt.Errorf("write multipart file %q: %w", att.Field, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read sandbox %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.Error{
			Backend: provider.BackendSandbox,
			Op:      strings.TrimPrefix(path, "/"),
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Status:  resp.StatusCode,
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode sandbox %s response: %w", path, err)
	}
	return nil
}
