// Package piston is the HTTP client for the generic multi-language runtime:
// a runtimes listing and an execute-once endpoint reporting split
// stdout/stderr.
package piston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/runplane/runplane/internal/provider"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
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

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return provider.BackendPiston }

type runtimePayload struct {
	Language string   `json:"language"`
	Version  string   `json:"version"`
	Aliases  []string `json:"aliases"`
}

func (c *Client) Runtimes(ctx context.Context) ([]provider.LanguageDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runtimes", nil)
	if err != nil {
		return nil, fmt.Errorf("build runtimes request: %w", err)
	}
	var payload []runtimePayload
	if err := c.do(req, "runtimes", &payload); err != nil {
		return nil, err
	}

	descriptors := make([]provider.LanguageDescriptor, 0, len(payload))
	for _, rt := range payload {
		descriptors = append(descriptors, provider.LanguageDescriptor{
			Name:    rt.Language,
			Version: rt.Version,
			Aliases: append([]string(nil), rt.Aliases...),
		})
	}
	return descriptors, nil
}

type executeFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
	Stdin    string        `json:"stdin"`
}

type executeResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"run"`
	Message string `json:"message"`
}

// Execute runs the request once. Non-empty stderr is surfaced over stdout and
// marks the run as not succeeded.
func (c *Client) Execute(ctx context.Context, execReq provider.ExecRequest) (*provider.ExecResult, error) {
	payload := executeRequest{
		Language: execReq.Language,
		Version:  execReq.Version,
		Stdin:    execReq.Stdin,
		Files:    []executeFile{{Name: mainFileName(execReq.Language), Content: execReq.Source}},
	}
	for _, att := range execReq.Attachments {
		payload.Files = append(payload.Files, executeFile{Name: att.Filename, Content: string(att.Content)})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode execute request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp executeResponse
	if err := c.do(req, "execute", &resp); err != nil {
		return nil, err
	}

	if resp.Run.Stderr != "" {
		return &provider.ExecResult{Output: resp.Run.Stderr, Succeeded: false}, nil
	}
	return &provider.ExecResult{Output: resp.Run.Stdout, Succeeded: true}, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("piston %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read piston %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		var failure struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &failure) == nil && failure.Message != "" {
			message = failure.Message
		}
		return &provider.Error{Backend: provider.BackendPiston, Op: op, Message: message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode piston %s response: %w", op, err)
	}
	return nil
}

// mainFileName picks a filename for the primary source file; the runtime
// selects its entrypoint from the first file either way.
func mainFileName(language string) string {
	switch strings.ToLower(language) {
	case "python", "py":
		return "main.py"
	case "javascript", "js", "node":
		return "main.js"
	case "typescript", "ts":
		return "main.ts"
	case "go":
		return "main.go"
	case "java":
		return "Main.java"
	default:
		return "main"
	}
}
