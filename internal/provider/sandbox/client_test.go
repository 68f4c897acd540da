package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/runplane/runplane/internal/provider"
)

func TestExecuteSendsJSONWithoutAttachments(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected JSON content type, got %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "output": "hello\n"})
	}))
	defer srv.Close()

	client := New(srv.URL, WithExecTimeout(9))
	result, err := client.Execute(context.Background(), provider.ExecRequest{
		Source:   "print('hello')",
		Language: "python",
		Stdin:    "42",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Succeeded || result.Output != "hello\n" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got["code"] != "print('hello')" || got["language"] != "python" || got["input"] != "42" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if got["timeout"] != float64(9) {
		t.Fatalf("expected timeout 9, got %v", got["timeout"])
	}
}

func TestExecuteUnsuccessfulResponseIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "NameError: x"})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Execute(context.Background(), provider.ExecRequest{Language: "python"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected Succeeded=false")
	}
	if result.Output != "NameError: x" {
		t.Fatalf("expected reported error text as output, got %q", result.Output)
	}
}

func TestExecuteSendsMultipartWithAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Fatalf("expected multipart content type, got %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if code := r.FormValue("code"); code != "print(open('data.txt').read())" {
			t.Fatalf("unexpected code field: %q", code)
		}
		file, header, err := r.FormFile("data_file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer func() { _ = file.Close() }()
		if header.Filename != "data.txt" {
			t.Fatalf("unexpected filename %q", header.Filename)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "output": "contents"})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Execute(context.Background(), provider.ExecRequest{
		Source:   "print(open('data.txt').read())",
		Language: "python",
		Attachments: []provider.Attachment{
			{Field: "data_file", Filename: "data.txt", Content: []byte("contents")},
		},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Succeeded {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStartServerDecodesProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/start-server" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":      true,
			"pid":          "srv-9",
			"port":         8042,
			"name":         "demo",
			"language":     "python",
			"started_at":   1700000000,
			"auto_stop_at": 1700001800,
			"status":       "running",
			"user_id":      "u-1",
			"log":          "logs/srv-9.log",
		})
	}))
	defer srv.Close()

	proc, err := New(srv.URL).StartServer(context.Background(), provider.StartServerRequest{
		Name:     "demo",
		Source:   "app.run()",
		Language: "python",
	})
	if err != nil {
		t.Fatalf("StartServer returned error: %v", err)
	}
	want := provider.ServerProcess{
		PID:        "srv-9",
		Port:       8042,
		Name:       "demo",
		Language:   "python",
		StartedAt:  1700000000,
		AutoStopAt: 1700001800,
		Status:     "running",
		OwnerID:    "u-1",
		LogRef:     "logs/srv-9.log",
	}
	if *proc != want {
		t.Fatalf("unexpected process:\n got %+v\nwant %+v", *proc, want)
	}
}

func TestStartServerRefusalBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "server limit reached"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).StartServer(context.Background(), provider.StartServerRequest{Name: "demo"})
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if perr.Backend != provider.BackendSandbox || perr.Op != "start-server" {
		t.Fatalf("unexpected error fields: %+v", perr)
	}
}

func TestListServersDecodesInventory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/list-servers" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":              true,
			"max_servers_per_user": 5,
			"servers": []map[string]any{
				{"pid": "p1", "name": "a", "port": 8001, "started_at": 100},
				{"pid": "p2", "name": "b", "port": 8002, "started_at": 200},
			},
		})
	}))
	defer srv.Close()

	inv, err := New(srv.URL).ListServers(context.Background())
	if err != nil {
		t.Fatalf("ListServers returned error: %v", err)
	}
	if inv.Limit != 5 {
		t.Fatalf("expected limit 5, got %d", inv.Limit)
	}
	if len(inv.Servers) != 2 || inv.Servers[0].PID != "p1" || inv.Servers[1].Port != 8002 {
		t.Fatalf("unexpected inventory: %+v", inv.Servers)
	}
}

func TestUserServerCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "count": 3})
	}))
	defer srv.Close()

	count, err := New(srv.URL).UserServerCount(context.Background())
	if err != nil {
		t.Fatalf("UserServerCount returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestServerLogsPostsPID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload["pid"] != "p7" {
			t.Fatalf("unexpected pid %q", payload["pid"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "log": "line one\nline two\n"})
	}))
	defer srv.Close()

	logs, err := New(srv.URL).ServerLogs(context.Background(), "p7")
	if err != nil {
		t.Fatalf("ServerLogs returned error: %v", err)
	}
	if logs != "line one\nline two\n" {
		t.Fatalf("unexpected logs %q", logs)
	}
}

func TestStopServerNotFoundMapsToSentinel(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"refusal": func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "No server found with pid p9"})
		},
		"404": func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		},
	}
	for name, handler := range handlers {
		srv := httptest.NewServer(handler)
		err := New(srv.URL).StopServer(context.Background(), "p9")
		srv.Close()
		if !errors.Is(err, provider.ErrServerNotFound) {
			t.Fatalf("%s: expected ErrServerNotFound, got %v", name, err)
		}
	}
}

func TestNon2xxStatusBecomesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := New(srv.URL).StopServer(context.Background(), "p1"); err == nil {
		t.Fatal("expected error for non-2xx status")
	} else {
		var perr *provider.Error
		if !errors.As(err, &perr) {
			t.Fatalf("expected *provider.Error, got %v", err)
		}
	}
}
