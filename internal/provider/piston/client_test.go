package piston

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/runplane/runplane/internal/provider"
)

func TestRuntimesDecodesDescriptors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/runtimes" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"language": "python", "version": "3.12.0", "aliases": []string{"py", "py3"}},
			{"language": "go", "version": "1.22.0", "aliases": []string{"golang"}},
		})
	}))
	defer srv.Close()

	descriptors, err := New(srv.URL).Runtimes(context.Background())
	if err != nil {
		t.Fatalf("Runtimes returned error: %v", err)
	}
	if len(descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descriptors))
	}
	if descriptors[0].Name != "python" || descriptors[0].Version != "3.12.0" {
		t.Fatalf("unexpected descriptor %+v", descriptors[0])
	}
	if len(descriptors[0].Aliases) != 2 || descriptors[0].Aliases[0] != "py" {
		t.Fatalf("unexpected aliases %v", descriptors[0].Aliases)
	}
}

func TestExecuteBuildsFileList(t *testing.T) {
	var got struct {
		Language string `json:"language"`
		Version  string `json:"version"`
		Stdin    string `json:"stdin"`
		Files    []struct {
			Name    string `json:"name"`
			Content string `json:"content"`
		} `json:"files"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]string{"stdout": "done\n", "stderr": ""},
		})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Execute(context.Background(), provider.ExecRequest{
		Source:   "print('done')",
		Language: "python",
		Version:  "3.12.0",
		Stdin:    "input line",
		Attachments: []provider.Attachment{
			{Field: "data_file", Filename: "data.csv", Content: []byte("a,b\n")},
		},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Succeeded || result.Output != "done\n" {
		t.Fatalf("unexpected result %+v", result)
	}

	if got.Language != "python" || got.Version != "3.12.0" || got.Stdin != "input line" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Files) != 2 {
		t.Fatalf("expected source plus attachment, got %d files", len(got.Files))
	}
	if got.Files[0].Name != "main.py" || got.Files[0].Content != "print('done')" {
		t.Fatalf("unexpected primary file %+v", got.Files[0])
	}
	if got.Files[1].Name != "data.csv" || got.Files[1].Content != "a,b\n" {
		t.Fatalf("unexpected attachment file %+v", got.Files[1])
	}
}

func TestExecuteStderrMarksRunUnsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run": map[string]string{"stdout": "partial", "stderr": "panic: boom"},
		})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Execute(context.Background(), provider.ExecRequest{Language: "go"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected Succeeded=false for non-empty stderr")
	}
	if result.Output != "panic: boom" {
		t.Fatalf("expected stderr surfaced as output, got %q", result.Output)
	}
}

func TestExecuteSurfacesAPIMessageOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "runtime unknown"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Execute(context.Background(), provider.ExecRequest{Language: "cobol"})
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if perr.Message != "runtime unknown" {
		t.Fatalf("unexpected message %q", perr.Message)
	}
}

func TestMainFileName(t *testing.T) {
	cases := map[string]string{
		"python":     "main.py",
		"PY":         "main.py",
		"javascript": "main.js",
		"node":       "main.js",
		"typescript": "main.ts",
		"go":         "main.go",
		"java":       "Main.java",
		"rust":       "main",
	}
	for language, want := range cases {
		if got := mainFileName(language); got != want {
			t.Fatalf("mainFileName(%q) = %q, want %q", language, got, want)
		}
	}
}
