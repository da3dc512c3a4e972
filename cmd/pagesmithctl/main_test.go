package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recorded struct {
	path  string
	query string
	body  map[string]any
}

func setupServer(t *testing.T) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api-endpoint", func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		if rec.body["task"] == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"error","message":"Failed at step 'generating code': boom"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","repo_url":"https://github.com/Octo/demo-app"}`))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.HandleFunc("GET /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		rec.path, rec.query = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("GET /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		if r.PathValue("id") == "missing" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"` + r.PathValue("id") + `"}`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, rec
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeRequest(t *testing.T, task string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "request.json")
	body := `{"email":"a@b.c","task":"` + task + `","round":1,"nonce":"n","brief":"b","checks":[],"evaluation_url":"http://x"}`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write request: %v", err)
	}
	return p
}

func TestSubmit(t *testing.T) {
	ts, rec := setupServer(t)

	out, err := execute(t, "", "--server", ts.URL, "submit", writeRequest(t, "demo-app"), "--round", "2")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, `"status":"success"`) {
		t.Fatalf("unexpected output: %q", out)
	}
	if rec.body["task"] != "demo-app" || rec.body["round"] != float64(2) {
		t.Fatalf("unexpected request body: %v", rec.body)
	}
}

func TestSubmit_Stdin(t *testing.T) {
	ts, rec := setupServer(t)

	if _, err := execute(t, `{"task":"from-stdin"}`, "--server", ts.URL, "submit", "-"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.body["task"] != "from-stdin" {
		t.Fatalf("stdin body not sent: %v", rec.body)
	}
}

func TestSubmit_ServerErrorIsReturned(t *testing.T) {
	ts, _ := setupServer(t)

	out, err := execute(t, "", "--server", ts.URL, "submit", writeRequest(t, "broken"))
	if err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if !strings.Contains(out, "Failed at step 'generating code'") {
		t.Fatalf("error body should still be printed: %q", out)
	}
}

func TestSubmit_MissingFile(t *testing.T) {
	ts, _ := setupServer(t)
	if _, err := execute(t, "", "--server", ts.URL, "submit", filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestHealth(t *testing.T) {
	ts, _ := setupServer(t)
	out, err := execute(t, "", "--server", ts.URL+"/", "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if strings.TrimSpace(out) != `{"status":"healthy"}` {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRuns(t *testing.T) {
	ts, rec := setupServer(t)

	if _, err := execute(t, "", "--server", ts.URL, "runs", "--task", "demo-app", "--limit", "5"); err != nil {
		t.Fatalf("runs: %v", err)
	}
	if rec.path != "/v1/runs" || rec.query != "limit=5&task=demo-app" {
		t.Fatalf("unexpected list request: %s?%s", rec.path, rec.query)
	}

	out, err := execute(t, "", "--server", ts.URL, "runs", "run-1")
	if err != nil {
		t.Fatalf("runs get: %v", err)
	}
	if rec.path != "/v1/runs/run-1" || !strings.Contains(out, `"id":"run-1"`) {
		t.Fatalf("unexpected get: %s %q", rec.path, out)
	}

	if _, err := execute(t, "", "--server", ts.URL, "runs", "missing"); err == nil {
		t.Fatalf("expected error for missing run")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "pagesmithctl ") {
		t.Fatalf("unexpected output: %q", out)
	}
}
