package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/throw-if-null/pagesmith/internal/api"
	"github.com/throw-if-null/pagesmith/internal/hosting"
	"github.com/throw-if-null/pagesmith/internal/pipeline"
	"github.com/throw-if-null/pagesmith/internal/server"
	"github.com/throw-if-null/pagesmith/internal/store"
	"github.com/throw-if-null/pagesmith/internal/validation"
)

type fakePipeline struct {
	calls  int
	fields map[string]json.RawMessage
	resp   *api.SuccessResponse
	err    error
}

func (f *fakePipeline) Handle(ctx context.Context, fields map[string]json.RawMessage) (*api.SuccessResponse, error) {
	f.calls++
	f.fields = fields
	return f.resp, f.err
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	td, err := os.MkdirTemp("", "pagesmith-server-test-")
	if err != nil {
		t.Fatalf("tmpdir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(td) })
	s, err := store.Open(filepath.Join(td, "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func post(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	res, err := http.Post(url+"/api-endpoint", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v; body=%s", err, string(b))
	}
	return res.StatusCode, out
}

const fullRequest = `{"email":"a@b.c","secret":"s","task":"demo-app","round":1,"nonce":"n1","brief":"b","checks":[],"evaluation_url":"http://x"}`

func TestHealthEndpoints(t *testing.T) {
	ts := httptest.NewServer(server.New(&fakePipeline{}, nil, 0).Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	var h api.HealthResponse
	_ = json.NewDecoder(res.Body).Decode(&h)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || h.Status != "healthy" {
		t.Fatalf("unexpected health: %d %+v", res.StatusCode, h)
	}

	res, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Fatalf("unexpected healthz: %d %q", res.StatusCode, string(b))
	}
}

func TestGenerate_BodyErrors(t *testing.T) {
	p := &fakePipeline{}
	ts := httptest.NewServer(server.New(p, nil, 64).Handler())
	defer ts.Close()

	cases := []struct {
		body   string
		status int
		msg    string
	}{
		{"", http.StatusBadRequest, "No JSON data provided"},
		{"   ", http.StatusBadRequest, "No JSON data provided"},
		{"{}", http.StatusBadRequest, "No JSON data provided"},
		{"null", http.StatusBadRequest, "No JSON data provided"},
		{"{not json", http.StatusBadRequest, "Invalid JSON"},
		{"[1,2]", http.StatusBadRequest, "Invalid JSON"},
		{`{"brief":"` + strings.Repeat("x", 100) + `"}`, http.StatusRequestEntityTooLarge, "Request body too large"},
	}
	for _, c := range cases {
		status, out := post(t, ts.URL, c.body)
		if status != c.status || out["message"] != c.msg || out["status"] != "error" {
			t.Fatalf("body %q: got %d %v", c.body, status, out)
		}
		if _, ok := out["email"]; ok {
			t.Fatalf("body %q: identity must not be echoed", c.body)
		}
	}
	if p.calls != 0 {
		t.Fatalf("pipeline must not run for malformed bodies")
	}
}

func TestGenerate_Success(t *testing.T) {
	p := &fakePipeline{resp: &api.SuccessResponse{
		Status:    "success",
		RepoURL:   "https://github.com/Octo/demo-app",
		PagesURL:  "https://octo.github.io/demo-app/",
		CommitSHA: "abc",
		Warning:   "README update failed: boom",
	}}
	ts := httptest.NewServer(server.New(p, nil, 0).Handler())
	defer ts.Close()

	status, out := post(t, ts.URL, fullRequest)
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", status, out)
	}
	if out["commit_sha"] != "abc" || out["warning"] != "README update failed: boom" {
		t.Fatalf("unexpected body: %v", out)
	}
	if string(p.fields["task"]) != `"demo-app"` {
		t.Fatalf("fields not forwarded: %v", p.fields)
	}
}

func TestGenerate_ErrorEchoesIdentity(t *testing.T) {
	p := &fakePipeline{err: &pipeline.StepError{
		Step: pipeline.StepValidation,
		Err:  fmt.Errorf("%w: round must be >= 1", validation.ErrInvalidRequest),
	}}
	ts := httptest.NewServer(server.New(p, nil, 0).Handler())
	defer ts.Close()

	status, out := post(t, ts.URL, fullRequest)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if !strings.HasPrefix(out["message"].(string), "Failed at step 'validation': ") {
		t.Fatalf("unexpected message: %v", out["message"])
	}
	if out["email"] != "a@b.c" || out["task"] != "demo-app" || out["round"] != float64(1) || out["nonce"] != "n1" {
		t.Fatalf("identity not echoed: %v", out)
	}

	// missing nonce: no echo at all
	status, out = post(t, ts.URL, `{"email":"a@b.c","task":"demo-app","round":1}`)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	for _, k := range []string{"email", "task", "round", "nonce"} {
		if _, ok := out[k]; ok {
			t.Fatalf("identity key %q echoed without full identity: %v", k, out)
		}
	}
}

func TestGenerate_FatalIs500(t *testing.T) {
	p := &fakePipeline{err: &pipeline.StepError{
		Step: pipeline.StepReconcile,
		Err:  fmt.Errorf("%w: boom", hosting.ErrRepository),
	}}
	ts := httptest.NewServer(server.New(p, nil, 0).Handler())
	defer ts.Close()

	status, out := post(t, ts.URL, fullRequest)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
	if !strings.HasPrefix(out["message"].(string), "Failed at step 'creating/updating repository': ") {
		t.Fatalf("unexpected message: %v", out["message"])
	}
}

func TestRunsEndpoints(t *testing.T) {
	s := setupTestStore(t)
	for i, task := range []string{"alpha", "beta", "alpha"} {
		r := &api.Run{ID: fmt.Sprintf("run-%d", i), Task: task, Round: 1, Nonce: "n", Email: "e", Step: "validation",
			StartedAt: fmt.Sprintf("2025-01-01T00:00:0%dZ", i)}
		if err := s.CreateRun(r); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	ts := httptest.NewServer(server.New(&fakePipeline{}, s, 0).Handler())
	defer ts.Close()

	get := func(path string) (int, []byte) {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		return res.StatusCode, b
	}

	status, body := get("/v1/runs?task=alpha&limit=1")
	if status != http.StatusOK {
		t.Fatalf("list status %d", status)
	}
	var runs []api.Run
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("unmarshal: %v; body=%s", err, string(body))
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	status, body = get("/v1/runs?task=gamma")
	if status != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty list, got %d %s", status, string(body))
	}

	if status, _ := get("/v1/runs?limit=abc"); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", status)
	}

	status, body = get("/v1/runs/run-1")
	var run api.Run
	if err := json.Unmarshal(body, &run); err != nil || status != http.StatusOK || run.Task != "beta" {
		t.Fatalf("unexpected run: %d %s", status, string(body))
	}

	if status, _ := get("/v1/runs/missing"); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestRunsEndpoints_LedgerDisabled(t *testing.T) {
	ts := httptest.NewServer(server.New(&fakePipeline{}, nil, 0).Handler())
	defer ts.Close()
	res, err := http.Get(ts.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}
