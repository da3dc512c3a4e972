package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/throw-if-null/pagesmith/internal/api"
	"github.com/throw-if-null/pagesmith/internal/pipeline"
	"github.com/throw-if-null/pagesmith/internal/store"
	"github.com/throw-if-null/pagesmith/internal/validation"
)

// maximum request body accepted on /api-endpoint unless overridden
const defaultMaxBodyBytes = 10 << 20 // 10 MiB

const maxListLimit = 500

type Pipeline interface {
	Handle(ctx context.Context, fields map[string]json.RawMessage) (*api.SuccessResponse, error)
}

// Runs is the read side of the run ledger.
type Runs interface {
	GetRun(id string) (*api.Run, error)
	ListRuns(task string, limit int) ([]*api.Run, error)
}

type Server struct {
	pipeline     Pipeline
	runs         Runs
	maxBodyBytes int64
}

// New returns a server. runs may be nil, in which case the ledger endpoints
// answer 404.
func New(p Pipeline, runs Runs, maxBodyBytes int64) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Server{pipeline: p, runs: runs, maxBodyBytes: maxBodyBytes}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api-endpoint", s.handleGenerate)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, api.HealthResponse{Status: api.StatusHealthy})
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", s.handleGetRun)
	return mux
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON", nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, "No JSON data provided", nil)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", nil)
		return
	}
	// null and {} carry no data either
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "No JSON data provided", nil)
		return
	}

	resp, err := s.pipeline.Handle(r.Context(), fields)
	if err != nil {
		status := pipeline.HTTPStatus(err)
		msg := pipeline.Message(err)
		if status >= http.StatusInternalServerError {
			slog.Error("request failed", "error", err)
		} else {
			slog.Info("request rejected", "error", err)
		}
		writeError(w, status, msg, fields)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run ledger disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.runs.ListRuns(q.Get("task"), limit)
	if err != nil {
		slog.Error("list runs", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*api.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "run ledger disabled", http.StatusNotFound)
		return
	}
	id := r.PathValue("run_id")
	if id == "" {
		http.Error(w, "missing run_id", http.StatusBadRequest)
		return
	}

	run, err := s.runs.GetRun(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("get run", "run_id", id, "error", err)
		http.Error(w, "failed to read run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// writeError echoes the caller identity only when every identity key is
// present in fields.
func writeError(w http.ResponseWriter, status int, msg string, fields map[string]json.RawMessage) {
	resp := api.ErrorResponse{Status: api.StatusError, Message: msg}
	if hasAll(fields, validation.IdentityFields) {
		resp.Email = fields["email"]
		resp.Task = fields["task"]
		resp.Round = fields["round"]
		resp.Nonce = fields["nonce"]
	}
	writeJSON(w, status, resp)
}

func hasAll(fields map[string]json.RawMessage, keys []string) bool {
	if fields == nil {
		return false
	}
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
