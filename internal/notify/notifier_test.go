package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/throw-if-null/pagesmith/internal/api"
)

var payload = api.EvaluationPayload{
	Email: "test@example.com", Task: "demo-app", Round: 1, Nonce: "abc123",
	RepoURL: "https://github.com/Octo/demo-app", CommitSHA: "deadbeef", PagesURL: "https://octo.github.io/demo-app/",
}

func TestNotify_AlwaysFailing(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.Client(), Options{MaxAttempts: 4, Delay: time.Millisecond})
	if n.Notify(context.Background(), srv.URL, payload) {
		t.Fatalf("expected false after exhausting attempts")
	}
	if got := atomic.LoadInt32(&hits); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
}

func TestNotify_SucceedsOnSecondAttempt(t *testing.T) {
	var hits int32
	var got api.EvaluationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.Client(), Options{MaxAttempts: 5, Delay: time.Millisecond, Exponential: true})
	if !n.Notify(context.Background(), srv.URL, payload) {
		t.Fatalf("expected true after retry")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", hits)
	}
	if got != payload {
		t.Fatalf("payload mismatch: %+v", got)
	}
}

func TestNotify_TransportErrorAndTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	n := New(srv.Client(), Options{MaxAttempts: 2, Delay: time.Millisecond, Timeout: 20 * time.Millisecond})
	start := time.Now()
	if n.Notify(context.Background(), srv.URL, payload) {
		t.Fatalf("expected false when every attempt times out")
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Fatalf("per-attempt timeout not applied")
	}

	if New(nil, Options{MaxAttempts: 1}).Notify(context.Background(), "://bad url", payload) {
		t.Fatalf("malformed url must not succeed")
	}
}

func TestNotify_ContextCancelled(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if New(srv.Client(), Options{MaxAttempts: 10, Delay: 50 * time.Millisecond}).Notify(ctx, srv.URL, payload) {
		t.Fatalf("cancelled context must not report success")
	}
	if atomic.LoadInt32(&hits) > 1 {
		t.Fatalf("cancelled context should stop retries, got %d hits", hits)
	}
}
