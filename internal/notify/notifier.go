// Package notify delivers run results to the caller's evaluation webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/throw-if-null/pagesmith/internal/api"
)

type Options struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	Delay       time.Duration
	Exponential bool
	// Timeout bounds each attempt; zero leaves only ctx.
	Timeout time.Duration
}

type Notifier struct {
	client *http.Client
	opts   Options
}

func New(client *http.Client, opts Options) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Notifier{client: client, opts: opts}
}

// Notify POSTs payload as JSON to url until a 2xx arrives or attempts run
// out. It reports whether the webhook acknowledged.
func (n *Notifier) Notify(ctx context.Context, url string, payload api.EvaluationPayload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encode evaluation payload", "error", err)
		return false
	}

	attempt := 0
	op := func() error {
		attempt++
		err := n.post(ctx, url, body)
		if err != nil {
			slog.Warn("evaluation notify attempt failed", "attempt", attempt, "max_attempts", n.opts.MaxAttempts, "error", err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(n.policy(), uint64(n.opts.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		slog.Error("evaluation notify gave up", "url", url, "attempts", attempt, "error", err)
		return false
	}
	slog.Info("evaluation notified", "url", url, "attempts", attempt)
	return true
}

func (n *Notifier) policy() backoff.BackOff {
	if !n.opts.Exponential {
		return backoff.NewConstantBackOff(n.opts.Delay)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = n.opts.Delay
	eb.MaxElapsedTime = 0
	return eb
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	if n.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.opts.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
