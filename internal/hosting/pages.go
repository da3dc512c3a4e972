package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v75/github"
)

// PagesSource is the branch and folder GitHub Pages builds from.
type PagesSource struct {
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

type pagesBody struct {
	Source PagesSource `json:"source"`
}

type PublisherOptions struct {
	// UpdateMethod is the verb used to update an existing Pages site.
	// Defaults to PATCH.
	UpdateMethod string
}

// Publisher drives a repository's Pages configuration to a given source.
// It talks to the pages endpoints with raw requests because the typed
// client does not cover every update it needs.
type Publisher struct {
	gh           *github.Client
	updateMethod string
}

func NewPublisher(gh *github.Client, opts PublisherOptions) *Publisher {
	m := opts.UpdateMethod
	if m == "" {
		m = http.MethodPatch
	}
	return &Publisher{gh: gh, updateMethod: m}
}

// EnsurePublished creates the Pages site when absent and otherwise updates it
// to the same source, then requests a build. A failed build request is only
// logged.
func (p *Publisher) EnsurePublished(ctx context.Context, owner, repo, branch, path string) error {
	if path == "" {
		path = "/"
	}
	u := fmt.Sprintf("repos/%v/%v/pages", owner, repo)
	body := &pagesBody{Source: PagesSource{Branch: branch, Path: path}}

	current := new(github.Pages)
	resp, err := p.do(ctx, http.MethodGet, u, nil, current)
	switch Classify(resp, err) {
	case OutcomeOK:
		state := "matching"
		if current.GetSource().GetBranch() != branch || current.GetSource().GetPath() != path {
			state = "divergent"
		}
		slog.Info("pages site exists, updating", "repo", owner+"/"+repo, "state", state)
		resp, err = p.do(ctx, p.updateMethod, u, body, nil)
		if err := expectStatus(resp, err, http.StatusOK, http.StatusNoContent); err != nil {
			return fmt.Errorf("%w: update %s/%s: %w", ErrPages, owner, repo, err)
		}
	case OutcomeNotFound:
		slog.Info("enabling pages site", "repo", owner+"/"+repo, "branch", branch, "path", path)
		resp, err = p.do(ctx, http.MethodPost, u, body, nil)
		if err := expectStatus(resp, err, http.StatusCreated, http.StatusAccepted); err != nil {
			return fmt.Errorf("%w: create %s/%s: %w", ErrPages, owner, repo, err)
		}
	default:
		return fmt.Errorf("%w: get %s/%s: %w", ErrPages, owner, repo, err)
	}

	resp, err = p.do(ctx, http.MethodPost, u+"/builds", nil, nil)
	if Classify(resp, err) != OutcomeOK {
		slog.Warn("pages build request failed", "repo", owner+"/"+repo, "error", err)
	}
	return nil
}

func (p *Publisher) do(ctx context.Context, method, u string, body, v any) (*github.Response, error) {
	req, err := p.gh.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	return p.gh.Do(ctx, req, v)
}

// expectStatus accepts only the listed status codes. A 202 arrives from
// go-github as an *AcceptedError and is judged by its status like any other.
func expectStatus(resp *github.Response, err error, codes ...int) error {
	if Classify(resp, err) != OutcomeOK {
		return err
	}
	got := statusOf(resp, err)
	for _, c := range codes {
		if got == c {
			return nil
		}
	}
	return fmt.Errorf("unexpected status %d", got)
}
