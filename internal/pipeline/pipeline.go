// Package pipeline runs one generation request end to end: validate,
// generate, publish, notify.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/throw-if-null/pagesmith/internal/api"
	"github.com/throw-if-null/pagesmith/internal/codegen"
	"github.com/throw-if-null/pagesmith/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	StepInitialization = "initialization"
	StepValidation     = "validation"
	StepFetchExisting  = "fetching existing code"
	StepGenerate       = "generating code"
	StepReconcile      = "creating/updating repository"
	StepPages          = "publishing pages"
	StepReadme         = "updating README"
	StepCommit         = "fetching commit info"
	StepNotify         = "notifying evaluation API"
)

const NotifyWarning = "Failed to notify evaluation API after retries"

// entry file the generator produces and revisions start from
const entryFile = "index.html"

type Generator interface {
	GenerateApp(ctx context.Context, req codegen.AppRequest) (api.FileSet, error)
}

type Repositories interface {
	Reconcile(ctx context.Context, task string, files api.FileSet, round int) (*api.RepositoryHandle, error)
	FetchExisting(ctx context.Context, task, path string) (string, error)
	LatestCommit(ctx context.Context, h *api.RepositoryHandle) (string, error)
}

type PagesPublisher interface {
	EnsurePublished(ctx context.Context, owner, repo, branch, path string) error
}

type ReadmePublisher interface {
	Publish(ctx context.Context, h *api.RepositoryHandle, task, brief string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, url string, payload api.EvaluationPayload) bool
}

// Ledger records runs for diagnostics. Failures never affect a response.
type Ledger interface {
	CreateRun(r *api.Run) error
	UpdateRunStep(id, step string) error
	FinishRun(r *api.Run) error
}

type Deps struct {
	Generator Generator
	Repos     Repositories
	Pages     PagesPublisher
	Readme    ReadmePublisher
	Notifier  Notifier
	// Ledger is optional.
	Ledger Ledger
}

type Options struct {
	// Secret, when set, must match the request's secret field.
	Secret    string
	PagesPath string
}

type Pipeline struct {
	d      Deps
	opts   Options
	tracer trace.Tracer
}

func New(d Deps, opts Options) *Pipeline {
	if opts.PagesPath == "" {
		opts.PagesPath = "/"
	}
	return &Pipeline{d: d, opts: opts, tracer: otel.Tracer("pagesmith")}
}

// Handle runs every step for one request. Steps up to and including the
// repository update are fatal and come back as *StepError; later failures
// become warnings on the success response.
func (p *Pipeline) Handle(ctx context.Context, fields map[string]json.RawMessage) (*api.SuccessResponse, error) {
	ctx, span := p.tracer.Start(ctx, "pagesmith.request")
	defer span.End()

	var req *api.GenerationRequest
	err := p.runStep(ctx, nil, StepValidation, func(ctx context.Context) error {
		var err error
		req, err = validation.Validate(fields, p.opts.Secret)
		return err
	})
	if err != nil {
		return nil, p.fail(span, nil, StepValidation, err)
	}
	span.SetAttributes(attribute.String("task.name", req.Task), attribute.Int("task.round", req.Round))

	run := &api.Run{
		ID:        uuid.NewString(),
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		Email:     req.Email,
		Status:    api.RunRunning,
		Step:      StepValidation,
		StartedAt: now(),
	}
	p.ledger("create run", func(l Ledger) error { return l.CreateRun(run) })
	log := slog.With("task", req.Task, "round", req.Round, "run_id", run.ID)
	log.Info("processing request", "email", req.Email)

	var existing string
	if req.Round > 1 {
		err := p.runStep(ctx, run, StepFetchExisting, func(ctx context.Context) error {
			var err error
			existing, err = p.d.Repos.FetchExisting(ctx, req.Task, entryFile)
			return err
		})
		switch {
		case err != nil:
			log.Warn("could not fetch existing code, generating fresh", "error", err)
		case existing == "":
			log.Info("no existing code found")
		default:
			log.Info("fetched existing code", "bytes", len(existing))
		}
	}

	var files api.FileSet
	err = p.runStep(ctx, run, StepGenerate, func(ctx context.Context) error {
		var err error
		files, err = p.d.Generator.GenerateApp(ctx, codegen.AppRequest{
			Brief:        req.Brief,
			Checks:       req.Checks,
			Attachments:  req.Attachments,
			ExistingCode: existing,
			Round:        req.Round,
		})
		return err
	})
	if err != nil {
		return nil, p.fail(span, run, StepGenerate, err)
	}

	var h *api.RepositoryHandle
	err = p.runStep(ctx, run, StepReconcile, func(ctx context.Context) error {
		var err error
		h, err = p.d.Repos.Reconcile(ctx, req.Task, files, req.Round)
		return err
	})
	if err != nil {
		return nil, p.fail(span, run, StepReconcile, err)
	}

	var warnings []string
	warn := func(step, msg string, err error) {
		log.Warn(msg, "step", step, "error", err)
		span.AddEvent("warning", trace.WithAttributes(attribute.String("step", step), attribute.String("message", msg)))
		warnings = append(warnings, msg)
	}

	err = p.runStep(ctx, run, StepPages, func(ctx context.Context) error {
		return p.d.Pages.EnsurePublished(ctx, h.Owner, h.Name, h.DefaultBranch, p.opts.PagesPath)
	})
	if err != nil {
		warn(StepPages, fmt.Sprintf("GitHub Pages setup failed: %v", err), err)
	}

	err = p.runStep(ctx, run, StepReadme, func(ctx context.Context) error {
		_, err := p.d.Readme.Publish(ctx, h, req.Task, req.Brief)
		return err
	})
	if err != nil {
		warn(StepReadme, fmt.Sprintf("README update failed: %v", err), err)
	}

	sha := h.CommitSHA
	err = p.runStep(ctx, run, StepCommit, func(ctx context.Context) error {
		latest, err := p.d.Repos.LatestCommit(ctx, h)
		if err == nil {
			sha = latest
		}
		return err
	})
	if err != nil {
		warn(StepCommit, fmt.Sprintf("Could not fetch latest commit: %v", err), err)
	}

	payload := api.EvaluationPayload{
		Email:     req.Email,
		Task:      req.Task,
		Round:     req.Round,
		Nonce:     req.Nonce,
		RepoURL:   h.HTMLURL,
		CommitSHA: sha,
		PagesURL:  h.PagesURL,
	}
	err = p.runStep(ctx, run, StepNotify, func(ctx context.Context) error {
		if !p.d.Notifier.Notify(ctx, req.EvaluationURL, payload) {
			return fmt.Errorf("evaluation api at %s did not acknowledge", req.EvaluationURL)
		}
		return nil
	})
	if err != nil {
		warn(StepNotify, NotifyWarning, err)
	}

	resp := &api.SuccessResponse{
		Status:    api.StatusSuccess,
		RepoURL:   h.HTMLURL,
		PagesURL:  h.PagesURL,
		CommitSHA: sha,
		Warning:   strings.Join(warnings, "; "),
	}

	run.Status = api.RunSucceeded
	run.RepoURL, run.PagesURL, run.CommitSHA = resp.RepoURL, resp.PagesURL, resp.CommitSHA
	run.Warning = resp.Warning
	run.FinishedAt = now()
	p.ledger("finish run", func(l Ledger) error { return l.FinishRun(run) })

	span.SetStatus(codes.Ok, "")
	log.Info("request completed", "repo_url", resp.RepoURL, "commit_sha", resp.CommitSHA, "warnings", len(warnings))
	return resp, nil
}

// runStep executes fn inside a child span named after the step.
func (p *Pipeline) runStep(ctx context.Context, run *api.Run, step string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, step, trace.WithAttributes(attribute.String("step", step)))
	defer span.End()

	if run != nil {
		run.Step = step
		p.ledger("update step", func(l Ledger) error { return l.UpdateRunStep(run.ID, step) })
	}

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (p *Pipeline) fail(span trace.Span, run *api.Run, step string, err error) error {
	se := &StepError{Step: step, Err: err}
	span.RecordError(err)
	span.SetStatus(codes.Error, Message(se))
	slog.Error("request failed", "step", step, "error", err)

	if run != nil {
		run.Status = api.RunFailed
		run.Error = Message(se)
		run.FinishedAt = now()
		p.ledger("finish run", func(l Ledger) error { return l.FinishRun(run) })
	}
	return se
}

func (p *Pipeline) ledger(op string, fn func(Ledger) error) {
	if p.d.Ledger == nil {
		return
	}
	if err := fn(p.d.Ledger); err != nil {
		slog.Warn("run ledger write failed", "op", op, "error", err)
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
