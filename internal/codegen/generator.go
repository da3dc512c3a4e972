// Package codegen turns a task brief into site files through a single
// chat-completion call.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/throw-if-null/pagesmith/internal/api"
)

var (
	ErrGeneration     = errors.New("code generation failed")
	ErrOutputTooShort = errors.New("generated output too short")
)

// ChatModel is the slice of model.BaseChatModel the generator needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

type Options struct {
	Temperature float32
	// MinOutputBytes rejects generated code that is shorter after
	// extraction. README text is not checked.
	MinOutputBytes int
}

type Generator struct {
	model ChatModel
	opts  Options
}

func NewGenerator(m ChatModel, opts Options) *Generator {
	return &Generator{model: m, opts: opts}
}

type AppRequest struct {
	Brief        string
	Checks       []string
	Attachments  []api.Attachment
	ExistingCode string
	Round        int
}

type ReadmeRequest struct {
	Task     string
	Brief    string
	RepoURL  string
	PagesURL string
}

// GenerateApp returns {"index.html": <generated markup>}. The model is
// called once; failures are not retried here.
func (g *Generator) GenerateApp(ctx context.Context, req AppRequest) (api.FileSet, error) {
	html, err := g.complete(ctx, appSystemPrompt, appPrompt(req), "html")
	if err != nil {
		return nil, err
	}
	if len(html) < g.opts.MinOutputBytes {
		slog.Warn("generated code below minimum length", "bytes", len(html), "min", g.opts.MinOutputBytes)
		return nil, fmt.Errorf("%w: %w: %d bytes, want at least %d", ErrGeneration, ErrOutputTooShort, len(html), g.opts.MinOutputBytes)
	}
	return api.FileSet{"index.html": html}, nil
}

// GenerateReadme returns Markdown for the repository README. Short READMEs
// are accepted as is.
func (g *Generator) GenerateReadme(ctx context.Context, req ReadmeRequest) (string, error) {
	return g.complete(ctx, readmeSystemPrompt, readmePrompt(req), "markdown")
}

func (g *Generator) complete(ctx context.Context, system, user, label string) (string, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}
	var opts []model.Option
	if g.opts.Temperature > 0 {
		opts = append(opts, model.WithTemperature(g.opts.Temperature))
	}

	resp, err := g.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	return ExtractCode(resp.Content, label), nil
}
