// Package readme regenerates a task repository's README after publishing.
package readme

import (
	"context"
	"fmt"

	"github.com/throw-if-null/pagesmith/internal/api"
	"github.com/throw-if-null/pagesmith/internal/codegen"
)

type Generator interface {
	GenerateReadme(ctx context.Context, req codegen.ReadmeRequest) (string, error)
}

type FileWriter interface {
	UpsertFile(ctx context.Context, h *api.RepositoryHandle, path, content, subject string) (string, error)
}

type Synthesizer struct {
	gen Generator
	w   FileWriter
}

func NewSynthesizer(gen Generator, w FileWriter) *Synthesizer {
	return &Synthesizer{gen: gen, w: w}
}

// Publish generates README.md for the repository and upserts it. It returns
// the commit SHA of the write.
func (s *Synthesizer) Publish(ctx context.Context, h *api.RepositoryHandle, task, brief string) (string, error) {
	md, err := s.gen.GenerateReadme(ctx, codegen.ReadmeRequest{
		Task:     task,
		Brief:    brief,
		RepoURL:  h.HTMLURL,
		PagesURL: h.PagesURL,
	})
	if err != nil {
		return "", fmt.Errorf("generate readme: %w", err)
	}
	sha, err := s.w.UpsertFile(ctx, h, "README.md", md, "README")
	if err != nil {
		return "", fmt.Errorf("write readme: %w", err)
	}
	return sha, nil
}
