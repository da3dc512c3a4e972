// Package hosting drives the GitHub side of a run: the per-task repository,
// its files and its Pages site.
package hosting

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v75/github"
)

// NewClient returns an authenticated go-github client. apiURL overrides the
// public API root (GitHub Enterprise, test servers); empty keeps the default.
func NewClient(httpClient *http.Client, token, apiURL string) (*github.Client, error) {
	c := github.NewClient(httpClient).WithAuthToken(token)
	if apiURL == "" {
		return c, nil
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api url: %w", err)
	}
	c.BaseURL = u
	return c, nil
}

// PagesURL is where GitHub Pages serves a project site.
func PagesURL(owner, repo string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", strings.ToLower(owner), repo)
}
