// Package githubtest provides an in-memory GitHub REST API covering the
// repository, contents, commits and pages endpoints pagesmith calls.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
)

type Commit struct {
	SHA     string
	Path    string
	Message string
}

type Source struct {
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

type file struct {
	content string
	sha     string
}

type repo struct {
	name    string
	files   map[string]file
	commits []Commit
	pages   *Source
}

// Server is a stateful fake. Set the knobs before issuing requests.
type Server struct {
	*httptest.Server

	Login string
	// AuthFail answers GET /user with 401.
	AuthFail bool
	// RaceOnCreate inserts the repository just before answering the next
	// create call with 422, as if a concurrent request won.
	RaceOnCreate   bool
	RepoGetStatus  int
	ContentsStatus int
	PagesGetStatus int
	BuildStatus    int
	CommitsStatus  int

	mu           sync.Mutex
	repos        map[string]*repo
	creates      int
	mutations    int
	pagesPosts   int
	pagesUpdates int
	pagesBuilds  int
	seq          int
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{Login: "Octo", repos: map[string]*repo{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", s.handleUser)
	mux.HandleFunc("GET /repos/{owner}/{repo}", s.handleGetRepo)
	mux.HandleFunc("POST /user/repos", s.handleCreateRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGetContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePutContents)
	mux.HandleFunc("GET /repos/{owner}/{repo}/commits", s.handleCommits)
	mux.HandleFunc("GET /repos/{owner}/{repo}/pages", s.handleGetPages)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages", s.handleCreatePages)
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/pages", s.handleUpdatePages)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/pages", s.handleUpdatePages)
	mux.HandleFunc("POST /repos/{owner}/{repo}/pages/builds", s.handleBuild)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddRepo creates an existing repository holding files, one commit each.
func (s *Server) AddRepo(name string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &repo{name: name, files: map[string]file{}}
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sha := s.nextSHA()
		r.files[k] = file{content: files[k], sha: "blob-" + sha}
		r.commits = append(r.commits, Commit{SHA: sha, Path: k, Message: "initial " + k})
	}
	s.repos[name] = r
}

// File returns the content at path and whether it exists.
func (s *Server) File(repoName, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.repos[repoName]
	if r == nil {
		return "", false
	}
	f, ok := r.files[path]
	return f.content, ok
}

// Commits lists commits touching path, oldest first. An empty path lists all.
func (s *Server) Commits(repoName, path string) []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Commit
	if r := s.repos[repoName]; r != nil {
		for _, c := range r.commits {
			if path == "" || c.Path == path {
				out = append(out, c)
			}
		}
	}
	return out
}

func (s *Server) HeadSHA(repoName string) string {
	c := s.Commits(repoName, "")
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1].SHA
}

func (s *Server) Pages(repoName string) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.repos[repoName]; r != nil && r.pages != nil {
		cp := *r.pages
		return &cp
	}
	return nil
}

func (s *Server) SetPages(repoName, branch, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.repos[repoName]; r != nil {
		r.pages = &Source{Branch: branch, Path: path}
	}
}

func (s *Server) Creates() int      { return s.count(&s.creates) }
func (s *Server) Mutations() int    { return s.count(&s.mutations) }
func (s *Server) PagesPosts() int   { return s.count(&s.pagesPosts) }
func (s *Server) PagesUpdates() int { return s.count(&s.pagesUpdates) }
func (s *Server) PagesBuilds() int  { return s.count(&s.pagesBuilds) }

func (s *Server) count(n *int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *n
}

func (s *Server) nextSHA() string {
	s.seq++
	sum := sha1.Sum([]byte(fmt.Sprintf("commit-%d", s.seq)))
	return hex.EncodeToString(sum[:])
}

func (s *Server) repoJSON(r *repo) map[string]any {
	return map[string]any{
		"name":           r.name,
		"owner":          map[string]any{"login": s.Login},
		"html_url":       "https://github.com/" + s.Login + "/" + r.name,
		"default_branch": "main",
		"private":        false,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if s.AuthFail {
		writeMessage(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": s.Login})
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	if s.RepoGetStatus != 0 {
		writeMessage(w, s.RepoGetStatus, "boom")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.repos[r.PathValue("repo")]
	if rp == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, s.repoJSON(rp))
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Private  bool   `json:"private"`
		AutoInit bool   `json:"auto_init"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Private || body.AutoInit {
		writeMessage(w, http.StatusBadRequest, "repository must be public without auto_init")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations++
	if s.RaceOnCreate {
		s.RaceOnCreate = false
		s.repos[body.Name] = &repo{name: body.Name, files: map[string]file{}}
	}
	if _, ok := s.repos[body.Name]; ok {
		writeMessage(w, http.StatusUnprocessableEntity, "name already exists on this account")
		return
	}
	rp := &repo{name: body.Name, files: map[string]file{}}
	s.repos[body.Name] = rp
	s.creates++
	writeJSON(w, http.StatusCreated, s.repoJSON(rp))
}

func (s *Server) handleGetContents(w http.ResponseWriter, r *http.Request) {
	if s.ContentsStatus != 0 {
		writeMessage(w, s.ContentsStatus, "boom")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.repos[r.PathValue("repo")]
	if rp == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	p := r.PathValue("path")
	f, ok := rp.files[p]
	if !ok {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"name":     p,
		"path":     p,
		"sha":      f.sha,
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(f.content)),
	})
}

func (s *Server) handlePutContents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "content must be base64")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.repos[r.PathValue("repo")]
	if rp == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	p := r.PathValue("path")
	existing, exists := rp.files[p]
	switch {
	case exists && body.SHA == "":
		writeMessage(w, http.StatusUnprocessableEntity, `Invalid request. "sha" wasn't supplied.`)
		return
	case exists && body.SHA != existing.sha:
		writeMessage(w, http.StatusConflict, "sha does not match")
		return
	case !exists && body.SHA != "":
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}

	s.mutations++
	sha := s.nextSHA()
	rp.files[p] = file{content: string(raw), sha: "blob-" + sha}
	rp.commits = append(rp.commits, Commit{SHA: sha, Path: p, Message: body.Message})
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"path": p, "sha": "blob-" + sha},
		"commit":  map[string]any{"sha": sha, "message": body.Message},
	})
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	if s.CommitsStatus != 0 {
		writeMessage(w, s.CommitsStatus, "boom")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.repos[r.PathValue("repo")]
	if rp == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	if len(rp.commits) == 0 {
		writeMessage(w, http.StatusConflict, "Git Repository is empty.")
		return
	}
	last := rp.commits[len(rp.commits)-1]
	writeJSON(w, http.StatusOK, []map[string]any{{"sha": last.SHA}})
}

func (s *Server) handleGetPages(w http.ResponseWriter, r *http.Request) {
	if s.PagesGetStatus != 0 {
		writeMessage(w, s.PagesGetStatus, "boom")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rp := s.repos[r.PathValue("repo")]
	if rp == nil || rp.pages == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "built",
		"source": map[string]any{"branch": rp.pages.Branch, "path": rp.pages.Path},
	})
}

func (s *Server) decodePages(w http.ResponseWriter, r *http.Request) (*repo, *Source, bool) {
	var body struct {
		Source Source `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	rp := s.repos[r.PathValue("repo")]
	if rp == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return nil, nil, false
	}
	return rp, &body.Source, true
}

func (s *Server) handleCreatePages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, src, ok := s.decodePages(w, r)
	if !ok {
		return
	}
	if rp.pages != nil {
		writeMessage(w, http.StatusConflict, "GitHub Pages is already enabled.")
		return
	}
	s.pagesPosts++
	rp.pages = src
	writeJSON(w, http.StatusCreated, map[string]any{"source": src})
}

func (s *Server) handleUpdatePages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rp, src, ok := s.decodePages(w, r)
	if !ok {
		return
	}
	if rp.pages == nil {
		writeMessage(w, http.StatusNotFound, "Not Found")
		return
	}
	s.pagesUpdates++
	rp.pages = src
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.pagesBuilds++
	s.mu.Unlock()
	if s.BuildStatus != 0 {
		writeMessage(w, s.BuildStatus, "build failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "queued"})
}
