package hosting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/go-github/v75/github"
	"github.com/throw-if-null/pagesmith/internal/api"
	"github.com/throw-if-null/pagesmith/internal/paths"
)

const fallbackBranch = "main"

type ReconcilerOptions struct {
	LicenseHolder string
	LicenseYear   int
}

// Reconciler keeps one public repository per task in step with the files
// generated for each round.
type Reconciler struct {
	gh   *github.Client
	opts ReconcilerOptions
}

func NewReconciler(gh *github.Client, opts ReconcilerOptions) *Reconciler {
	return &Reconciler{gh: gh, opts: opts}
}

// Reconcile ensures the repository named task exists under the authenticated
// account and upserts every file onto its default branch. Files already in
// the repository but absent from files are left untouched. When the commit
// history cannot be read after writing, the SHA of the last write is
// reported instead of failing.
func (r *Reconciler) Reconcile(ctx context.Context, task string, files api.FileSet, round int) (*api.RepositoryHandle, error) {
	if err := paths.ValidateTaskName(task); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	for p := range files {
		if err := paths.ValidateRepoPath(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRepository, err)
		}
	}

	owner, err := r.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	h, err := r.ensureRepository(ctx, owner, task)
	if err != nil {
		return nil, err
	}

	var lastWrite string
	if h.Created {
		sha, err := r.seed(ctx, h)
		if err != nil {
			return nil, err
		}
		lastWrite = sha
	}

	// deterministic commit order across runs
	keys := make([]string, 0, len(files))
	for p := range files {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	for _, p := range keys {
		sha, err := r.UpsertFile(ctx, h, p, files[p], fmt.Sprintf("%s for round %d", p, round))
		if err != nil {
			return nil, err
		}
		lastWrite = sha
	}

	sha, err := r.LatestCommit(ctx, h)
	if err != nil {
		if lastWrite == "" {
			return nil, err
		}
		slog.Warn("commit history unavailable, using last write", "repo", h.Name, "sha", lastWrite, "error", err)
		sha = lastWrite
	}
	h.CommitSHA = sha
	return h, nil
}

// Authenticate returns the login of the token's account.
func (r *Reconciler) Authenticate(ctx context.Context) (string, error) {
	u, _, err := r.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if u.GetLogin() == "" {
		return "", fmt.Errorf("%w: empty login", ErrAuthentication)
	}
	return u.GetLogin(), nil
}

func (r *Reconciler) ensureRepository(ctx context.Context, owner, task string) (*api.RepositoryHandle, error) {
	repo, resp, err := r.gh.Repositories.Get(ctx, owner, task)
	switch Classify(resp, err) {
	case OutcomeOK:
		slog.Info("repository exists, updating", "repo", owner+"/"+task)
		return newHandle(owner, repo, false), nil
	case OutcomeNotFound:
	default:
		return nil, fmt.Errorf("%w: get %s/%s: %w", ErrRepository, owner, task, err)
	}

	slog.Info("creating repository", "repo", owner+"/"+task)
	repo, resp, err = r.gh.Repositories.Create(ctx, "", &github.Repository{
		Name:        github.Ptr(task),
		Description: github.Ptr("Generated app for task: " + task),
		Private:     github.Ptr(false),
		AutoInit:    github.Ptr(false),
	})
	switch Classify(resp, err) {
	case OutcomeOK:
		return newHandle(owner, repo, true), nil
	case OutcomeConflict:
		// lost a creation race with a concurrent request for the same task
		slog.Info("repository created concurrently, re-fetching", "repo", owner+"/"+task)
		repo, resp, err = r.gh.Repositories.Get(ctx, owner, task)
		if Classify(resp, err) != OutcomeOK {
			return nil, fmt.Errorf("%w: re-fetch %s/%s after conflict: %w", ErrRepository, owner, task, err)
		}
		return newHandle(owner, repo, false), nil
	default:
		return nil, fmt.Errorf("%w: create %s/%s: %w", ErrRepository, owner, task, err)
	}
}

func newHandle(owner string, repo *github.Repository, created bool) *api.RepositoryHandle {
	if login := repo.GetOwner().GetLogin(); login != "" {
		owner = login
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = fallbackBranch
	}
	return &api.RepositoryHandle{
		Owner:         owner,
		Name:          repo.GetName(),
		HTMLURL:       repo.GetHTMLURL(),
		PagesURL:      PagesURL(owner, repo.GetName()),
		DefaultBranch: branch,
		Created:       created,
	}
}

// seed writes LICENSE and a placeholder README into a freshly created
// repository. A seed that already exists is skipped.
func (r *Reconciler) seed(ctx context.Context, h *api.RepositoryHandle) (string, error) {
	seeds := []struct{ path, content, message string }{
		{"LICENSE", MITLicense(r.opts.LicenseYear, r.opts.LicenseHolder), "Add MIT License"},
		{"README.md", placeholderReadme(h.Name), "Add README"},
	}
	var last string
	for _, s := range seeds {
		res, resp, err := r.gh.Repositories.CreateFile(ctx, h.Owner, h.Name, s.path, &github.RepositoryContentFileOptions{
			Message: github.Ptr(s.message),
			Content: []byte(s.content),
		})
		switch Classify(resp, err) {
		case OutcomeOK:
			last = res.Commit.GetSHA()
		case OutcomeConflict:
			slog.Info("seed file already present", "repo", h.Name, "path", s.path)
		default:
			return "", fmt.Errorf("%w: seed %s: %w", ErrRepository, s.path, err)
		}
	}
	return last, nil
}

// UpsertFile writes content at path on the default branch, updating with the
// current blob SHA when the file exists. The commit message is "Add <subject>"
// or "Update <subject>". It returns the new commit SHA.
func (r *Reconciler) UpsertFile(ctx context.Context, h *api.RepositoryHandle, path, content, subject string) (string, error) {
	if err := paths.ValidateRepoPath(path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRepository, err)
	}

	sha, found, err := r.blobSHA(ctx, h, path)
	if err != nil {
		return "", err
	}
	if found {
		return r.writeFile(ctx, h, path, content, "Update "+subject, sha)
	}

	commit, err := r.writeFile(ctx, h, path, content, "Add "+subject, "")
	if err == nil || !errors.Is(err, errWriteConflict) {
		return commit, err
	}

	// a concurrent writer created the file between our read and write
	sha, found, err = r.blobSHA(ctx, h, path)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s conflicted on create but is not readable", ErrRepository, path)
	}
	return r.writeFile(ctx, h, path, content, "Update "+subject, sha)
}

var errWriteConflict = errors.New("write conflict")

func (r *Reconciler) blobSHA(ctx context.Context, h *api.RepositoryHandle, path string) (string, bool, error) {
	file, dir, resp, err := r.gh.Repositories.GetContents(ctx, h.Owner, h.Name, path, nil)
	switch Classify(resp, err) {
	case OutcomeOK:
	case OutcomeNotFound:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("%w: read %s: %w", ErrRepository, path, err)
	}
	if file == nil || dir != nil {
		return "", false, fmt.Errorf("%w: %s is a directory", ErrRepository, path)
	}
	return file.GetSHA(), true, nil
}

func (r *Reconciler) writeFile(ctx context.Context, h *api.RepositoryHandle, path, content, message, sha string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: []byte(content),
	}
	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if sha == "" {
		res, resp, err = r.gh.Repositories.CreateFile(ctx, h.Owner, h.Name, path, opts)
	} else {
		opts.SHA = github.Ptr(sha)
		res, resp, err = r.gh.Repositories.UpdateFile(ctx, h.Owner, h.Name, path, opts)
	}
	switch Classify(resp, err) {
	case OutcomeOK:
		slog.Info("file written", "repo", h.Name, "path", path, "message", message)
		return res.Commit.GetSHA(), nil
	case OutcomeConflict:
		if sha == "" {
			return "", fmt.Errorf("%w: %s: %w", errWriteConflict, path, err)
		}
	}
	return "", fmt.Errorf("%w: write %s: %w", ErrRepository, path, err)
}

// LatestCommit returns the newest commit SHA on the default branch.
func (r *Reconciler) LatestCommit(ctx context.Context, h *api.RepositoryHandle) (string, error) {
	commits, _, err := r.gh.Repositories.ListCommits(ctx, h.Owner, h.Name, &github.CommitsListOptions{
		SHA:         h.DefaultBranch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("%w: list commits: %w", ErrRepository, err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("%w: no commits on %s", ErrRepository, h.DefaultBranch)
	}
	return commits[0].GetSHA(), nil
}

// FetchExisting returns the content of path in the task's repository. A
// missing repository or file yields "" and no error.
func (r *Reconciler) FetchExisting(ctx context.Context, task, path string) (string, error) {
	owner, err := r.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	file, _, resp, err := r.gh.Repositories.GetContents(ctx, owner, task, path, nil)
	switch Classify(resp, err) {
	case OutcomeOK:
	case OutcomeNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("%w: read %s/%s: %w", ErrRepository, task, path, err)
	}
	if file == nil {
		return "", nil
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %w", ErrRepository, path, err)
	}
	return content, nil
}
