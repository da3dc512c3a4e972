package api

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8000
)

// Attachment entries are opaque; only the name reaches the prompt.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
	// URL usually carries a data: URI.
	URL string `json:"url,omitempty"`
}

// GenerationRequest is the inbound task brief for one round.
type GenerationRequest struct {
	Email         string       `json:"email" validate:"required"`
	Secret        string       `json:"secret,omitempty"`
	Task          string       `json:"task" validate:"required,taskname"`
	Round         int          `json:"round" validate:"min=1"`
	Nonce         string       `json:"nonce" validate:"required"`
	Brief         string       `json:"brief" validate:"required"`
	Checks        []string     `json:"checks"`
	EvaluationURL string       `json:"evaluation_url" validate:"required,url"`
	Attachments   []Attachment `json:"attachments,omitempty"`
}

// FileSet maps a repository-relative path to its full text content.
type FileSet map[string]string

// RepositoryHandle identifies the remote repository backing a task.
type RepositoryHandle struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	HTMLURL       string `json:"html_url"`
	PagesURL      string `json:"pages_url"`
	DefaultBranch string `json:"default_branch"`
	CommitSHA     string `json:"commit_sha"`
	Created       bool   `json:"created"`
}

type EvaluationPayload struct {
	Email     string `json:"email"`
	Task      string `json:"task"`
	Round     int    `json:"round"`
	Nonce     string `json:"nonce"`
	RepoURL   string `json:"repo_url"`
	CommitSHA string `json:"commit_sha"`
	PagesURL  string `json:"pages_url"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusHealthy = "healthy"
)

type SuccessResponse struct {
	Status    string `json:"status"`
	RepoURL   string `json:"repo_url"`
	PagesURL  string `json:"pages_url"`
	CommitSHA string `json:"commit_sha"`
	Warning   string `json:"warning,omitempty"`
}

// ErrorResponse echoes the caller identity only when all four identity
// fields were present in the request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Email   any    `json:"email,omitempty"`
	Task    any    `json:"task,omitempty"`
	Round   any    `json:"round,omitempty"`
	Nonce   any    `json:"nonce,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one inbound request as seen by the run ledger.
type Run struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Round      int       `json:"round"`
	Nonce      string    `json:"nonce"`
	Email      string    `json:"email"`
	Status     RunStatus `json:"status"`
	Step       string    `json:"step"`
	RepoURL    string    `json:"repo_url,omitempty"`
	PagesURL   string    `json:"pages_url,omitempty"`
	CommitSHA  string    `json:"commit_sha,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  string    `json:"started_at"`
	FinishedAt string    `json:"finished_at,omitempty"`
}
