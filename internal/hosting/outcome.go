package hosting

import (
	"errors"
	"net/http"

	"github.com/google/go-github/v75/github"
)

var (
	ErrAuthentication = errors.New("github authentication failed")
	ErrRepository     = errors.New("repository operation failed")
	ErrPages          = errors.New("pages configuration failed")
)

// Outcome is the tag every hosting API response is reduced to before the
// reconciler branches on it.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	// OutcomeConflict is the 422 "already exists" / validation family.
	OutcomeConflict
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Classify reduces a go-github (response, error) pair to an Outcome. A 202
// surfaces from go-github as *github.AcceptedError and counts as OK.
func Classify(resp *github.Response, err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var accepted *github.AcceptedError
	if errors.As(err, &accepted) {
		return OutcomeOK
	}
	switch statusOf(resp, err) {
	case http.StatusNotFound:
		return OutcomeNotFound
	case http.StatusUnprocessableEntity:
		return OutcomeConflict
	default:
		return OutcomeOther
	}
}

func statusOf(resp *github.Response, err error) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	return 0
}
