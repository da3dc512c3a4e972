package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/throw-if-null/pagesmith/internal/validation"
)

// StepError attributes a fatal failure to the step that was running.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Message renders err for the response body. Step failures read
// "Failed at step '<step>': <cause>".
func Message(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return fmt.Sprintf("Failed at step '%s': %v", se.Step, se.Err)
	}
	return err.Error()
}

// HTTPStatus maps a Handle error to a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, validation.ErrInvalidRequest), errors.Is(err, validation.ErrInvalidSecret):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
