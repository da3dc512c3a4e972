// Package validation checks inbound generation requests before any outbound
// call is made.
package validation

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/throw-if-null/pagesmith/internal/api"
	"github.com/throw-if-null/pagesmith/internal/paths"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidSecret  = errors.New("invalid secret")
)

// RequiredFields must be present (and not null) in every request.
var RequiredFields = []string{"email", "task", "round", "nonce", "brief", "evaluation_url"}

// IdentityFields are echoed back in error responses when all are present.
var IdentityFields = []string{"email", "task", "round", "nonce"}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("taskname", func(fl validator.FieldLevel) bool {
		return paths.ValidateTaskName(fl.Field().String()) == nil
	})
}

// Validate decodes and checks a request body already split into top-level
// fields. secret is the configured shared secret; empty disables the check.
// Rules are applied in order and the first failure is returned.
func Validate(fields map[string]json.RawMessage, secret string) (*api.GenerationRequest, error) {
	if missing := MissingFields(fields, RequiredFields...); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	var req api.GenerationRequest
	if err := json.Unmarshal(fields["task"], &req.Task); err != nil {
		return nil, fmt.Errorf("%w: task must be a string", ErrInvalidRequest)
	}
	if err := paths.ValidateTaskName(req.Task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	round, err := parseRound(fields["round"])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Round = round

	strs := []struct {
		key string
		dst *string
	}{
		{"email", &req.Email},
		{"nonce", &req.Nonce},
		{"brief", &req.Brief},
		{"evaluation_url", &req.EvaluationURL},
	}
	for _, s := range strs {
		if err := json.Unmarshal(fields[s.key], s.dst); err != nil {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, s.key)
		}
	}

	// checks may be omitted; it then behaves as an empty list
	req.Checks = []string{}
	if raw, ok := fields["checks"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &req.Checks); err != nil {
			return nil, fmt.Errorf("%w: checks must be a list of strings", ErrInvalidRequest)
		}
	}
	req.Attachments = decodeAttachments(fields["attachments"])

	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}

	if secret != "" {
		var got string
		if raw, ok := fields["secret"]; ok {
			_ = json.Unmarshal(raw, &got)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return nil, ErrInvalidSecret
		}
		req.Secret = got
	}

	return &req, nil
}

// Check is the boolean form of Validate.
func Check(fields map[string]json.RawMessage, secret string) (bool, string) {
	if _, err := Validate(fields, secret); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

// MissingFields returns keys absent from fields or set to JSON null, in the
// order given.
func MissingFields(fields map[string]json.RawMessage, keys ...string) []string {
	var missing []string
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok || isNull(raw) {
			missing = append(missing, k)
		}
	}
	return missing
}

// parseRound accepts only a JSON integer literal; "1" (a string) and 1.0 are
// rejected.
func parseRound(raw json.RawMessage) (int, error) {
	tok := string(bytes.TrimSpace(raw))
	n, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("round must be an integer, got %s", tok)
	}
	if n < 1 {
		return 0, fmt.Errorf("round must be >= 1, got %d", n)
	}
	return n, nil
}

func decodeAttachments(raw json.RawMessage) []api.Attachment {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]api.Attachment, 0, len(items))
	for _, item := range items {
		var a api.Attachment
		if err := json.Unmarshal(item, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s must not be empty", e.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be an absolute URL", e.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed rule '%s'", e.Field(), e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
