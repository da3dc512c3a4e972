package paths

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidTaskName returned when a task name fails validation
	ErrInvalidTaskName = errors.New("invalid task name")
	// ErrInvalidRepoPath returned when a generated file path is unsafe
	ErrInvalidRepoPath = errors.New("invalid repository path")
)

const maxTaskNameLen = 100

// MaxTaskNameLen returns the maximum allowed task name length.
func MaxTaskNameLen() int { return maxTaskNameLen }

var taskNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,` + strconv.Itoa(maxTaskNameLen) + `}$`)

// ValidateTaskName returns nil for names usable as a repository name, or
// ErrInvalidTaskName.
// Rules:
// - Only ASCII letters, digits, dot, underscore and dash.
// - Length 1..100.
// - Must not be "." and must not start with ".".
func ValidateTaskName(name string) error {
	if name == "" {
		return fmt.Errorf("empty task name: %w", ErrInvalidTaskName)
	}
	if len(name) > maxTaskNameLen {
		return fmt.Errorf("task name longer than %d characters: %w", maxTaskNameLen, ErrInvalidTaskName)
	}
	if !taskNameRe.MatchString(name) {
		return fmt.Errorf("task name may only contain letters, digits, '.', '_' and '-': %w", ErrInvalidTaskName)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("task name must not start with '.': %w", ErrInvalidTaskName)
	}
	return nil
}

// ValidateRepoPath checks a repository-relative file path before it is
// written through the contents API.
func ValidateRepoPath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path: %w", ErrInvalidRepoPath)
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("backslash in %q: %w", p, ErrInvalidRepoPath)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("absolute path %q: %w", p, ErrInvalidRepoPath)
	}
	if path.Clean(p) != p {
		return fmt.Errorf("non-canonical path %q: %w", p, ErrInvalidRepoPath)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == ".git" {
			return fmt.Errorf("disallowed segment %q in %q: %w", seg, p, ErrInvalidRepoPath)
		}
	}
	return nil
}
