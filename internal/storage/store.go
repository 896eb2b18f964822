package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidData = errors.New("invalid data")
)

// Store persists session records. A record is the flat parameter mapping of
// one named session; empty values mark unset parameters. The store also
// keeps a single pointer to the current session.
type Store interface {
	ListSessions(ctx context.Context) ([]string, error)
	GetSession(ctx context.Context, name string) (map[string]string, error)
	SaveSession(ctx context.Context, name string, values map[string]string) error
	DeleteSession(ctx context.Context, name string) error

	// CurrentSession returns ErrNotFound when no session is current
	CurrentSession(ctx context.Context) (string, error)
	// SetCurrentSession with an empty name clears the pointer
	SetCurrentSession(ctx context.Context, name string) error

	Close() error
}

// ValidateName rejects session names that cannot be used as a directory
// name or key suffix.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty session name", ErrInvalidData)
	case name == "." || name == "..":
		return fmt.Errorf("%w: session name %q", ErrInvalidData, name)
	case strings.ContainsAny(name, "/\\:*?\"<>| \t\n"):
		return fmt.Errorf("%w: session name %q contains reserved characters", ErrInvalidData, name)
	}
	return nil
}

func copyValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
