// Package backend defines the record API the explorer talks to. The HTTP
// client is the primary implementation; pgapi and mongoapi answer the same
// calls straight from a database.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kadirbelkuyu/tablescope/internal/envelope"
)

// MaxPerPage is the largest page size the backend accepts.
const MaxPerPage = 1000

// API is the set of record operations the explorer needs. Payloads are the
// decoded JSON bodies; their envelopes are normalized by package envelope.
type API interface {
	Schema(ctx context.Context) ([]byte, error)
	List(ctx context.Context, table string, page, perPage int) (any, error)
	Count(ctx context.Context, table string) (any, error)
	Get(ctx context.Context, table, id string) (any, error)
	Create(ctx context.Context, table string, payload map[string]any) (any, error)
	Delete(ctx context.Context, table, id string) error
}

// Pinger is implemented by backends exposing a health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ResourceLister is implemented by backends that report which tables accept
// writes. A nil slice with a nil error means the backend does not say.
type ResourceLister interface {
	EditableResources(ctx context.Context) ([]string, error)
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   any
}

func (e *StatusError) Error() string {
	if msg, ok := envelope.ErrorMessage(e.Body); ok {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), msg)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Message returns the backend supplied message carried by err, if any.
func Message(err error) (string, bool) {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return "", false
	}
	return envelope.ErrorMessage(statusErr.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == code
}

// ClampPerPage keeps a requested page size inside [1, MaxPerPage].
func ClampPerPage(perPage int) int {
	switch {
	case perPage < 1:
		return 1
	case perPage > MaxPerPage:
		return MaxPerPage
	default:
		return perPage
	}
}
