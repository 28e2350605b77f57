// Package rowstore persists sample requests in row-oriented stores: a
// spreadsheet web app reached over HTTP, or a local workbook file.
package rowstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/normalize"
)

// Wire actions.
const (
	ActionList         = "samples:list"
	ActionCreate       = "samples:create"
	ActionUpdateStatus = "samples:updateStatus"
)

var (
	// ErrTransient covers network failures, timeouts and non-2xx responses.
	ErrTransient = errors.New("store temporarily unavailable")
	// ErrMalformed means the store answered with a shape that cannot be read
	// as the expected record collection.
	ErrMalformed = errors.New("malformed store response")
)

// APIError is a well-formed refusal from the store ({"ok": false}).
type APIError struct {
	Action  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store rejected %s", e.Action)
	}
	return fmt.Sprintf("store rejected %s: %s", e.Action, e.Message)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformed)
}

// StatusUpdate carries the lifecycle fields written for one record.
type StatusUpdate struct {
	ID     string
	Fields normalize.RawRecord
}

// Adapter is a raw row store. Records cross it untyped; Repository
// normalizes them.
type Adapter interface {
	List(ctx context.Context) ([]normalize.RawRecord, error)
	Create(ctx context.Context, rec normalize.RawRecord) (normalize.RawRecord, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (normalize.RawRecord, error)
}
