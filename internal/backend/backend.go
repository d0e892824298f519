// Package backend holds the narrow interfaces the sync engine needs from
// the hosted data store: insert a row, upload a blob, classify failures.
package backend

import (
	"context"
	"errors"
)

// Inserter creates rows in the hosted backend.
type Inserter interface {
	InsertRecord(ctx context.Context, table string, row map[string]any) (map[string]any, error)
}

// BlobStore persists photos and returns a retrievable URL.
type BlobStore interface {
	UploadBlob(ctx context.Context, bucket, path string, data []byte) (string, error)
}

// permanentError marks a failure that retrying cannot fix (the backend
// rejected the record's shape or content).
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is a non-retryable backend rejection.
// Everything else (timeouts, connection resets, 5xx) is treated as
// transient and consumes a retry.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
