package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is fatal at startup, never at request time.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrEmbedding marks a permanent embedding provider failure. The
	// document job that hit it transitions to failed.
	ErrEmbedding = errors.New("embedding failed")

	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexCorruption is returned when a persisted index artifact
	// cannot be trusted: bad magic, wrong format version, or a header
	// that disagrees with the configured embedding dimension.
	ErrIndexCorruption = errors.New("index artifact corrupted")

	// ErrAuthorizationDenied never leaks whether the document exists.
	ErrAuthorizationDenied = errors.New("not authorized")

	// ErrGenerationUnavailable degrades an answer, it does not fail the
	// request. Retrieval results are still returned.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	ErrDocumentNotFound = errors.New("document not found")
)

// PageError records a single page that could not be extracted. It is
// logged and skipped; the document fails only if every page fails.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }
