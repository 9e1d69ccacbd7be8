package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRetrievalUnavailable marks a query that could not be served because the
// embedding provider or the search engine stayed unreachable after retries.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// ErrGenerationUnavailable marks a query where both the primary and the
// fallback generation model failed.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// ProviderError is a failed call to an external provider (embedding, search
// engine, generation). Status 0 means the request never completed (network
// error or timeout).
type ProviderError struct {
	Provider   string
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

// IsTransient reports whether err is worth retrying: a network failure,
// rate limiting, or a server-side error.
func IsTransient(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == 0 || pe.Status == 429 || pe.Status >= 500
}

// RetryAfterOf extracts the provider's Retry-After hint, or 0.
func RetryAfterOf(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// SchemaConflictError means the index already exists with an incompatible
// vector dimensionality. This is fatal: schema drift across runs is an
// operator error, never auto-migrated.
type SchemaConflictError struct {
	Index string
	Want  int
	Got   int
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("index %s exists with dimension %d, want %d", e.Index, e.Got, e.Want)
}

// PartialBatchError means some items of a batch succeeded and others did
// not. It is non-fatal to the overall run; the failed IDs stay eligible for
// re-processing.
type PartialBatchError struct {
	Op        string
	FailedIDs []string
}

func (e *PartialBatchError) Error() string {
	n := len(e.FailedIDs)
	if n <= 3 {
		return fmt.Sprintf("%s: %d item(s) failed: %s", e.Op, n, strings.Join(e.FailedIDs, ", "))
	}
	return fmt.Sprintf("%s: %d item(s) failed: %s, ...", e.Op, n, strings.Join(e.FailedIDs[:3], ", "))
}
