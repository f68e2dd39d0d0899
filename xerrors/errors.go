// Package xerrors defines the error kinds shared across the ingestion core.
// Every kind maps to one sentinel so call sites can wrap with %w and
// callers can classify with errors.Is without string matching.
package xerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a requested document, paragraph, or job was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates malformed frontmatter, an empty body, or an unreadable file.
	ErrInvalidInput = errors.New("input invalid")

	// ErrProviderTransient indicates a retryable failure from the embedding or segmenter LLM provider.
	ErrProviderTransient = errors.New("provider transient failure")

	// ErrProviderPermanent indicates a non-retryable 4xx from the embedding or segmenter LLM provider.
	ErrProviderPermanent = errors.New("provider permanent failure")

	// ErrStoreBusy indicates truth-store lock contention; retried with backoff before surfacing.
	ErrStoreBusy = errors.New("store busy")

	// ErrStoreFailed indicates a truth-store failure; the enclosing transaction is aborted.
	ErrStoreFailed = errors.New("store failed")

	// ErrSearchFailed indicates a search-store write failure after the truth-store commit succeeded.
	ErrSearchFailed = errors.New("search store failed")

	// ErrValidationFailed indicates a sentence-marker round-trip mismatch; paragraph-local, not fatal.
	ErrValidationFailed = errors.New("validation failed")

	// ErrDeadlineExceeded indicates a call exceeded its propagated deadline.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrCancelled indicates cooperative cancellation of a job; terminal, not an operator-facing error.
	ErrCancelled = errors.New("cancelled")

	// ErrTargetMissing indicates a job's referenced document was deleted out from under it.
	ErrTargetMissing = errors.New("target missing")

	// ErrHashCollision indicates two distinct contents produced the same content hash.
	// Conceptually impossible with a cryptographic hash; treated as a fatal bug.
	ErrHashCollision = errors.New("hash collision")
)

// Wrap wraps an error with a context message. Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool         { return errors.Is(err, ErrInvalidInput) }
func IsProviderTransient(err error) bool    { return errors.Is(err, ErrProviderTransient) }
func IsProviderPermanent(err error) bool    { return errors.Is(err, ErrProviderPermanent) }
func IsStoreBusy(err error) bool            { return errors.Is(err, ErrStoreBusy) }
func IsStoreFailed(err error) bool          { return errors.Is(err, ErrStoreFailed) }
func IsSearchFailed(err error) bool         { return errors.Is(err, ErrSearchFailed) }
func IsValidationFailed(err error) bool     { return errors.Is(err, ErrValidationFailed) }
func IsDeadlineExceeded(err error) bool     { return errors.Is(err, ErrDeadlineExceeded) }
func IsCancelled(err error) bool            { return errors.Is(err, ErrCancelled) }
func IsTargetMissing(err error) bool        { return errors.Is(err, ErrTargetMissing) }
func IsRetryable(err error) bool {
	return IsProviderTransient(err) || IsStoreBusy(err) || IsDeadlineExceeded(err)
}
