package core

import "errors"

// Error taxonomy. Callers classify failures with errors.Is; everything else
// is treated as fatal to the single operation that raised it.
var (
	// ErrRetrievalUnavailable marks vector-index or embedding-backend
	// failures. Retryable with backoff; surfaced to the user only after the
	// retry budget is exhausted, and never fatal to the session.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrStoreUnavailable marks store read/write failures. Same retry-then-
	// surface policy as retrieval; a transition that hits it mid-flight must
	// leave the session in its prior state.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvariantViolation marks data that breaks a model invariant, such
	// as an event whose start is not before its end. Fatal to the single
	// operation only: the offending record is logged and excluded.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("not found")

	// ErrSessionClosed is returned when advancing a session that was
	// explicitly closed. The next Load creates a fresh session instead.
	ErrSessionClosed = errors.New("session closed")
)
