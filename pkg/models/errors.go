package models

import "errors"

// Error taxonomy from spec.md §7. Components wrap these sentinels with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	// ErrSourceUnavailable marks a transient upstream failure; the adapter
	// retries with backoff.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceProtocolError marks a permanent encoding/version mismatch;
	// the adapter enters FAILED and will not recover without operator action.
	ErrSourceProtocolError = errors.New("source protocol error")

	// ErrStoreUnavailable marks a transient store lock or I/O failure,
	// retried with backoff before being surfaced.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreIntegrityError marks a schema mismatch; fatal, propagates to
	// the Orchestrator.
	ErrStoreIntegrityError = errors.New("store integrity error")

	// ErrInsufficientInputData marks a classification that had to degrade
	// because input addresses could not be resolved.
	ErrInsufficientInputData = errors.New("insufficient input data")

	// ErrConfig marks a fatal startup configuration problem.
	ErrConfig = errors.New("configuration error")

	// ErrAuthFailure marks a per-connection WebSocket auth failure.
	ErrAuthFailure = errors.New("auth failure")
)
