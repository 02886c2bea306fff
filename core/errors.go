package core

import "errors"

// Error taxonomy surfaced by the core. Duplicate/loop drops and single-hop
// retries are handled internally and never reach these.
var (
	// ErrNoRoute means discovery exhausted its timeout or retries.
	ErrNoRoute = errors.New("no route to destination")
	// ErrSessionUnavailable means a secure channel could not be established.
	// Kept distinct from ErrNoRoute so callers can tell "can't reach" from
	// "can't trust".
	ErrSessionUnavailable = errors.New("secure session unavailable")
	// ErrRetriesExhausted reports a message that used up its send attempts.
	// The message is kept, never dropped.
	ErrRetriesExhausted = errors.New("message retries exhausted")
	// ErrShuttingDown resolves in-flight work during node shutdown.
	ErrShuttingDown = errors.New("node is shutting down")
)
