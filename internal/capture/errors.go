package capture

import "errors"

// Sentinel errors. None of them cross the Store or Router boundary; they
// are logged and folded into PersistResult or a bool.
var (
	// ErrSessionActive is returned when starting a session that is already active.
	ErrSessionActive = errors.New("capture: session already active")

	// ErrSessionFinalized is returned when starting a session whose files
	// show it already completed or ended with an error.
	ErrSessionFinalized = errors.New("capture: session already finalized")

	// ErrSessionNotFound is returned when ending a session that is not active.
	ErrSessionNotFound = errors.New("capture: session not found")

	// ErrInvalidSessionID is returned for empty ids or ids that would escape
	// the sessions directory.
	ErrInvalidSessionID = errors.New("capture: invalid session id")

	// ErrPrimaryUnreadable is returned when the primary file cannot be read
	// or parsed during finalisation.
	ErrPrimaryUnreadable = errors.New("capture: primary file unreadable")

	// ErrDirectoryUnavailable is returned when the session directory cannot
	// be created.
	ErrDirectoryUnavailable = errors.New("capture: session directory unavailable")
)
