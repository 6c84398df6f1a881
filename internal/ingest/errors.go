package ingest

import "errors"

var (
	// ErrAlreadyRunning is returned when Run is called on a running service.
	ErrAlreadyRunning = errors.New("ingest: already running")

	// ErrShutdown is returned when Run is called after Shutdown.
	ErrShutdown = errors.New("ingest: service shut down")
)
