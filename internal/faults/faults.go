// Package faults defines the error taxonomy shared across the refresh
// pipeline. Callers match with errors.Is; everything else wraps one of these
// sentinels with context.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks a catalog transport failure after retries.
	ErrNetwork = errors.New("catalog network failure")

	// ErrRateLimited marks remote throttling. Not retried inline; the
	// orchestrator imposes a cooldown before the next catalog call.
	ErrRateLimited = errors.New("catalog rate limited")

	// ErrCache marks persistent-store I/O failure. The orchestrator degrades
	// to an in-memory cache for the rest of the process lifetime.
	ErrCache = errors.New("cache store failure")

	// ErrConfig marks malformed filter criteria. Fails fast, no cycle starts.
	ErrConfig = errors.New("invalid criteria")

	// ErrSuperseded marks a refresh cycle replaced by a newer generation.
	ErrSuperseded = errors.New("cycle superseded")
)

// Network wraps err as a transport failure.
func Network(err error) error {
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// RateLimited wraps a throttling signal with its HTTP status.
func RateLimited(status int) error {
	return fmt.Errorf("%w: status %d", ErrRateLimited, status)
}

// Cache wraps err as a persistent-store failure.
func Cache(err error) error {
	return fmt.Errorf("%w: %w", ErrCache, err)
}

// Config formats a criteria validation failure.
func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
