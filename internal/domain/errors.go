package domain

import "errors"

var (
	// ErrGapDetected signals a hole in the diff stream's update-id sequence.
	// The book state is no longer trustworthy and a full resync is required.
	ErrGapDetected = errors.New("update id gap detected")

	// ErrCrossedBook signals best bid >= best ask after applying a diff.
	// Treated exactly like a gap: drop state and resync.
	ErrCrossedBook = errors.New("crossed book")

	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("book not initialized")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrRateLimited    = errors.New("rate limited")
)
