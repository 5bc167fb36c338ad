package repository

import "errors"

// Sentinel errors for the store.
var (
	ErrNotFound       = errors.New("session not found")
	ErrInvalidLimit   = errors.New("invalid ranking limit")
	ErrInvalidSession = errors.New("session id and mock id are required")
	ErrSessionClosed  = errors.New("session already closed")
)
