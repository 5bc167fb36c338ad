package service

import "errors"

// Sentinel errors returned by the session manager.
var (
	ErrNotStarted       = errors.New("service not started")
	ErrInvalidSession   = errors.New("session id and mock id are required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not being monitored")
)
