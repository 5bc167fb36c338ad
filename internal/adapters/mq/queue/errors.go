package queue

import "errors"

// Sentinel errors returned by Enqueue.
var (
	ErrClosed    = errors.New("input queue closed")
	ErrFull      = errors.New("input queue full")
	ErrDuplicate = errors.New("duplicate input event")
)
