package worker

import "errors"

// Sentinel errors for the driver.
var (
	ErrStopped       = errors.New("driver stopped")
	ErrInvalidConfig = errors.New("invalid driver configuration")
)
