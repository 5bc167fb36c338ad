package inference

import "errors"

// Sentinel errors for the inference client.
var (
	ErrInvalidConfig = errors.New("inference: base url is required")
	ErrUnavailable   = errors.New("inference: service unavailable")
	ErrBadResponse   = errors.New("inference: malformed response")
)
