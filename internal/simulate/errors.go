package simulate

import "errors"

// Sentinel errors for scenario handling.
var (
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrUnexpectedReply = errors.New("unexpected reply")
	ErrExpectation     = errors.New("expectation not met")
)
