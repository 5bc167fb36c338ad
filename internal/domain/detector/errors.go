package detector

import "errors"

// Sentinel errors for this package.
var (
	ErrUnknownSignal      = errors.New("unknown signal")
	ErrInvalidObservation = errors.New("invalid observation")
)
