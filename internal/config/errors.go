package config

import "errors"

var (
	// ErrLoadConfig wraps failures reading the file or environment layers.
	ErrLoadConfig = errors.New("load config")
	// ErrInvalidConfig wraps values that loaded but fail validation.
	ErrInvalidConfig = errors.New("invalid config")
)
