package stream

import (
	"github.com/okian/proctor/pkg/logger"
)

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets a custom logger for the handler.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithErrorWriter replaces the reply sent when subscribing fails.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(h *Handler) {
		h.onError = fn
	}
}

// WithAllowedOrigins restricts cross-origin upgrades to the listed origins.
// Without it only same-origin requests are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) {
		h.origins = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			h.origins[o] = struct{}{}
		}
	}
}
