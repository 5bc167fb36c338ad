package api

import (
	"time"

	"github.com/okian/proctor/pkg/logger"
)

const (
	defaultRateLimit  = 600
	defaultRateWindow = time.Minute
)

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStream mounts a push stream at /sessions/{id}/ws.
func WithStream(h StreamHandler) Option {
	return func(s *Server) {
		s.stream = h
	}
}

// WithRateLimit caps write requests per client IP. A non-positive limit
// disables rate limiting.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(s *Server) {
		s.rateLimit = requests
		if window > 0 {
			s.rateWindow = window
		}
	}
}
