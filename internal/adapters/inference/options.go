package inference

import (
	"net/http"
	"time"

	"github.com/okian/proctor/pkg/logger"
)

const (
	defaultTimeout       = 3 * time.Second
	defaultTripAfter     = 5
	defaultOpenTimeout   = 30 * time.Second
	defaultHalfOpenCalls = 1
	defaultDetectPath    = "/api/detect-mobile"
	defaultHealthPath    = "/api/health"
	maxResponseBytes     = 1 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds a single detection request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open before probing again.
func WithBreaker(tripAfter uint32, openFor time.Duration) Option {
	return func(c *Client) {
		if tripAfter > 0 {
			c.tripAfter = tripAfter
		}
		if openFor > 0 {
			c.openFor = openFor
		}
	}
}

// WithPaths overrides the detection and health endpoints.
func WithPaths(detect, health string) Option {
	return func(c *Client) {
		if detect != "" {
			c.detectPath = detect
		}
		if health != "" {
			c.healthPath = health
		}
	}
}
