// Package worker runs the per-session detection loop.
package worker

import (
	"time"

	"github.com/okian/proctor/internal/adapters/mq/queue"
	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/pkg/logger"
)

// Option applies a configuration option to the Driver.
type Option func(*Driver)

// WithLogger sets a custom logger for the driver.
func WithLogger(l logger.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the time source used for ticks.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithInferrer sets the device inference collaborator.
func WithInferrer(inf detector.Inferrer) Option {
	return func(d *Driver) {
		d.inferrer = inf
	}
}

// WithStore sets where periodic aggregates are flushed.
func WithStore(s Store) Option {
	return func(d *Driver) {
		d.store = s
	}
}

// WithPublisher sets the observer bus for snapshots and alerts.
func WithPublisher(p Publisher) Option {
	return func(d *Driver) {
		d.publisher = p
	}
}

// WithInput replaces the input event subscription.
func WithInput(q queue.Queue) Option {
	return func(d *Driver) {
		if q != nil {
			d.input = q
		}
	}
}

// WithFlushTimeout bounds a single aggregate flush.
func WithFlushTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.flushTimeout = timeout
		}
	}
}
