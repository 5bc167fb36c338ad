package service

import (
	"time"

	"github.com/okian/proctor/internal/adapters/repository"
	"github.com/okian/proctor/internal/domain/detector"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore sets the durable store. Defaults to an in-memory store.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithBus sets the observer bus. Defaults to an in-process bus.
func WithBus(b Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithInferrer sets the device inference collaborator. If it also reports
// health, GetStats includes it.
func WithInferrer(inf detector.Inferrer) Option {
	return func(s *Service) {
		s.inferrer = inf
		if hc, ok := inf.(HealthChecker); ok {
			s.health = hc
		}
	}
}

// WithDefaults sets the detection settings new sessions start from.
func WithDefaults(settings model.DetectionSettings) Option { //nolint:gocritic // hugeParam: applied once
	return func(s *Service) {
		s.defaults = settings.Clone()
	}
}

// WithClock overrides time.Now for sessions and id generation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStopTimeout bounds how long ending a session waits for its driver.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithQueueCapacity sets the per-session input buffer size.
func WithQueueCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithDedupeSize bounds the per-session event id memory.
func WithDedupeSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}
