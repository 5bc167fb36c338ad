package repository

import (
	"time"

	"github.com/okian/proctor/pkg/logger"
)

const (
	defaultGCInterval = 10 * time.Minute
	gcDiscardRatio    = 0.5
)

// Option configures a BadgerStore.
type Option func(*BadgerStore)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *BadgerStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGCInterval sets how often the value log is garbage collected.
// Zero or negative disables the background collector.
func WithGCInterval(d time.Duration) Option {
	return func(s *BadgerStore) {
		s.gcInterval = d
	}
}

// WithSyncWrites makes every commit fsync before returning.
func WithSyncWrites(on bool) Option {
	return func(s *BadgerStore) {
		s.syncWrites = on
	}
}
