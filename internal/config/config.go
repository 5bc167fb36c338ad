// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	Log       LogConfig               `koanf:"log"`
	HTTP      HTTPConfig              `koanf:"http"`
	Storage   StorageConfig           `koanf:"storage"`
	Inference InferenceConfig         `koanf:"inference"`
	Engine    EngineConfig            `koanf:"engine"`
	Detection model.DetectionSettings `koanf:"detection"`
}

// LogConfig selects verbosity and encoding.
type LogConfig struct {
	// Level controls verbosity: debug, info, warn, error.
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr            string        `koanf:"addr" validate:"required"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateWindow      time.Duration `koanf:"rate_window" validate:"gt=0"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `koanf:"allowed_origins" validate:"dive,url"`
}

// StorageConfig configures the durable session store.
type StorageConfig struct {
	// Driver is "badger" or "memory".
	Driver string `koanf:"driver" validate:"oneof=badger memory"`
	// Path is the badger directory; empty keeps badger in memory.
	Path       string        `koanf:"path"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"gte=0"`
	SyncWrites bool          `koanf:"sync_writes"`
}

// InferenceConfig points at the remote device detector. An empty URL
// disables device detection.
type InferenceConfig struct {
	URL             string        `koanf:"url" validate:"omitempty,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerOpen     time.Duration `koanf:"breaker_open" validate:"gt=0"`
}

// EngineConfig sizes the per-session machinery.
type EngineConfig struct {
	// QueueCapacity bounds each session's input event buffer.
	QueueCapacity int `koanf:"queue_capacity" validate:"gte=1"`

	// DedupeSize sets the size of each session's event id cache.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=1"`

	StopTimeout time.Duration `koanf:"stop_timeout" validate:"gt=0"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr:            ":9080",
			RateLimit:       600,
			RateWindow:      time.Minute,
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     "badger",
			Path:       "data",
			GCInterval: 10 * time.Minute,
		},
		Inference: InferenceConfig{
			Timeout:         3 * time.Second,
			BreakerFailures: 5,
			BreakerOpen:     30 * time.Second,
		},
		Engine: EngineConfig{
			QueueCapacity: 1024,
			DedupeSize:    4096,
			StopTimeout:   10 * time.Second,
		},
		Detection: model.DefaultSettings(),
	}
}
