package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/proctor/internal/domain/model"
)

const (
	envPrefix  = "PROCTOR_"
	envFile    = envPrefix + "CONFIG"
	envNesting = "__"

	minInterval = 50 * time.Millisecond
)

var validate = validator.New()

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if PROCTOR_CONFIG is set
//  3. env (prefix PROCTOR_, "__" separates nested keys)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(envFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PROCTOR_DETECTION__ALERT_COOLDOWN -> detection.alert_cooldown
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		if s == envFile {
			return ""
		}
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), envNesting, ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-field rules of the
// detection settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidConfig, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return validateDetection(&c.Detection)
}

func validateDetection(d *model.DetectionSettings) error {
	switch {
	case d.Interval < minInterval:
		return fmt.Errorf("%w: detection.interval %s is below 50ms", ErrInvalidConfig, d.Interval)
	case d.FlushInterval <= d.Interval:
		return fmt.Errorf("%w: detection.flush_interval must exceed detection.interval", ErrInvalidConfig)
	case d.AlertCooldown < 0:
		return fmt.Errorf("%w: detection.alert_cooldown must not be negative", ErrInvalidConfig)
	case d.HistoryCapacity < 1:
		return fmt.Errorf("%w: detection.history_capacity must be positive", ErrInvalidConfig)
	case d.PersistedHistory < 0 || d.PersistedHistory > d.HistoryCapacity:
		return fmt.Errorf("%w: detection.persisted_history must be within history_capacity", ErrInvalidConfig)
	}
	for name, m := range map[string]map[model.Signal]float64{"weights": d.Weights, "scales": d.Scales} {
		for sig, v := range m {
			if !sig.Valid() {
				return fmt.Errorf("%w: detection.%s has unknown signal %q", ErrInvalidConfig, name, sig)
			}
			if v < 0 {
				return fmt.Errorf("%w: detection.%s.%s is negative", ErrInvalidConfig, name, sig)
			}
		}
	}
	for sig := range d.Enabled {
		if !sig.Valid() {
			return fmt.Errorf("%w: detection.enabled has unknown signal %q", ErrInvalidConfig, sig)
		}
	}
	return nil
}
