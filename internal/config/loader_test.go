package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/proctor/internal/config"
	"github.com/okian/proctor/internal/domain/model"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.HTTP.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Log.Level, convey.ShouldEqual, "info")
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, "badger")
				convey.So(cfg.Engine.QueueCapacity, convey.ShouldEqual, 1024)
				convey.So(cfg.Inference.URL, convey.ShouldBeEmpty)
				convey.So(cfg.Detection.Interval, convey.ShouldEqual, 2*time.Second)
				convey.So(cfg.Detection.Weights[model.SignalTabSwitch], convey.ShouldEqual, 0.25)
				convey.So(cfg.Detection.IsEnabled(model.SignalAudio), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			setenv(
				"PROCTOR_HTTP__ADDR", ":8080",
				"PROCTOR_ENGINE__QUEUE_CAPACITY", "64",
				"PROCTOR_INFERENCE__URL", "http://detector:5000",
				"PROCTOR_INFERENCE__BREAKER_FAILURES", "3",
				"PROCTOR_DETECTION__ALERT_COOLDOWN", "4s",
				"PROCTOR_DETECTION__WEIGHTS__GAZE", "0.3",
				"PROCTOR_DETECTION__ENABLED__AUDIO", "false",
				"PROCTOR_DETECTION__THRESHOLDS__TAB_DEBOUNCE", "250ms",
			)

			cfg, err := config.Load(ctx)

			convey.Convey("Then nested keys override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.HTTP.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Engine.QueueCapacity, convey.ShouldEqual, 64)
				convey.So(cfg.Inference.URL, convey.ShouldEqual, "http://detector:5000")
				convey.So(cfg.Inference.BreakerFailures, convey.ShouldEqual, uint32(3))
				convey.So(cfg.Detection.AlertCooldown, convey.ShouldEqual, 4*time.Second)
				convey.So(cfg.Detection.Weights[model.SignalGaze], convey.ShouldEqual, 0.3)
				convey.So(cfg.Detection.Weights[model.SignalTabSwitch], convey.ShouldEqual, 0.25)
				convey.So(cfg.Detection.IsEnabled(model.SignalAudio), convey.ShouldBeFalse)
				convey.So(cfg.Detection.IsEnabled(model.SignalGaze), convey.ShouldBeTrue)
				convey.So(cfg.Detection.Thresholds.TabDebounce, convey.ShouldEqual, 250*time.Millisecond)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			path := createTempConfigFile(t, `
log:
  level: debug
  format: json
http:
  addr: ":9090"
storage:
  driver: memory
detection:
  interval: 500ms
  flush_interval: 10s
  scales:
    typing: 30
`)
			setenv("PROCTOR_CONFIG", path, "PROCTOR_HTTP__ADDR", ":7070")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env wins over the file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Log.Level, convey.ShouldEqual, "debug")
				convey.So(cfg.Log.Format, convey.ShouldEqual, "json")
				convey.So(cfg.HTTP.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Storage.Driver, convey.ShouldEqual, "memory")
				convey.So(cfg.Detection.Interval, convey.ShouldEqual, 500*time.Millisecond)
				convey.So(cfg.Detection.FlushInterval, convey.ShouldEqual, 10*time.Second)
				convey.So(cfg.Detection.Scales[model.SignalTyping], convey.ShouldEqual, 30.0)
				convey.So(cfg.Detection.Scales[model.SignalTabSwitch], convey.ShouldEqual, 40.0)
			})
		})

		convey.Convey("When the file cannot be read", func() {
			setenv("PROCTOR_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the file is not valid YAML", func() {
			setenv("PROCTOR_CONFIG", createTempConfigFile(t, "http: [unclosed"))
			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a numeric variable does not parse", func() {
			setenv("PROCTOR_ENGINE__QUEUE_CAPACITY", "lots")
			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestConfigValidation(t *testing.T) {
	convey.Convey("Given invalid settings", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		cases := []struct {
			name string
			env  []string
		}{
			{"unknown log level", []string{"PROCTOR_LOG__LEVEL", "loud"}},
			{"empty addr", []string{"PROCTOR_HTTP__ADDR", ""}},
			{"unknown storage driver", []string{"PROCTOR_STORAGE__DRIVER", "tape"}},
			{"malformed inference url", []string{"PROCTOR_INFERENCE__URL", "not a url"}},
			{"zero breaker threshold", []string{"PROCTOR_INFERENCE__BREAKER_FAILURES", "0"}},
			{"interval below the floor", []string{"PROCTOR_DETECTION__INTERVAL", "10ms"}},
			{"flush not longer than interval", []string{"PROCTOR_DETECTION__FLUSH_INTERVAL", "2s"}},
			{"negative weight", []string{"PROCTOR_DETECTION__WEIGHTS__AUDIO", "-1"}},
			{"unknown weighted signal", []string{"PROCTOR_DETECTION__WEIGHTS__SMELL", "0.1"}},
			{"persisted history beyond the ring", []string{"PROCTOR_DETECTION__PERSISTED_HISTORY", "500"}},
		}
		for _, tc := range cases {
			convey.Convey("When the config has: "+tc.name, func() {
				setenv(tc.env...)
				_, err := config.Load(ctx)

				convey.Convey("Then it should be rejected", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})
}

func setenv(kv ...string) {
	for i := 0; i+1 < len(kv); i += 2 {
		_ = os.Setenv(kv[i], kv[i+1])
	}
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, "PROCTOR_") {
			_ = os.Unsetenv(key)
		}
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
