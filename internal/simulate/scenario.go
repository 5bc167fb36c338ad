// Package simulate drives synthetic interview sessions against a running
// server and checks the risk the server reports for them.
package simulate

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied to scenarios that leave them out.
const (
	DefaultBaseURL = "http://localhost:9080"
	DefaultTimeout = 10 * time.Second
	DefaultSettle  = 5 * time.Second
	DefaultTopN    = 20
)

var validate = validator.New()

// Scenario describes the sessions to simulate.
type Scenario struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// Settle is how long to wait after the last step before reading risk.
	Settle   time.Duration `yaml:"settle" validate:"gte=0"`
	TopN     int           `yaml:"top_n" validate:"gte=0,lte=100"`
	Sessions []Session     `yaml:"sessions" validate:"required,min=1,dive"`
}

// Session is one simulated candidate.
type Session struct {
	ID              string   `yaml:"id"`
	MockID          string   `yaml:"mock_id" validate:"required"`
	UserEmail       string   `yaml:"user_email" validate:"omitempty,email"`
	GenerateID      bool     `yaml:"generate_id"`
	IntervalMS      int      `yaml:"interval_ms" validate:"omitempty,gte=50"`
	DisabledSignals []string `yaml:"disabled_signals"`
	Steps           []Step   `yaml:"steps" validate:"dive"`
	Expect          Expect   `yaml:"expect"`
	// End closes the session once verified.
	End bool `yaml:"end"`
}

// Step is one burst of candidate behavior. Several fields may be set; they
// are applied in declaration order.
type Step struct {
	TabSwitches int           `yaml:"tab_switches" validate:"gte=0,lte=100"`
	Blurs       int           `yaml:"blurs" validate:"gte=0,lte=100"`
	Paste       int           `yaml:"paste" validate:"gte=0"`
	Keys        int           `yaml:"keys" validate:"gte=0,lte=500"`
	KeyInterval time.Duration `yaml:"key_interval" validate:"gte=0"`
	Faces       *int          `yaml:"faces" validate:"omitempty,gte=0"`
	AudioOff    bool          `yaml:"audio_off"`
	Answer      string        `yaml:"answer"`
	Wait        time.Duration `yaml:"wait" validate:"gte=0"`
}

// Expect bounds what the server should report after the steps ran.
type Expect struct {
	MinRisk     *float64 `yaml:"min_risk" validate:"omitempty,gte=0,lte=100"`
	MaxRisk     *float64 `yaml:"max_risk" validate:"omitempty,gte=0,lte=100"`
	Tier        string   `yaml:"tier" validate:"omitempty,oneof=low medium high"`
	MinAlerts   int      `yaml:"min_alerts" validate:"gte=0"`
	MaxAlerts   *int     `yaml:"max_alerts" validate:"omitempty,gte=0"`
	TabSwitches *int     `yaml:"tab_switches" validate:"omitempty,gte=0"`
}

// Load reads and validates a YAML scenario.
func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML scenario, applies defaults and validates it.
func Parse(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	sc.applyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) applyDefaults() {
	if sc.BaseURL == "" {
		sc.BaseURL = DefaultBaseURL
	}
	if sc.Timeout == 0 {
		sc.Timeout = DefaultTimeout
	}
	if sc.Settle == 0 {
		sc.Settle = DefaultSettle
	}
	if sc.TopN == 0 {
		sc.TopN = DefaultTopN
	}
}

// Validate checks field constraints and rules spanning fields.
func (sc *Scenario) Validate() error {
	if err := validate.Struct(sc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidScenario, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	seen := make(map[string]struct{}, len(sc.Sessions))
	for i, s := range sc.Sessions {
		switch {
		case s.GenerateID && s.UserEmail == "":
			return fmt.Errorf("%w: sessions[%d] generates its id but has no user_email", ErrInvalidScenario, i)
		case !s.GenerateID && s.ID == "":
			return fmt.Errorf("%w: sessions[%d] needs an id", ErrInvalidScenario, i)
		case s.Expect.MinRisk != nil && s.Expect.MaxRisk != nil && *s.Expect.MinRisk > *s.Expect.MaxRisk:
			return fmt.Errorf("%w: sessions[%d] min_risk exceeds max_risk", ErrInvalidScenario, i)
		}
		if s.ID == "" {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: session id %q appears twice", ErrInvalidScenario, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
