// Package scoring fuses per-signal violation state into a single 0-100 risk
// score and maps it onto severity tiers.
package scoring

import (
	"math"

	"github.com/okian/proctor/internal/domain/model"
)

// Scoring constants.
const (
	maxScoreValue     = 100
	defaultScale      = 15
	lowTierCeiling    = 30
	mediumTierCeiling = 70
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithWeights replaces the signal weights. Non-positive weights are dropped,
// which takes the signal out of the score entirely.
func WithWeights(weights map[model.Signal]float64) Option {
	return func(a *Aggregator) {
		a.weights = make(map[model.Signal]float64, len(weights))
		for sig, w := range weights {
			if w > 0 {
				a.weights[sig] = w
			}
		}
	}
}

// WithScales replaces the per-violation multipliers.
func WithScales(scales map[model.Signal]float64) Option {
	return func(a *Aggregator) {
		a.scales = make(map[model.Signal]float64, len(scales))
		for sig, k := range scales {
			if k > 0 {
				a.scales[sig] = k
			}
		}
	}
}

// Result is the outcome of scoring one tick.
type Result struct {
	Score      float64
	Tier       model.Severity
	Triggering []model.Signal
	// ActiveWeight is the weight denominator after exclusions.
	ActiveWeight float64
}

// Aggregator computes weighted risk from signal states. It holds no
// per-session state and is safe for concurrent use once built.
type Aggregator struct {
	weights map[model.Signal]float64
	scales  map[model.Signal]float64
	enabled map[model.Signal]bool
}

// NewAggregator builds an aggregator from detection settings.
func NewAggregator(settings model.DetectionSettings, opts ...Option) *Aggregator {
	a := &Aggregator{enabled: make(map[model.Signal]bool, len(settings.Enabled))}
	for sig, on := range settings.Enabled {
		a.enabled[sig] = on
	}
	WithWeights(settings.Weights)(a)
	WithScales(settings.Scales)(a)

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SignalScore maps a violation count onto the per-signal 0-100 severity.
func (a *Aggregator) SignalScore(sig model.Signal, violations int) float64 {
	k, ok := a.scales[sig]
	if !ok {
		k = defaultScale
	}
	return math.Max(0, math.Min(maxScoreValue, float64(violations)*k))
}

// Score computes the weighted risk. Disabled signals, signals without a
// weight and unavailable signals are left out of both the numerator and the
// denominator.
func (a *Aggregator) Score(states map[model.Signal]model.SignalState) Result {
	var weighted, active float64
	var triggering []model.Signal

	for _, sig := range model.AllSignals() {
		if !a.enabled[sig] {
			continue
		}
		st, ok := states[sig]
		if !ok || !st.Available() {
			continue
		}
		if st.Detected {
			triggering = append(triggering, sig)
		}
		w := a.weights[sig]
		if w <= 0 {
			continue
		}
		weighted += a.SignalScore(sig, st.Violations) * w
		active += w
	}

	score := 0.0
	if active > 0 {
		score = math.Max(0, math.Min(maxScoreValue, weighted/active))
	}
	return Result{Score: score, Tier: Tier(score), Triggering: triggering, ActiveWeight: active}
}

// Tier maps a risk score onto low, medium or high.
func Tier(score float64) model.Severity {
	switch {
	case score < lowTierCeiling:
		return model.SeverityLow
	case score < mediumTierCeiling:
		return model.SeverityMedium
	default:
		return model.SeverityHigh
	}
}

// Metrics flattens the auxiliary readings of a tick for display and storage.
func Metrics(states map[model.Signal]model.SignalState) model.EnhancedMetrics {
	var m model.EnhancedMetrics
	if r := states[model.SignalGaze].Reading.Gaze; r != nil {
		m.GazeZone = r.Zone
	}
	if r := states[model.SignalFacePresence].Reading.Face; r != nil {
		m.FaceQuality = r.FaceQuality
	}
	if r := states[model.SignalHeadMovement].Reading.HeadMovement; r != nil {
		m.MovementPattern = r.Pattern
	}
	if st := states[model.SignalDevice]; st.Reading.Device != nil {
		m.DeviceType = st.Reading.Device.DeviceType
		m.DeviceCount = st.Reading.Device.Count
	}
	if st, ok := states[model.SignalAudio]; ok && st.Available() {
		m.AudioAvailable = true
		if st.Reading.Audio != nil {
			m.NoiseLevel = st.Reading.Audio.NoiseLevel
		}
	}
	if r := states[model.SignalTabSwitch].Reading.TabSwitch; r != nil {
		m.TabSwitches = r.SwitchCount
	}
	if r := states[model.SignalTyping].Reading.Typing; r != nil {
		m.TypingWPM = r.WPM
		m.TypingPattern = r.Pattern
	}
	return m
}

// Final severity thresholds applied when a session ends.
const (
	finalHighAverage     = 70
	finalHighAlerts      = 10
	finalHighViolations  = 15
	finalMediumAverage   = 40
	finalMediumAlerts    = 5
	finalMediumViolation = 8
)

// FinalSeverity rates a finished session from its average risk and totals.
func FinalSeverity(averageRisk float64, alerts, violations int) model.Severity {
	switch {
	case averageRisk >= finalHighAverage || alerts >= finalHighAlerts || violations >= finalHighViolations:
		return model.SeverityHigh
	case averageRisk >= finalMediumAverage || alerts >= finalMediumAlerts || violations >= finalMediumViolation:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
