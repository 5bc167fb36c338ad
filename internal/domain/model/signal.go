// Package model contains domain models passed between layers.
package model

import "time"

// Signal names one independent observable channel of candidate behavior.
type Signal string

// Signal types monitored by the engine.
const (
	SignalFacePresence  Signal = "face_presence"
	SignalGaze          Signal = "gaze"
	SignalMultipleFaces Signal = "multiple_faces"
	SignalDevice        Signal = "device"
	SignalHeadMovement  Signal = "head_movement"
	SignalAudio         Signal = "audio"
	SignalTabSwitch     Signal = "tab_switching"
	SignalTyping        Signal = "typing"
)

// AllSignals returns every signal in a stable order.
func AllSignals() []Signal {
	return []Signal{
		SignalFacePresence,
		SignalGaze,
		SignalMultipleFaces,
		SignalDevice,
		SignalHeadMovement,
		SignalAudio,
		SignalTabSwitch,
		SignalTyping,
	}
}

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	for _, known := range AllSignals() {
		if s == known {
			return true
		}
	}
	return false
}

// Status is the variant tag of a signal reading.
type Status string

const (
	// StatusClean means the collector reported and nothing suspicious was seen.
	StatusClean Status = "clean"
	// StatusViolation means the reading crossed the signal's suspicion threshold.
	StatusViolation Status = "violation"
	// StatusUnavailable means the collector produced nothing usable. It is not
	// evidence either way and is excluded from scoring.
	StatusUnavailable Status = "unavailable"
)

// SignalState is the per-session state of one signal. A detector returns a
// new value every tick and never mutates the previous one.
type SignalState struct {
	Signal     Signal    `json:"signal"`
	Status     Status    `json:"status"`
	Detected   bool      `json:"detected"`
	Confidence float64   `json:"confidence"`
	Violations int       `json:"violations"`
	UpdatedAt  time.Time `json:"updated_at"`
	// WindowOpenedAt is when the current violation window started; zero when
	// the signal is not in violation.
	WindowOpenedAt time.Time `json:"window_opened_at,omitempty"`
	Reading        Reading   `json:"reading"`
}

// Available reports whether the state may take part in aggregation.
func (s SignalState) Available() bool {
	return s.Status != StatusUnavailable
}

// NewSignalState returns the initial state for a signal.
func NewSignalState(sig Signal) SignalState {
	return SignalState{Signal: sig, Status: StatusUnavailable}
}

// Reading is a tagged union of signal-specific auxiliary data. Exactly one
// field is set and it matches SignalState.Signal.
type Reading struct {
	Face          *FaceReading          `json:"face,omitempty"`
	Gaze          *GazeReading          `json:"gaze,omitempty"`
	MultipleFaces *MultipleFacesReading `json:"multiple_faces,omitempty"`
	Device        *DeviceReading        `json:"device,omitempty"`
	HeadMovement  *HeadMovementReading  `json:"head_movement,omitempty"`
	Audio         *AudioReading         `json:"audio,omitempty"`
	TabSwitch     *TabSwitchReading     `json:"tab_switch,omitempty"`
	Typing        *TypingReading        `json:"typing,omitempty"`
}

// FaceReading describes face presence.
type FaceReading struct {
	FaceCount   int       `json:"face_count"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty"`
	AbsentFor   float64   `json:"absent_for_ms"`
	FaceQuality float64   `json:"face_quality"`
}

// GazeZone classifies where the candidate is looking.
type GazeZone string

// Gaze zones.
const (
	GazeCenter GazeZone = "center"
	GazeLeft   GazeZone = "left"
	GazeRight  GazeZone = "right"
	GazeTop    GazeZone = "top"
	GazeBottom GazeZone = "bottom"
)

// GazeReading describes gaze direction.
type GazeReading struct {
	Zone        GazeZone `json:"zone"`
	Distance    float64  `json:"distance"`
	Threshold   float64  `json:"threshold"`
	LookingAway bool     `json:"looking_away"`
}

// MultipleFacesReading describes the number of faces in frame.
type MultipleFacesReading struct {
	Count int `json:"count"`
}

// DeviceReading describes handheld devices reported by inference.
type DeviceReading struct {
	DeviceType string  `json:"device_type,omitempty"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// HeadPattern classifies head movement.
type HeadPattern string

// Head movement patterns.
const (
	HeadNormal             HeadPattern = "normal"
	HeadSuddenJerk         HeadPattern = "sudden_jerk"
	HeadContinuousMovement HeadPattern = "continuous_movement"
	HeadSporadicMovement   HeadPattern = "sporadic_movement"
	HeadTilting            HeadPattern = "head_tilting"
)

// HeadMovementReading describes head movement over a short window.
type HeadMovementReading struct {
	Pattern     HeadPattern `json:"pattern"`
	AvgMovement float64     `json:"avg_movement"`
	MaxMovement float64     `json:"max_movement"`
	Threshold   float64     `json:"threshold"`
	// Samples is detector memory and is not serialized.
	Samples []HeadSample `json:"-"`
}

// HeadSample is one landmark-derived head position.
type HeadSample struct {
	Center      Point
	EyeDistance float64
	At          time.Time
}

// AudioReading describes ambient audio.
type AudioReading struct {
	BackgroundNoise bool    `json:"background_noise"`
	NoiseLevel      float64 `json:"noise_level"`
	Variance        float64 `json:"variance"`
	RMS             float64 `json:"rms"`
	LowEnergy       float64 `json:"low_energy"`
	HighEnergy      float64 `json:"high_energy"`
	Peak            float64 `json:"peak"`
}

// TabSwitchReading describes tab and window focus switches.
type TabSwitchReading struct {
	SwitchCount    int  `json:"switch_count"`
	RecentSwitches int  `json:"recent_switches"`
	Hidden         bool `json:"hidden"`
	// Detector memory, not serialized.
	HiddenSince time.Time `json:"-"`
	// HiddenCounted is set once the current hide has been counted while the
	// page was still away.
	HiddenCounted bool          `json:"-"`
	History       []SwitchEvent `json:"-"`
}

// SwitchEvent is one counted switch.
type SwitchEvent struct {
	At       time.Time
	Duration time.Duration
	Blur     bool
}

// TypingPattern classifies keystroke dynamics.
type TypingPattern string

// Typing patterns.
const (
	TypingNormal     TypingPattern = "normal"
	TypingVeryFast   TypingPattern = "very_fast"
	TypingFast       TypingPattern = "fast"
	TypingSlow       TypingPattern = "slow"
	TypingMechanical TypingPattern = "mechanical"
	TypingSuspicious TypingPattern = "suspicious"
)

// TypingReading describes keystroke dynamics.
type TypingReading struct {
	Pattern          TypingPattern `json:"pattern"`
	WPM              float64       `json:"wpm"`
	IntervalVariance float64       `json:"interval_variance"`
	SuspiciousEvents int           `json:"suspicious_events"`
	Flags            []string      `json:"flags,omitempty"`
	// Detector memory, not serialized.
	Keystrokes       []Keystroke       `json:"-"`
	Suspicious       []SuspiciousEvent `json:"-"`
	LastSuspiciousAt time.Time         `json:"-"`
}

// Keystroke is one accepted key press.
type Keystroke struct {
	At       time.Time
	Interval time.Duration
}

// SuspiciousEvent is a paste or a timing anomaly seen between ticks.
type SuspiciousEvent struct {
	Kind string
	At   time.Time
}

// Point is a 2D coordinate in frame pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
