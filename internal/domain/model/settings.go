package model

import "time"

// Thresholds holds the tunable heuristics of every detector. The defaults are
// empirical starting points meant to be recalibrated per deployment.
type Thresholds struct {
	FaceTimeout time.Duration `json:"face_timeout" koanf:"face_timeout"`

	GazeFrameRatio float64 `json:"gaze_frame_ratio" koanf:"gaze_frame_ratio"`
	GazeMinFactor  float64 `json:"gaze_min_factor" koanf:"gaze_min_factor"`

	HeadWindow        int     `json:"head_window" koanf:"head_window"`
	HeadMovementRatio float64 `json:"head_movement_ratio" koanf:"head_movement_ratio"`

	AudioVariance     float64 `json:"audio_variance" koanf:"audio_variance"`
	AudioRMS          float64 `json:"audio_rms" koanf:"audio_rms"`
	AudioHighLowRatio float64 `json:"audio_high_low_ratio" koanf:"audio_high_low_ratio"`

	TabDebounce     time.Duration `json:"tab_debounce" koanf:"tab_debounce"`
	TabRecentWindow time.Duration `json:"tab_recent_window" koanf:"tab_recent_window"`
	TabHistory      int           `json:"tab_history" koanf:"tab_history"`

	TypingWindow             int           `json:"typing_window" koanf:"typing_window"`
	TypingMinKeys            int           `json:"typing_min_keys" koanf:"typing_min_keys"`
	TypingWPM                float64       `json:"typing_wpm" koanf:"typing_wpm"`
	TypingFastWPM            float64       `json:"typing_fast_wpm" koanf:"typing_fast_wpm"`
	TypingSlowWPM            float64       `json:"typing_slow_wpm" koanf:"typing_slow_wpm"`
	TypingExtremeWPM         float64       `json:"typing_extreme_wpm" koanf:"typing_extreme_wpm"`
	TypingMechanicalVariance float64       `json:"typing_mechanical_variance" koanf:"typing_mechanical_variance"`
	TypingMechanicalMinKeys  int           `json:"typing_mechanical_min_keys" koanf:"typing_mechanical_min_keys"`
	TypingBurstKeys          int           `json:"typing_burst_keys" koanf:"typing_burst_keys"`
	TypingBurstMinKeys       int           `json:"typing_burst_min_keys" koanf:"typing_burst_min_keys"`
	TypingBurstInterval      time.Duration `json:"typing_burst_interval" koanf:"typing_burst_interval"`
	TypingLongPause          time.Duration `json:"typing_long_pause" koanf:"typing_long_pause"`
	TypingConfidence         float64       `json:"typing_confidence" koanf:"typing_confidence"`
	TypingSuspiciousWindow   time.Duration `json:"typing_suspicious_window" koanf:"typing_suspicious_window"`
	TypingSuspiciousCooldown time.Duration `json:"typing_suspicious_cooldown" koanf:"typing_suspicious_cooldown"`
	PasteMinChars            int           `json:"paste_min_chars" koanf:"paste_min_chars"`

	DeviceMinConfidence float64 `json:"device_min_confidence" koanf:"device_min_confidence"`
}

// DetectionSettings configures one session. It is fixed when the session
// starts; Clone before handing it to anything that might outlive the caller.
type DetectionSettings struct {
	Interval         time.Duration      `json:"interval" koanf:"interval"`
	AlertCooldown    time.Duration      `json:"alert_cooldown" koanf:"alert_cooldown"`
	FlushInterval    time.Duration      `json:"flush_interval" koanf:"flush_interval"`
	HistoryCapacity  int                `json:"history_capacity" koanf:"history_capacity"`
	PersistedHistory int                `json:"persisted_history" koanf:"persisted_history"`
	ViolationWindow  time.Duration      `json:"violation_window" koanf:"violation_window"`
	Enabled          map[Signal]bool    `json:"enabled" koanf:"enabled"`
	Weights          map[Signal]float64 `json:"weights" koanf:"weights"`
	Scales           map[Signal]float64 `json:"scales" koanf:"scales"`
	Thresholds       Thresholds         `json:"thresholds" koanf:"thresholds"`
}

// DefaultSettings returns the stock detection settings.
func DefaultSettings() DetectionSettings {
	enabled := make(map[Signal]bool, len(AllSignals()))
	for _, sig := range AllSignals() {
		enabled[sig] = true
	}
	return DetectionSettings{
		Interval:         2 * time.Second,
		AlertCooldown:    10 * time.Second,
		FlushInterval:    30 * time.Second,
		HistoryCapacity:  50,
		PersistedHistory: 20,
		ViolationWindow:  10 * time.Second,
		Enabled:          enabled,
		Weights: map[Signal]float64{
			SignalFacePresence:  0.20,
			SignalGaze:          0.15,
			SignalTabSwitch:     0.25,
			SignalTyping:        0.15,
			SignalMultipleFaces: 0.10,
			SignalDevice:        0.10,
			SignalHeadMovement:  0.05,
			SignalAudio:         0.03,
		},
		Scales: map[Signal]float64{
			SignalFacePresence:  20,
			SignalMultipleFaces: 25,
			SignalTabSwitch:     40,
			SignalTyping:        20,
			SignalGaze:          15,
			SignalDevice:        15,
			SignalHeadMovement:  15,
			SignalAudio:         15,
		},
		Thresholds: Thresholds{
			FaceTimeout: 5 * time.Second,

			GazeFrameRatio: 0.4,
			GazeMinFactor:  0.5,

			HeadWindow:        10,
			HeadMovementRatio: 0.1,

			AudioVariance:     800,
			AudioRMS:          20,
			AudioHighLowRatio: 1.5,

			TabDebounce:     500 * time.Millisecond,
			TabRecentWindow: 30 * time.Second,
			TabHistory:      10,

			TypingWindow:             50,
			TypingMinKeys:            5,
			TypingWPM:                150,
			TypingFastWPM:            120,
			TypingSlowWPM:            10,
			TypingExtremeWPM:         180,
			TypingMechanicalVariance: 20,
			TypingMechanicalMinKeys:  20,
			TypingBurstKeys:          15,
			TypingBurstMinKeys:       10,
			TypingBurstInterval:      30 * time.Millisecond,
			TypingLongPause:          10 * time.Second,
			TypingConfidence:         0.4,
			TypingSuspiciousWindow:   60 * time.Second,
			TypingSuspiciousCooldown: 5 * time.Second,
			PasteMinChars:            10,

			DeviceMinConfidence: 0.5,
		},
	}
}

// IsEnabled reports whether a signal takes part in detection and scoring.
// Signals missing from the map are treated as disabled.
func (s DetectionSettings) IsEnabled(sig Signal) bool {
	return s.Enabled[sig]
}

// Clone returns a deep copy.
func (s DetectionSettings) Clone() DetectionSettings {
	out := s
	out.Enabled = make(map[Signal]bool, len(s.Enabled))
	for k, v := range s.Enabled {
		out.Enabled[k] = v
	}
	out.Weights = make(map[Signal]float64, len(s.Weights))
	for k, v := range s.Weights {
		out.Weights[k] = v
	}
	out.Scales = make(map[Signal]float64, len(s.Scales))
	for k, v := range s.Scales {
		out.Scales[k] = v
	}
	return out
}
