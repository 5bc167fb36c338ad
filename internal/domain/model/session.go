package model

import "time"

// Severity is a three-level rating used for tiers and alerts.
type Severity string

// Severity levels.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// EnhancedMetrics is the flattened per-tick view of auxiliary signal data.
type EnhancedMetrics struct {
	GazeZone        GazeZone      `json:"gaze_zone,omitempty"`
	FaceQuality     float64       `json:"face_quality"`
	MovementPattern HeadPattern   `json:"movement_pattern,omitempty"`
	DeviceType      string        `json:"device_type,omitempty"`
	DeviceCount     int           `json:"device_count"`
	AudioAvailable  bool          `json:"audio_available"`
	NoiseLevel      float64       `json:"noise_level"`
	TabSwitches     int           `json:"tab_switches"`
	TypingWPM       float64       `json:"typing_wpm"`
	TypingPattern   TypingPattern `json:"typing_pattern,omitempty"`
}

// RiskSnapshot is an immutable record of one tick.
type RiskSnapshot struct {
	Seq        uint64                 `json:"seq"`
	Timestamp  time.Time              `json:"timestamp"`
	RiskScore  float64                `json:"risk_score"`
	Tier       Severity               `json:"tier"`
	Signals    map[Signal]SignalState `json:"signals"`
	Triggering []Signal               `json:"triggering,omitempty"`
	Metrics    EnhancedMetrics        `json:"metrics"`
}

// Alert is an immutable, cooldown-gated notice summarizing every signal that
// was violating when it was emitted.
type Alert struct {
	ID                  string    `json:"id"`
	Severity            Severity  `json:"severity"`
	Message             string    `json:"message"`
	ContributingSignals []Signal  `json:"contributing_signals"`
	RiskScoreAtEmission float64   `json:"risk_score_at_emission"`
	Timestamp           time.Time `json:"timestamp"`
}

// Session identifies one interview attempt.
type Session struct {
	ID        string            `json:"session_id"`
	MockID    string            `json:"mock_id"`
	UserEmail string            `json:"user_email,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Settings  DetectionSettings `json:"settings"`
}

// Summary is computed once when a session ends.
type Summary struct {
	AverageRisk         float64  `json:"average_risk"`
	PeakRisk            float64  `json:"peak_risk"`
	TotalViolations     int      `json:"total_violations"`
	MostCommonViolation string   `json:"most_common_violation"`
	TotalDetections     int      `json:"total_detections"`
	TotalAlerts         int      `json:"total_alerts"`
	DurationSeconds     int64    `json:"duration_seconds"`
	FinalSeverity       Severity `json:"final_severity"`
}

// Aggregate is the durable, lossy projection of a session that is flushed
// periodically. DetectionHistory only keeps the most recent entries.
type Aggregate struct {
	SessionID        string          `json:"session_id"`
	MockID           string          `json:"mock_id"`
	UserEmail        string          `json:"user_email,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DurationSeconds  int64           `json:"duration_seconds"`
	RiskScore        float64         `json:"risk_score"`
	PeakRisk         float64         `json:"peak_risk"`
	SeverityLevel    Severity        `json:"severity_level"`
	Alerts           []Alert         `json:"alerts"`
	DetectionHistory []RiskSnapshot  `json:"detection_history"`
	EnhancedMetrics  EnhancedMetrics `json:"enhanced_metrics"`
	Violations       map[string]int  `json:"violations"`
	Devices          map[string]int  `json:"devices"`
	MovementPatterns map[string]int  `json:"movement_patterns"`
	// Settings are the ones the session ran with, including later signal
	// toggles.
	Settings DetectionSettings `json:"settings"`
	Summary  *Summary          `json:"summary,omitempty"`
	Closed   bool              `json:"closed"`
}

// AnswerSnapshot is the risk context captured when an answer is submitted.
type AnswerSnapshot struct {
	SessionID   string          `json:"session_id"`
	QuestionID  string          `json:"question_id"`
	RiskScore   float64         `json:"risk_score"`
	Tier        Severity        `json:"tier"`
	Alerts      []Alert         `json:"alerts"`
	Metrics     EnhancedMetrics `json:"metrics"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// LiveRisk is the current view served to the UI.
type LiveRisk struct {
	SessionID    string          `json:"session_id"`
	RiskScore    float64         `json:"risk_score"`
	Tier         Severity        `json:"tier"`
	ActiveAlerts []Alert         `json:"active_alerts"`
	TotalAlerts  int             `json:"total_alerts"`
	Metrics      EnhancedMetrics `json:"metrics"`
	Paused       bool            `json:"paused"`
	Ticks        uint64          `json:"ticks"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
