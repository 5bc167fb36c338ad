// Package types contains response shapes shared by the service and the HTTP API.
package types

import (
	"time"

	"github.com/okian/proctor/internal/domain/model"
)

// Entry is one row of the riskiest-sessions ranking.
type Entry struct {
	Rank      int       `json:"rank"`
	SessionID string    `json:"session_id"`
	MockID    string    `json:"mock_id,omitempty"`
	PeakRisk  float64   `json:"peak_risk"`
	At        time.Time `json:"at"`
}

// Distribution counts items per severity.
type Distribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Add increments the bucket for level.
func (d *Distribution) Add(level string) {
	switch level {
	case "high":
		d.High++
	case "medium":
		d.Medium++
	default:
		d.Low++
	}
}

// Statistics summarizes stored sessions.
type Statistics struct {
	TotalSessions          int            `json:"total_sessions"`
	ClosedSessions         int            `json:"closed_sessions"`
	SessionsWithAlerts     int            `json:"sessions_with_alerts"`
	AverageRiskScore       float64        `json:"average_risk_score"`
	PeakRiskScore          float64        `json:"peak_risk_score"`
	TotalAlerts            int            `json:"total_alerts"`
	AverageSessionDuration float64        `json:"average_session_duration_seconds"`
	ViolationTypes         map[string]int `json:"violation_types"`
	RiskDistribution       Distribution   `json:"risk_distribution"`
	SeverityDistribution   Distribution   `json:"severity_distribution"`
	DeviceStats            map[string]int `json:"device_stats"`
	MovementPatternStats   map[string]int `json:"movement_pattern_stats"`
	MostCommonViolations   []string       `json:"most_common_violations"`
}

// Observation carries the latest collector outputs for a session. Nil
// fields are left unchanged.
type Observation struct {
	Camera *model.CameraObservation `json:"camera,omitempty"`
	Audio  *model.AudioObservation  `json:"audio,omitempty"`
}

// PushResult counts what happened to a batch of input events.
type PushResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
}
