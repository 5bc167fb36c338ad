package repository

import (
	"sort"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/scoring"
	"github.com/okian/proctor/internal/domain/types"
)

const mostCommonLimit = 3

// computeStatistics folds stored aggregates into the dashboard view.
// Closed sessions report their summary average; live ones their latest score.
func computeStatistics(aggs []model.Aggregate) types.Statistics {
	st := types.Statistics{
		ViolationTypes:       map[string]int{},
		DeviceStats:          map[string]int{},
		MovementPatternStats: map[string]int{},
		MostCommonViolations: []string{},
	}
	if len(aggs) == 0 {
		return st
	}

	var riskSum float64
	var durationSum int64
	for i := range aggs {
		a := &aggs[i]
		st.TotalSessions++
		if a.Closed {
			st.ClosedSessions++
		}
		if len(a.Alerts) > 0 {
			st.SessionsWithAlerts++
		}
		st.TotalAlerts += len(a.Alerts)
		st.PeakRiskScore = max(st.PeakRiskScore, a.PeakRisk)
		durationSum += a.DurationSeconds

		risk := a.RiskScore
		severity := a.SeverityLevel
		if a.Summary != nil {
			risk = a.Summary.AverageRisk
			severity = a.Summary.FinalSeverity
		}
		riskSum += risk
		st.RiskDistribution.Add(string(scoring.Tier(risk)))
		st.SeverityDistribution.Add(string(severity))

		mergeCounts(st.ViolationTypes, a.Violations)
		mergeCounts(st.DeviceStats, a.Devices)
		mergeCounts(st.MovementPatternStats, a.MovementPatterns)
	}

	n := float64(st.TotalSessions)
	st.AverageRiskScore = riskSum / n
	st.AverageSessionDuration = float64(durationSum) / n
	st.MostCommonViolations = topKeys(st.ViolationTypes, mostCommonLimit)
	return st
}

func mergeCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

// topKeys returns up to n keys by descending count, ties alphabetical.
func topKeys(m map[string]int, n int) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// sortNewestFirst orders aggregates by start time, newest first.
func sortNewestFirst(aggs []model.Aggregate) {
	sort.SliceStable(aggs, func(i, j int) bool {
		if !aggs[i].StartedAt.Equal(aggs[j].StartedAt) {
			return aggs[i].StartedAt.After(aggs[j].StartedAt)
		}
		return aggs[i].SessionID < aggs[j].SessionID
	})
}

func sortBySubmission(answers []model.AnswerSnapshot) {
	sort.SliceStable(answers, func(i, j int) bool {
		return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
	})
}
