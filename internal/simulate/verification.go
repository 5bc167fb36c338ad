package simulate

import (
	"fmt"

	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/internal/domain/types"
)

// verifySession lists every way live falls outside expect.
func verifySession(expect Expect, live *model.LiveRisk) []string { //nolint:gocritic // hugeParam: expect is read once
	var failures []string
	if expect.MinRisk != nil && live.RiskScore < *expect.MinRisk {
		failures = append(failures, fmt.Sprintf("risk %.2f below minimum %.2f", live.RiskScore, *expect.MinRisk))
	}
	if expect.MaxRisk != nil && live.RiskScore > *expect.MaxRisk {
		failures = append(failures, fmt.Sprintf("risk %.2f above maximum %.2f", live.RiskScore, *expect.MaxRisk))
	}
	if expect.Tier != "" && string(live.Tier) != expect.Tier {
		failures = append(failures, fmt.Sprintf("tier %q, want %q", live.Tier, expect.Tier))
	}
	if live.TotalAlerts < expect.MinAlerts {
		failures = append(failures, fmt.Sprintf("%d alerts, want at least %d", live.TotalAlerts, expect.MinAlerts))
	}
	if expect.MaxAlerts != nil && live.TotalAlerts > *expect.MaxAlerts {
		failures = append(failures, fmt.Sprintf("%d alerts, want at most %d", live.TotalAlerts, *expect.MaxAlerts))
	}
	if expect.TabSwitches != nil && live.Metrics.TabSwitches != *expect.TabSwitches {
		failures = append(failures, fmt.Sprintf("%d tab switches, want %d", live.Metrics.TabSwitches, *expect.TabSwitches))
	}
	return failures
}

// verifyTop checks ranking order and that ended sessions rank at least as
// high as their last live score. Peaks only move when a session flushes or
// ends, so live sessions are not compared.
func verifyTop(entries []types.Entry, results []Result) []string {
	var warnings []string
	for i := 1; i < len(entries); i++ {
		if entries[i].PeakRisk > entries[i-1].PeakRisk {
			warnings = append(warnings, fmt.Sprintf("top[%d] %s (%.2f) outranks top[%d] %s (%.2f)",
				i, entries[i].SessionID, entries[i].PeakRisk, i-1, entries[i-1].SessionID, entries[i-1].PeakRisk))
		}
		if entries[i].Rank < entries[i-1].Rank {
			warnings = append(warnings, fmt.Sprintf("top[%d] rank %d after rank %d", i, entries[i].Rank, entries[i-1].Rank))
		}
	}

	peaks := make(map[string]float64, len(entries))
	for _, e := range entries {
		peaks[e.SessionID] = e.PeakRisk
	}
	for _, r := range results {
		if !r.Ended {
			continue
		}
		peak, ok := peaks[r.SessionID]
		if !ok {
			continue
		}
		if peak < r.Risk {
			warnings = append(warnings, fmt.Sprintf("session %s peak %.2f below final risk %.2f", r.SessionID, peak, r.Risk))
		}
	}
	return warnings
}
