package health

import "minikv/internal/metrics"

// RuleResult represents the outcome of a single rule.
type RuleResult struct {
	Triggered      bool
	Signal         string
	Recommendation string
	Severity       Status
}

// Rule evaluates a metrics snapshot.
type Rule func(snapshot map[string]int64) RuleResult

// ---------- RULES ----------

// Failed snapshot writes mean client data may not survive a disconnect.
func SnapshotSaveFailureRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.SnapshotSaveFailuresTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Snapshot save failures detected",
			Recommendation: "Check free space and permissions of the data directory",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// Malformed snapshots were rejected on load.
func SnapshotFormatErrorRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.SnapshotFormatErrorsTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Malformed snapshot files rejected",
			Recommendation: "Inspect snapshot files for corruption or manual edits",
			Severity:       StatusDegraded,
		}
	}
	return RuleResult{}
}

// A panicking sweep means expired keys may not be reclaimed.
func ReaperPanicRule(snapshot map[string]int64) RuleResult {
	if snapshot[string(metrics.ReaperPanicsTotal)] > 0 {
		return RuleResult{
			Triggered:      true,
			Signal:         "Expiry reaper panicked",
			Recommendation: "Inspect the logged panic and the affected store",
			Severity:       StatusCritical,
		}
	}
	return RuleResult{}
}
