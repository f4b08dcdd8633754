package health

import (
	"testing"

	"minikv/internal/logs"
	"minikv/internal/metrics"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzer_OK(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(10, logs.DEBUG, nil)

	reg.Add(metrics.SessionsActive, 3)

	report := NewAnalyzer(reg, logger).Analyze()

	assert.Equal(t, StatusOK, report.OverallStatus)
	assert.Equal(t, "System is healthy", report.Summary)
	assert.Equal(t, int64(3), report.ActiveSessions)
	assert.Empty(t, report.Signals)
}

func TestAnalyzer_DegradedSaveFailures(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(10, logs.DEBUG, nil)

	reg.Inc(metrics.SnapshotSaveFailuresTotal)

	report := NewAnalyzer(reg, logger).Analyze()

	assert.Equal(t, StatusDegraded, report.OverallStatus)
	assert.Contains(t, report.Signals, "Snapshot save failures detected")
}

func TestAnalyzer_CriticalReaperPanic(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(10, logs.DEBUG, nil)

	reg.Inc(metrics.ReaperPanicsTotal)
	reg.Inc(metrics.SnapshotFormatErrorsTotal)

	report := NewAnalyzer(reg, logger).Analyze()

	assert.Equal(t, StatusCritical, report.OverallStatus, "critical wins over degraded")
	assert.Len(t, report.Signals, 2)
	assert.Len(t, report.Recommendations, 2)
}

func TestAnalyzer_MultipleDegradedSignals(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(10, logs.DEBUG, nil)

	reg.Inc(metrics.SnapshotSaveFailuresTotal)
	reg.Inc(metrics.SnapshotFormatErrorsTotal)

	report := NewAnalyzer(reg, logger).Analyze()

	assert.Equal(t, StatusDegraded, report.OverallStatus)
	assert.Len(t, report.Signals, 2)
}

func TestAnalyzer_LogBasedAutosaveFailures(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(10, logs.DEBUG, nil)

	for i := 0; i < 3; i++ {
		logger.Error("autosave failed", "session", "client_10.0.0.1")
	}

	report := NewAnalyzer(reg, logger).Analyze()

	assert.Equal(t, StatusDegraded, report.OverallStatus)
	assert.Contains(t, report.Signals, "Repeated autosave failures detected in logs")
}

func TestAnalyzer_LogBasedPanicDetection(t *testing.T) {
	reg := metrics.NewRegistry()
	logger := logs.NewLogger(10, logs.DEBUG, nil)

	logger.Error("panic: runtime error")

	report := NewAnalyzer(reg, logger).Analyze()

	assert.Equal(t, StatusCritical, report.OverallStatus)
	assert.Contains(t, report.Signals, "Application panics detected in logs")
}
