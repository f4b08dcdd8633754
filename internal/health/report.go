package health

// Status represents overall server health.
type Status string

const (
	StatusOK       Status = "OK"
	StatusDegraded Status = "DEGRADED"
	StatusCritical Status = "CRITICAL"
)

// Report is the health summary served on /health.
type Report struct {
	OverallStatus   Status   `json:"overall_status"`
	Summary         string   `json:"summary"`
	ActiveSessions  int64    `json:"active_sessions"`
	Signals         []string `json:"signals"`
	Recommendations []string `json:"recommendations"`
}
