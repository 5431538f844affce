package report

type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds are exclusive: a value must exceed a bound to reach its level.
type Thresholds struct {
	Warning  float64
	Critical float64
}

var (
	CPUThresholds         = Thresholds{Warning: 60, Critical: 80}
	LatencyThresholds     = Thresholds{Warning: 500, Critical: 1000}
	ConnectionsThresholds = Thresholds{Warning: 50, Critical: 80}
)

func (t Thresholds) Classify(v float64) Severity {
	switch {
	case v > t.Critical:
		return SeverityCritical
	case v > t.Warning:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// Color maps onto Adaptive Card TextBlock colors.
func (s Severity) Color() string {
	switch s {
	case SeverityCritical:
		return "attention"
	case SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func (s Severity) Icon() string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "✅"
	}
}
