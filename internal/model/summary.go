package model

import "time"

type Provenance string

const (
	Measured  Provenance = "measured"
	Estimated Provenance = "estimated"
)

// InstanceSummary holds the reduced values for one Cloud SQL instance.
// All pointer fields are set once the builder returns.
type InstanceSummary struct {
	InstanceID        string     `json:"instance_id"`
	CPUUtilization    *float64   `json:"cpu_utilization"`
	QueryLatencyP99   *float64   `json:"query_latency_p99_us"`
	ConnectionsPeak   *float64   `json:"connections_peak"`
	CPUSource         Provenance `json:"cpu_source"`
	LatencySource     Provenance `json:"latency_source"`
	ConnectionsSource Provenance `json:"connections_source"`
}

func (s InstanceSummary) CPU() float64         { return deref(s.CPUUtilization) }
func (s InstanceSummary) Latency() float64     { return deref(s.QueryLatencyP99) }
func (s InstanceSummary) Connections() float64 { return deref(s.ConnectionsPeak) }

type RunResult struct {
	RunID          string            `json:"run_id"`
	ProjectID      string            `json:"project_id"`
	GeneratedAt    time.Time         `json:"generated_at"`
	WindowStart    time.Time         `json:"window_start"`
	WindowEnd      time.Time         `json:"window_end"`
	Summaries      []InstanceSummary `json:"summaries"`
	PeakInstanceID string            `json:"peak_instance_id,omitempty"`
	PeakCPU        float64           `json:"peak_cpu"`
}

// HasPeak reports whether a peak instance was selected.
func (r RunResult) HasPeak() bool {
	return r.PeakInstanceID != ""
}

func Float(v float64) *float64 {
	return &v
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
