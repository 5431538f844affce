package stream

import (
	"context"
	"encoding/json"

	"cloudsql-report-agent/internal/model"
)

// Sink receives each completed run. Publishing is best effort and never fails a run.
type Sink interface {
	SendRunResult(ctx context.Context, r model.RunResult) error
	Close(ctx context.Context) error
}

type RunFrame struct {
	ProjectID      string                  `json:"project_id"`
	RunID          string                  `json:"run_id"`
	TimestampUnix  int64                   `json:"timestamp_unix"`
	PeakInstanceID string                  `json:"peak_instance_id,omitempty"`
	PeakCPU        float64                 `json:"peak_cpu"`
	Summaries      []model.InstanceSummary `json:"summaries"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewRunFrame(r model.RunResult) RunFrame {
	return RunFrame{
		ProjectID:      r.ProjectID,
		RunID:          r.RunID,
		TimestampUnix:  r.GeneratedAt.Unix(),
		PeakInstanceID: r.PeakInstanceID,
		PeakCPU:        r.PeakCPU,
		Summaries:      append([]model.InstanceSummary(nil), r.Summaries...),
	}
}

func NewRunEnvelope(r model.RunResult) model.Envelope {
	return model.Envelope{
		Type:          model.MessageTypeRunResult,
		ProjectID:     r.ProjectID,
		RunID:         r.RunID,
		TimestampUnix: r.GeneratedAt.Unix(),
		Payload:       NewRunFrame(r),
	}
}

type NopSink struct{}

func (NopSink) SendRunResult(context.Context, model.RunResult) error { return nil }
func (NopSink) Close(context.Context) error                          { return nil }
