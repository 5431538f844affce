package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	streamConnected   atomic.Bool
	lastRunSuccess    atomic.Bool
	lastRunAt         atomic.Int64
	lastSuccessAt     atomic.Int64
	lastInstanceCount atomic.Int64
	runs              atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkRun(ts time.Time, success bool, instances int) {
	h.runs.Add(1)
	h.lastRunAt.Store(ts.UnixNano())
	h.lastRunSuccess.Store(success)
	h.lastInstanceCount.Store(int64(instances))
	if success {
		h.lastSuccessAt.Store(ts.UnixNano())
	}
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"stream_connected": h.streamConnected.Load(),
		"runs":             h.runs.Load(),
	}
	if v := h.lastRunAt.Load(); v > 0 {
		out["last_run_at"] = time.Unix(0, v).UTC()
		out["last_run_success"] = h.lastRunSuccess.Load()
		out["last_instance_count"] = h.lastInstanceCount.Load()
	}
	if v := h.lastSuccessAt.Load(); v > 0 {
		out["last_success_at"] = time.Unix(0, v).UTC()
	}
	return out
}
