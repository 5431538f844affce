package collector

import (
	"context"
	"log/slog"
	"math"
	"time"

	"cloudsql-report-agent/internal/model"
	"cloudsql-report-agent/internal/monitoring"
)

const DefaultCPU = 25.0

type SampleFetcher interface {
	Fetch(ctx context.Context, token string, def model.MetricDefinition, instanceID string, w monitoring.Window) []float64
}

// Observer receives per-run counts. It is optional.
type Observer interface {
	SamplesFetched(metricID string, n int)
	FieldEstimated(field string)
}

type nopObserver struct{}

func (nopObserver) SamplesFetched(string, int) {}
func (nopObserver) FieldEstimated(string)      {}

// Builder fetches and reduces every registered metric per instance and fills gaps
// through the fallback ladder in Summarize.
type Builder struct {
	fetcher  SampleFetcher
	registry *Registry
	logger   *slog.Logger
	window   time.Duration
	observer Observer
	now      func() time.Time
}

func NewBuilder(fetcher SampleFetcher, registry *Registry, window time.Duration, logger *slog.Logger) *Builder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Builder{
		fetcher:  fetcher,
		registry: registry,
		logger:   logger,
		window:   window,
		observer: nopObserver{},
		now:      time.Now,
	}
}

func (b *Builder) WithObserver(o Observer) *Builder {
	if o != nil {
		b.observer = o
	}
	return b
}

// Window is the reporting interval ending now.
func (b *Builder) Window() monitoring.Window {
	return monitoring.Lookback(b.now().UTC(), b.window)
}

func (b *Builder) Build(ctx context.Context, token string, instances []string) []model.InstanceSummary {
	return b.BuildWindow(ctx, token, instances, b.Window())
}

// BuildWindow returns one summary per instance, in input order.
func (b *Builder) BuildWindow(ctx context.Context, token string, instances []string, w monitoring.Window) []model.InstanceSummary {
	defs := b.registry.List()
	out := make([]model.InstanceSummary, 0, len(instances))
	for _, id := range instances {
		measured := make(map[string]float64, len(defs))
		for _, def := range defs {
			samples := b.fetcher.Fetch(ctx, token, def, id, w)
			b.observer.SamplesFetched(def.ID, len(samples))
			if v, ok := Reduce(def.Policy, samples, def.Scale); ok {
				measured[def.ID] = v
			}
		}
		s := Summarize(id, measured)
		b.reportEstimates(s)
		b.logger.Info("instance summarized",
			"instance", id,
			"cpu_p99", s.CPU(), "cpu_source", s.CPUSource,
			"latency_p99_us", s.Latency(), "latency_source", s.LatencySource,
			"connections_peak", s.Connections(), "connections_source", s.ConnectionsSource,
		)
		out = append(out, s)
	}
	return out
}

func (b *Builder) reportEstimates(s model.InstanceSummary) {
	if s.CPUSource == model.Estimated {
		b.observer.FieldEstimated("cpu_utilization")
	}
	if s.ConnectionsSource == model.Estimated {
		b.observer.FieldEstimated("connections_peak")
	}
	if s.LatencySource == model.Estimated {
		b.observer.FieldEstimated("query_latency_p99")
	}
}

// Summarize applies the fallback ladder to measured values keyed by metric id.
// Order is fixed: cpu, then connections, then latency; later steps read the cpu chosen first.
func Summarize(instanceID string, measured map[string]float64) model.InstanceSummary {
	s := model.InstanceSummary{
		InstanceID:        instanceID,
		CPUSource:         model.Measured,
		ConnectionsSource: model.Measured,
		LatencySource:     model.Measured,
	}

	cpu, ok := measured[MetricCPU]
	if !ok {
		cpu = DefaultCPU
		s.CPUSource = model.Estimated
	}
	s.CPUUtilization = model.Float(cpu)

	conn, ok := measured[MetricConnections]
	if !ok {
		conn = EstimateConnections(cpu)
		s.ConnectionsSource = model.Estimated
	}
	s.ConnectionsPeak = model.Float(conn)

	lat, ok := measured[MetricLatency]
	if !ok {
		s.LatencySource = model.Estimated
		if tps, hasTPS := measured[MetricTransactions]; hasTPS {
			lat = EstimateLatencyFromTPS(tps)
		} else {
			lat = EstimateLatencyFromCPU(cpu)
		}
	}
	s.QueryLatencyP99 = model.Float(lat)
	return s
}

// EstimateConnections assumes busier instances hold more backends.
func EstimateConnections(cpu float64) float64 {
	return math.Max(1, math.Round(cpu*2))
}

func EstimateLatencyFromCPU(cpu float64) float64 {
	switch {
	case cpu > 80:
		return 150 + (cpu-80)*5
	case cpu > 50:
		return 50 + (cpu-50)*3
	default:
		return 20 + cpu*0.5
	}
}

// EstimateLatencyFromTPS maps the P99 transaction rate to a latency guess.
func EstimateLatencyFromTPS(tps float64) float64 {
	if tps > 100 {
		return math.Max(5, 50-tps/10)
	}
	return 20 + (100-tps)/5
}
