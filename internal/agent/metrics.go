package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cloudsql_report"

// Metrics implements collector.Observer and notify.Observer.
type Metrics struct {
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
	peakCPU      prometheus.Gauge
	instances    prometheus.Gauge
	samples      *prometheus.CounterVec
	emptyFetches *prometheus.CounterVec
	estimated    *prometheus.CounterVec
	dispatched   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Report runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one report run.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		peakCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_peak_cpu_percent",
			Help:      "Peak P99 CPU of the last successful run.",
		}),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_instances",
			Help:      "Instances discovered by the last run.",
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_fetched_total",
			Help:      "Samples returned by the monitoring API per metric.",
		}, []string{"metric"}),
		emptyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_fetches_total",
			Help:      "Fetches that yielded no samples per metric.",
		}, []string{"metric"}),
		estimated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_fields_total",
			Help:      "Summary fields filled by an estimate instead of a measurement.",
		}, []string{"field"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Delivery attempts per channel and outcome.",
		}, []string{"channel", "outcome"}),
	}
	reg.MustRegister(m.runs, m.runDuration, m.peakCPU, m.instances, m.samples, m.emptyFetches, m.estimated, m.dispatched)
	return m
}

func (m *Metrics) SamplesFetched(metricID string, n int) {
	if n == 0 {
		m.emptyFetches.WithLabelValues(metricID).Inc()
		return
	}
	m.samples.WithLabelValues(metricID).Add(float64(n))
}

func (m *Metrics) FieldEstimated(field string) {
	m.estimated.WithLabelValues(field).Inc()
}

func (m *Metrics) Dispatched(channel, outcome string) {
	m.dispatched.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) ObserveRun(out RunOutcome, took time.Duration) {
	result := "success"
	if !out.Success {
		result = "failure"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(took.Seconds())
	m.instances.Set(float64(out.Instances))
	if out.Success && out.Result.HasPeak() {
		m.peakCPU.Set(out.Result.PeakCPU)
	}
}
