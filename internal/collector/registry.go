package collector

import (
	"fmt"

	"cloudsql-report-agent/internal/model"
)

const (
	MetricCPU          = "cpu_utilization"
	MetricConnections  = "postgresql_connections"
	MetricLatency      = "postgresql_query_latency"
	MetricTransactions = "postgresql_transaction_count"
)

// Registry keeps metric definitions in registration order; fetches follow that order.
type Registry struct {
	order []string
	items map[string]model.MetricDefinition
}

func NewRegistry() *Registry {
	return &Registry{items: map[string]model.MetricDefinition{}}
}

// DefaultRegistry returns the PostgreSQL metrics tracked by every run.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(model.MetricDefinition{
		ID:     MetricCPU,
		Type:   "cloudsql.googleapis.com/database/cpu/utilization",
		Name:   "CPU Utilization",
		Unit:   "%",
		Scale:  100,
		Policy: model.PolicyPercentile99,
	})
	r.MustRegister(model.MetricDefinition{
		ID:     MetricConnections,
		Type:   "cloudsql.googleapis.com/database/postgresql/num_backends",
		Name:   "PostgreSQL Connections",
		Unit:   "count",
		Scale:  1,
		Policy: model.PolicyMin,
		Aggregation: &model.Aggregation{
			AlignmentPeriod:    "86400s",
			PerSeriesAligner:   "ALIGN_MAX",
			CrossSeriesReducer: "REDUCE_SUM",
		},
	})
	r.MustRegister(model.MetricDefinition{
		ID:           MetricLatency,
		Type:         "cloudsql.googleapis.com/database/postgresql/insights/aggregate/latencies",
		Name:         "PostgreSQL P99 Query Latency",
		Unit:         "µs",
		Scale:        1,
		Policy:       model.PolicyMax,
		ResourceType: model.ResourceInstanceDatabase,
		Aggregation: &model.Aggregation{
			AlignmentPeriod:    "300s",
			PerSeriesAligner:   "ALIGN_DELTA",
			CrossSeriesReducer: "REDUCE_PERCENTILE_99",
			GroupByFields:      "resource.label.resource_id",
		},
	})
	r.MustRegister(model.MetricDefinition{
		ID:     MetricTransactions,
		Type:   "cloudsql.googleapis.com/database/postgresql/transaction_count",
		Name:   "PostgreSQL Transaction Count",
		Unit:   "tps",
		Scale:  1,
		Policy: model.PolicyPercentile99,
	})
	return r
}

func (r *Registry) Register(d model.MetricDefinition) error {
	if d.ID == "" {
		return fmt.Errorf("metric definition id is required")
	}
	if d.Type == "" {
		return fmt.Errorf("metric definition %s: type is required", d.ID)
	}
	if d.Scale == 0 {
		return fmt.Errorf("metric definition %s: scale must be non-zero", d.ID)
	}
	switch d.Policy {
	case model.PolicyPercentile99, model.PolicyMax, model.PolicyMin:
	default:
		return fmt.Errorf("metric definition %s: unknown policy %q", d.ID, d.Policy)
	}
	if _, exists := r.items[d.ID]; exists {
		return fmt.Errorf("metric definition already registered: %s", d.ID)
	}
	r.items[d.ID] = d
	r.order = append(r.order, d.ID)
	return nil
}

func (r *Registry) MustRegister(d model.MetricDefinition) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(id string) (model.MetricDefinition, bool) {
	d, ok := r.items[id]
	return d, ok
}

func (r *Registry) List() []model.MetricDefinition {
	out := make([]model.MetricDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}
