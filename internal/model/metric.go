package model

type ReductionPolicy string

const (
	PolicyPercentile99 ReductionPolicy = "percentile99"
	PolicyMax          ReductionPolicy = "max"
	PolicyMin          ReductionPolicy = "min"
)

// Resource types understood by the Cloud Monitoring filter builder.
const (
	ResourceDatabase         = "cloudsql_database"
	ResourceInstanceDatabase = "cloudsql_instance_database"
)

// Aggregation is passed through verbatim to the timeSeries.list query.
type Aggregation struct {
	AlignmentPeriod    string `json:"alignment_period"`
	PerSeriesAligner   string `json:"per_series_aligner"`
	CrossSeriesReducer string `json:"cross_series_reducer"`
	GroupByFields      string `json:"group_by_fields,omitempty"`
}

type MetricDefinition struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	Scale        float64         `json:"scale"`
	Policy       ReductionPolicy `json:"policy"`
	ResourceType string          `json:"resource_type,omitempty"`
	Aggregation  *Aggregation    `json:"aggregation,omitempty"`
}

// Resource returns the monitored resource type, falling back to cloudsql_database.
func (d MetricDefinition) Resource() string {
	if d.ResourceType == "" {
		return ResourceDatabase
	}
	return d.ResourceType
}
