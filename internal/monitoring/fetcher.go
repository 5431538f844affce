package monitoring

import (
	"context"
	"fmt"
	"log/slog"

	"cloudsql-report-agent/internal/model"
)

// Fetcher returns raw samples for one metric of one instance.
// Every failure degrades to an empty slice.
type Fetcher struct {
	client *Client
	logger *slog.Logger
}

func NewFetcher(client *Client, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, logger: logger}
}

func (f *Fetcher) Fetch(ctx context.Context, token string, def model.MetricDefinition, instanceID string, w Window) []float64 {
	series, err := f.client.ListTimeSeries(ctx, token, Query{
		Filter:      BuildFilter(f.client.ProjectID(), def, instanceID),
		Window:      w,
		Aggregation: def.Aggregation,
	})
	if err != nil {
		f.logger.Warn("metric fetch failed", "metric", def.ID, "instance", instanceID, "error", err)
		return []float64{}
	}
	values := Values(series)
	if len(values) == 0 {
		f.logger.Info("no samples in window", "metric", def.ID, "instance", instanceID)
	}
	return values
}

// BuildFilter selects the metric type, the definition's resource type and the instance.
func BuildFilter(projectID string, def model.MetricDefinition, instanceID string) string {
	resource := def.Resource()
	base := fmt.Sprintf(`metric.type="%s" AND resource.type="%s"`, def.Type, resource)
	if instanceID == "" {
		return base
	}
	if resource == model.ResourceInstanceDatabase {
		return fmt.Sprintf(`%s AND resource.labels.project_id="%s" AND resource.labels.resource_id="%s:%s"`, base, projectID, projectID, instanceID)
	}
	return fmt.Sprintf(`%s AND resource.labels.database_id="%s:%s"`, base, projectID, instanceID)
}
