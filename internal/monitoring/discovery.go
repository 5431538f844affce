package monitoring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cloudsql-report-agent/internal/model"
)

const (
	discoveryMetricType = "cloudsql.googleapis.com/database/cpu/utilization"
	databaseIDLabel     = "database_id"
)

// Discovery lists instances that reported CPU utilization within a short lookback window.
type Discovery struct {
	client *Client
	logger *slog.Logger
	window time.Duration
	now    func() time.Time
}

func NewDiscovery(client *Client, window time.Duration, logger *slog.Logger) *Discovery {
	if window <= 0 || window > time.Hour {
		window = time.Hour
	}
	return &Discovery{client: client, logger: logger, window: window, now: time.Now}
}

// Discover never fails: an API error yields the same empty result as an idle project.
func (d *Discovery) Discover(ctx context.Context, token string) []string {
	def := model.MetricDefinition{Type: discoveryMetricType, ResourceType: model.ResourceDatabase}
	series, err := d.client.ListTimeSeries(ctx, token, Query{
		Filter: BuildFilter(d.client.ProjectID(), def, ""),
		Window: Lookback(d.now().UTC(), d.window),
	})
	if err != nil {
		d.logger.Warn("instance discovery failed", "error", err)
		return []string{}
	}
	instances := InstancesFromSeries(series)
	d.logger.Info("instances discovered", "count", len(instances), "instances", instances)
	return instances
}

// InstancesFromSeries strips the "<project>:" prefix from database_id labels and
// de-duplicates, keeping first-seen order.
func InstancesFromSeries(series []TimeSeries) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(series))
	for _, ts := range series {
		raw := ts.Resource.Labels[databaseIDLabel]
		idx := strings.LastIndex(raw, ":")
		if idx < 0 {
			continue
		}
		id := raw[idx+1:]
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
