package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"cloudsql-report-agent/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorded struct {
	query url.Values
	auth  string
	path  string
}

func newServer(t *testing.T, pages ...string) (*Client, func() []recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, recorded{query: r.URL.Query(), auth: r.Header.Get("Authorization"), path: r.URL.Path})
		idx := len(calls) - 1
		mu.Unlock()
		if idx >= len(pages) {
			idx = len(pages) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, pages[idx])
	}))
	t.Cleanup(srv.Close)
	snapshot := func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
	return NewClient(srv.URL, "proj", srv.Client(), discardLogger()), snapshot
}

var window = Window{
	Start: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
}

func TestFetchExtractsAllValueEncodings(t *testing.T) {
	g := NewWithT(t)
	client, calls := newServer(t, `{"timeSeries":[
		{"points":[{"value":{"doubleValue":0.5}},{"value":{"int64Value":"42"}}]},
		{"points":[{"value":{"distributionValue":{"count":"3","mean":917.5}}},{"value":{"boolValue":true}},{"value":{"distributionValue":{"count":"0"}}},{"value":{"int64Value":7}}]}
	]}`)

	def := model.MetricDefinition{ID: "x", Type: "cloudsql.googleapis.com/database/cpu/utilization"}
	got := NewFetcher(client, discardLogger()).Fetch(context.Background(), "tok", def, "db1", window)

	g.Expect(got).To(Equal([]float64{0.5, 42, 917.5, 7}))
	g.Expect(calls()).To(HaveLen(1))
	call := calls()[0]
	g.Expect(call.path).To(Equal("/projects/proj/timeSeries"))
	g.Expect(call.auth).To(Equal("Bearer tok"))
	g.Expect(call.query.Get("filter")).To(Equal(`metric.type="cloudsql.googleapis.com/database/cpu/utilization" AND resource.type="cloudsql_database" AND resource.labels.database_id="proj:db1"`))
	g.Expect(call.query.Get("interval.startTime")).To(Equal("2026-10-18T00:00:00Z"))
	g.Expect(call.query.Get("interval.endTime")).To(Equal("2026-10-19T00:00:00Z"))
	g.Expect(call.query.Has("aggregation.alignmentPeriod")).To(BeFalse())
}

func TestFetchPassesAggregationVerbatim(t *testing.T) {
	g := NewWithT(t)
	client, calls := newServer(t, `{}`)

	def := model.MetricDefinition{
		ID:           "lat",
		Type:         "cloudsql.googleapis.com/database/postgresql/insights/aggregate/latencies",
		ResourceType: model.ResourceInstanceDatabase,
		Aggregation: &model.Aggregation{
			AlignmentPeriod:    "300s",
			PerSeriesAligner:   "ALIGN_DELTA",
			CrossSeriesReducer: "REDUCE_PERCENTILE_99",
			GroupByFields:      "resource.label.resource_id",
		},
	}
	got := NewFetcher(client, discardLogger()).Fetch(context.Background(), "tok", def, "db1", window)

	g.Expect(got).To(BeEmpty())
	q := calls()[0].query
	g.Expect(q.Get("filter")).To(Equal(`metric.type="cloudsql.googleapis.com/database/postgresql/insights/aggregate/latencies" AND resource.type="cloudsql_instance_database" AND resource.labels.project_id="proj" AND resource.labels.resource_id="proj:db1"`))
	g.Expect(q.Get("aggregation.alignmentPeriod")).To(Equal("300s"))
	g.Expect(q.Get("aggregation.perSeriesAligner")).To(Equal("ALIGN_DELTA"))
	g.Expect(q.Get("aggregation.crossSeriesReducer")).To(Equal("REDUCE_PERCENTILE_99"))
	g.Expect(q.Get("aggregation.groupByFields")).To(Equal("resource.label.resource_id"))
}

func TestFetchDegradesToEmpty(t *testing.T) {
	def := model.MetricDefinition{ID: "cpu", Type: "t"}

	cases := map[string]http.HandlerFunc{
		"non-2xx": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "denied", http.StatusForbidden)
		},
		"error body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"error":{"code":400,"message":"bad filter"}}`)
		},
		"malformed": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"timeSeries":[`)
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			g := NewWithT(t)
			srv := httptest.NewServer(h)
			defer srv.Close()
			f := NewFetcher(NewClient(srv.URL, "proj", srv.Client(), discardLogger()), discardLogger())
			got := f.Fetch(context.Background(), "tok", def, "db1", window)
			g.Expect(got).NotTo(BeNil())
			g.Expect(got).To(BeEmpty())
		})
	}

	t.Run("transport", func(t *testing.T) {
		g := NewWithT(t)
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		f := NewFetcher(NewClient(srv.URL, "proj", &http.Client{Timeout: time.Second}, discardLogger()), discardLogger())
		g.Expect(f.Fetch(context.Background(), "tok", def, "db1", window)).To(BeEmpty())
	})
}

func TestListTimeSeriesFollowsPages(t *testing.T) {
	g := NewWithT(t)
	client, calls := newServer(t,
		`{"timeSeries":[{"points":[{"value":{"doubleValue":1}}]}],"nextPageToken":"p2"}`,
		`{"timeSeries":[{"points":[{"value":{"doubleValue":2}}]}]}`,
	)

	series, err := client.ListTimeSeries(context.Background(), "tok", Query{Filter: "f", Window: window})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(Values(series)).To(Equal([]float64{1, 2}))
	g.Expect(calls()).To(HaveLen(2))
	g.Expect(calls()[1].query.Get("pageToken")).To(Equal("p2"))
}

func TestInstancesFromSeriesDeduplicates(t *testing.T) {
	g := NewWithT(t)
	series := []TimeSeries{
		{Resource: Resource{Labels: map[string]string{"database_id": "proj:db1"}}},
		{Resource: Resource{Labels: map[string]string{"database_id": "proj:db1"}}},
	}
	g.Expect(InstancesFromSeries(series)).To(Equal([]string{"db1"}))
}

func TestInstancesFromSeriesKeepsOrderAndSkipsBadLabels(t *testing.T) {
	g := NewWithT(t)
	series := []TimeSeries{
		{Resource: Resource{Labels: map[string]string{"database_id": "proj:db2"}}},
		{Resource: Resource{Labels: map[string]string{"database_id": "no-colon"}}},
		{Resource: Resource{Labels: map[string]string{}}},
		{Resource: Resource{Labels: map[string]string{"database_id": "proj:db1"}}},
		{Resource: Resource{Labels: map[string]string{"database_id": "proj:db2"}}},
	}
	g.Expect(InstancesFromSeries(series)).To(Equal([]string{"db2", "db1"}))
}

func TestDiscoverUsesShortWindowAndNeverFails(t *testing.T) {
	g := NewWithT(t)
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	client, calls := newServer(t, `{"timeSeries":[
		{"resource":{"type":"cloudsql_database","labels":{"database_id":"proj:db1"}}},
		{"resource":{"type":"cloudsql_database","labels":{"database_id":"proj:db1"}}},
		{"resource":{"type":"cloudsql_database","labels":{"database_id":"proj:db2"}}}
	]}`)
	d := NewDiscovery(client, time.Hour, discardLogger())
	d.now = func() time.Time { return now }

	g.Expect(d.Discover(context.Background(), "tok")).To(Equal([]string{"db1", "db2"}))
	q := calls()[0].query
	g.Expect(q.Get("filter")).To(Equal(`metric.type="cloudsql.googleapis.com/database/cpu/utilization" AND resource.type="cloudsql_database"`))
	g.Expect(q.Get("interval.startTime")).To(Equal("2026-10-19T11:00:00Z"))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	d2 := NewDiscovery(NewClient(failing.URL, "proj", failing.Client(), discardLogger()), time.Hour, discardLogger())
	g.Expect(d2.Discover(context.Background(), "tok")).To(BeEmpty())
}

func TestInt64AcceptsStringAndNumber(t *testing.T) {
	g := NewWithT(t)
	var v struct {
		A Int64 `json:"a"`
		B Int64 `json:"b"`
	}
	g.Expect(json.Unmarshal([]byte(`{"a":"12","b":34}`), &v)).To(Succeed())
	g.Expect(float64(v.A)).To(Equal(12.0))
	g.Expect(float64(v.B)).To(Equal(34.0))
}
