package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"cloudsql-report-agent/internal/model"
)

const (
	defaultMaxPages = 20
	maxErrorBody    = 512
)

var ErrAPI = errors.New("monitoring api error")

// Window is a closed time interval sent as interval.startTime / interval.endTime.
type Window struct {
	Start time.Time
	End   time.Time
}

// Lookback returns the window ending at now and spanning d.
func Lookback(now time.Time, d time.Duration) Window {
	return Window{Start: now.Add(-d), End: now}
}

type Query struct {
	Filter      string
	Window      Window
	Aggregation *model.Aggregation
}

// Client issues timeSeries.list requests for a single project.
type Client struct {
	http      *http.Client
	baseURL   string
	projectID string
	logger    *slog.Logger
	maxPages  int
}

func NewClient(baseURL, projectID string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		projectID: projectID,
		logger:    logger,
		maxPages:  defaultMaxPages,
	}
}

func (c *Client) ProjectID() string {
	return c.projectID
}

// ListTimeSeries follows nextPageToken until exhausted or maxPages is reached.
func (c *Client) ListTimeSeries(ctx context.Context, token string, q Query) ([]TimeSeries, error) {
	var out []TimeSeries
	pageToken := ""
	for page := 0; page < c.maxPages; page++ {
		resp, err := c.listPage(ctx, token, q, pageToken)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.TimeSeries...)
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
	c.logger.Warn("timeSeries pagination truncated", "max_pages", c.maxPages, "filter", q.Filter)
	return out, nil
}

func (c *Client) listPage(ctx context.Context, token string, q Query, pageToken string) (listResponse, error) {
	endpoint := fmt.Sprintf("%s/projects/%s/timeSeries", c.baseURL, url.PathEscape(c.projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+encodeQuery(q, pageToken).Encode(), nil)
	if err != nil {
		return listResponse{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return listResponse{}, fmt.Errorf("list time series: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return listResponse{}, fmt.Errorf("%w: status %d: %s", ErrAPI, res.StatusCode, body)
	}

	var out listResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return listResponse{}, fmt.Errorf("decode time series: %w", err)
	}
	if len(out.Error) > 0 && string(out.Error) != "null" {
		return listResponse{}, fmt.Errorf("%w: %s", ErrAPI, out.Error)
	}
	return out, nil
}

func encodeQuery(q Query, pageToken string) url.Values {
	v := url.Values{}
	v.Set("filter", q.Filter)
	v.Set("interval.startTime", q.Window.Start.UTC().Format(time.RFC3339))
	v.Set("interval.endTime", q.Window.End.UTC().Format(time.RFC3339))
	if a := q.Aggregation; a != nil {
		setIf(v, "aggregation.alignmentPeriod", a.AlignmentPeriod)
		setIf(v, "aggregation.perSeriesAligner", a.PerSeriesAligner)
		setIf(v, "aggregation.crossSeriesReducer", a.CrossSeriesReducer)
		setIf(v, "aggregation.groupByFields", a.GroupByFields)
	}
	if pageToken != "" {
		v.Set("pageToken", pageToken)
	}
	return v
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
