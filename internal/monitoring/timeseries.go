package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type listResponse struct {
	TimeSeries    []TimeSeries    `json:"timeSeries"`
	NextPageToken string          `json:"nextPageToken"`
	Error         json.RawMessage `json:"error"`
}

type TimeSeries struct {
	Resource Resource `json:"resource"`
	Points   []Point  `json:"points"`
}

type Resource struct {
	Type   string            `json:"type"`
	Labels map[string]string `json:"labels"`
}

type Point struct {
	Value TypedValue `json:"value"`
}

// TypedValue mirrors the Cloud Monitoring TypedValue union. Only one field is set per point.
type TypedValue struct {
	DoubleValue       *float64      `json:"doubleValue,omitempty"`
	Int64Value        *Int64        `json:"int64Value,omitempty"`
	DistributionValue *Distribution `json:"distributionValue,omitempty"`
}

// Distribution carries only the reported mean; bucket counts are ignored.
type Distribution struct {
	Count Int64    `json:"count"`
	Mean  *float64 `json:"mean,omitempty"`
}

// Int64 accepts both the proto3 JSON string encoding ("42") and a bare number.
type Int64 float64

func (v *Int64) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*v = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse int64 value %q: %w", b, err)
	}
	*v = Int64(f)
	return nil
}

// Float unwraps the point value. Unsupported encodings report false.
func (v TypedValue) Float() (float64, bool) {
	switch {
	case v.DoubleValue != nil:
		return *v.DoubleValue, true
	case v.Int64Value != nil:
		return float64(*v.Int64Value), true
	case v.DistributionValue != nil && v.DistributionValue.Mean != nil:
		return *v.DistributionValue.Mean, true
	default:
		return 0, false
	}
}

// Values flattens every point of every series in response order.
func Values(series []TimeSeries) []float64 {
	out := make([]float64, 0)
	for _, ts := range series {
		for _, p := range ts.Points {
			if f, ok := p.Value.Float(); ok {
				out = append(out, f)
			}
		}
	}
	return out
}
