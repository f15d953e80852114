package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

// MetricsSnapshot is one complete result of the server-side aggregation job.
// Each poll replaces it wholesale.
type MetricsSnapshot struct {
	AsOfDate   string             `json:"asOfDate"`
	Aggregates map[string]float64 `json:"aggregates"`
}

// Names returns the aggregate names in sorted order
func (s *MetricsSnapshot) Names() []string {
	names := make([]string, 0, len(s.Aggregates))
	for name := range s.Aggregates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FormatAggregate renders whole numbers without decimals and everything
// else with two
func FormatAggregate(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// MetricsReport is the body of GET /superadmin/metrics
type MetricsReport struct {
	Snapshot       *MetricsSnapshot `json:"metrics"`
	StillComputing bool             `json:"stillComputing"`
}

// dateKeys name the snapshot date across backend versions
var dateKeys = []string{"asOfDate", "date"}

// UnmarshalJSON reads the metrics envelope. isUpdating is accepted as an
// alias of stillComputing. Numeric fields of the metrics object become
// aggregates; an "aggregates" object, when present, is read as-is.
func (r *MetricsReport) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New(errors.ErrCodeUnexpectedResponse, "metrics response is not valid JSON")
	}
	parsed := gjson.ParseBytes(data)

	*r = MetricsReport{}
	if v := parsed.Get("stillComputing"); v.Exists() {
		r.StillComputing = v.Bool()
	} else {
		r.StillComputing = parsed.Get("isUpdating").Bool()
	}

	m := parsed.Get("metrics")
	if !m.IsObject() {
		return nil
	}

	snap := &MetricsSnapshot{
		AsOfDate:   firstString(m, dateKeys...),
		Aggregates: make(map[string]float64),
	}

	source := m
	if agg := m.Get("aggregates"); agg.IsObject() {
		source = agg
	}
	source.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.Number {
			snap.Aggregates[key.String()] = value.Float()
		}
		return true
	})

	r.Snapshot = snap
	return nil
}

// MarshalJSON writes the canonical envelope
func (r MetricsReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Snapshot       *MetricsSnapshot `json:"metrics"`
		StillComputing bool             `json:"stillComputing"`
	}{r.Snapshot, r.StillComputing})
}

// Metrics fetches the admin metrics report
func (c *Client) Metrics(ctx context.Context) (*MetricsReport, error) {
	resp, err := c.Do(ctx, http.MethodGet, PathMetrics, nil)
	if err != nil {
		return nil, err
	}

	var report MetricsReport
	if err := DecodeJSON(resp, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
