package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Reading is one sensor value as served by /telemetry/latest.
type Reading struct {
	DeviceID string  `json:"device_id"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Time     string  `json:"time"`
}

// Querier is the part of api.QueryAPI used here.
type Querier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

type latestParams struct {
	Source    string
	DeviceID  string
	Minutes   int
	TimeoutMS int
}

func parseLatest(r *http.Request) latestParams {
	q := r.URL.Query()
	get := func(k string, def, min, max int) int {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				if n < min {
					return min
				}
				if max > 0 && n > max {
					return max
				}
				return n
			}
		}
		return def
	}
	source := strings.ToLower(strings.TrimSpace(q.Get("source")))
	if source == "" {
		source = "auto"
	}
	return latestParams{
		Source:    source,
		DeviceID:  strings.TrimSpace(q.Get("device")),
		Minutes:   get("minutes", 60, 1, 7*24*60),
		TimeoutMS: get("timeout_ms", 2000, 200, 5000),
	}
}

func buildLatestFlux(bucket, deviceID string, minutes int) string {
	deviceFilter := ""
	if deviceID != "" {
		deviceFilter = fmt.Sprintf("\n  |> filter(fn: (r) => r.device_id == %q)", deviceID)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q and r._field == "value")%s
  |> group(columns: ["device_id","name"])
  |> last()
  |> keep(columns: ["_time","_value","device_id","name"])
`, bucket, minutes, SensorMeasurement, deviceFilter)
}

func queryLatest(ctx context.Context, q Querier, bucket string, p latestParams) ([]Reading, error) {
	res, err := q.Query(ctx, buildLatestFlux(bucket, p.DeviceID, p.Minutes))
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []Reading
	for res.Next() {
		rec := res.Record()
		var value float64
		switch v := rec.Value().(type) {
		case float64:
			value = v
		case int64:
			value = float64(v)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				value = f
			}
		}
		r := Reading{Value: value, Time: rec.Time().UTC().Format(time.RFC3339)}
		if v, ok := rec.ValueByKey("device_id").(string); ok {
			r.DeviceID = v
		}
		if v, ok := rec.ValueByKey("name").(string); ok {
			r.Name = v
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return out, err
	}
	sortReadings(out)
	return out, nil
}

func sortReadings(rs []Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].DeviceID != rs[j].DeviceID {
			return rs[i].DeviceID < rs[j].DeviceID
		}
		return rs[i].Name < rs[j].Name
	})
}

// NewLatestHandler serves the last reading per device and sensor.
//
// GET /telemetry/latest?source=auto|influx|cache&device=<id>&minutes=60
//
// auto asks InfluxDB first and falls back to the sink cache when the query
// fails or returns nothing. q may be nil, in which case only the cache is used.
func NewLatestHandler(q Querier, bucket string, cache *Sink) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := parseLatest(r)

		var (
			list []Reading
			used string
		)
		if q != nil && (p.Source == "influx" || p.Source == "auto") {
			ctx, cancel := context.WithTimeout(r.Context(), time.Duration(p.TimeoutMS)*time.Millisecond)
			res, err := queryLatest(ctx, q, bucket, p)
			cancel()
			switch {
			case err != nil:
				w.Header().Set("X-Error", "influx-query-error")
			case len(res) > 0:
				list, used = res, "influx"
			}
		}
		switch {
		case used != "":
		case p.Source == "influx":
			used = "influx"
		case cache != nil:
			list, used = cache.Latest(p.DeviceID), "cache"
		default:
			used = "cache"
		}
		if list == nil {
			list = []Reading{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Data-Source", used)
		_ = json.NewEncoder(w).Encode(list)
	})
}
