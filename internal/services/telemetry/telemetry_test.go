package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/programming-digital-twins/pdt-unity-components/internal/eventbus"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushes int
}

func (f *fakeWriter) WritePoint(p *write.Point) {
	f.mu.Lock()
	f.points = append(f.points, p)
	f.mu.Unlock()
}

func (f *fakeWriter) Flush() {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}

func (f *fakeWriter) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p.Name())
	}
	return out
}

func tagValue(p *write.Point, key string) string {
	for _, t := range p.TagList() {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func fieldValue(p *write.Point, key string) interface{} {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func TestSensorPoint(t *testing.T) {
	sd := messages.NewSensorData("Humidity", "hum-1", model.EnvTypeCategory, model.HumiditySensorType, 41.5)
	sd.LocationID = "lab"
	p := SensorPoint(sd)
	if p.Name() != SensorMeasurement {
		t.Fatalf("measurement = %s", p.Name())
	}
	if tagValue(p, "device_id") != "hum-1" || tagValue(p, "location_id") != "lab" || tagValue(p, "name") != "Humidity" {
		t.Fatalf("tags = %+v", p.TagList())
	}
	if v, ok := fieldValue(p, "value").(float64); !ok || v != 41.5 {
		t.Fatalf("value field = %v", fieldValue(p, "value"))
	}
	if !p.Time().Equal(sd.TimeStamp) {
		t.Fatalf("time = %v, want %v", p.Time(), sd.TimeStamp)
	}
}

func TestSinkRoutesByFamily(t *testing.T) {
	sensor, perf, state, cmd := &fakeWriter{}, &fakeWriter{}, &fakeWriter{}, &fakeWriter{}
	sink := NewSink(Writers{Sensor: sensor, SystemPerf: perf, SystemState: state, Command: cmd})

	bus := eventbus.New()
	if err := bus.RegisterDataListener(sink); err != nil {
		t.Fatalf("RegisterDataListener: %v", err)
	}
	bus.OnMessagingSystemDataReceived(messages.NewSensorData("Temp", "t-1", model.EnvTypeCategory, model.TempSensorType, 20))
	sp := messages.NewSystemPerformanceData("SystemPerf", "edge-1", model.SystemTypeCategory, model.SystemPerfType)
	sp.CPUUtil = 12
	bus.OnMessagingSystemDataReceived(sp)
	bus.OnMessagingSystemDataReceived(messages.NewConnectionStateData("conn", "edge-1", "mq", 1883))
	bus.OnMessagingSystemDataReceived(messages.NewMessageData("note", "edge-1", "hello"))
	ad := messages.NewActuatorData("targetTemperature", "t-1", model.EnvTypeCategory, model.HvacActuatorType)
	ad.IsResponse = true
	bus.OnMessagingSystemDataReceived(ad)

	if got := sensor.names(); len(got) != 1 || got[0] != SensorMeasurement {
		t.Fatalf("sensor bucket = %v", got)
	}
	if got := perf.names(); len(got) != 1 || got[0] != SystemPerfMeasurement {
		t.Fatalf("perf bucket = %v", got)
	}
	if got := state.names(); len(got) != 2 || got[0] != ConnStateMeasurement || got[1] != MessageMeasurement {
		t.Fatalf("state bucket = %v", got)
	}
	if got := cmd.names(); len(got) != 1 || tagValue(cmd.points[0], "response") != "true" {
		t.Fatalf("command bucket = %v", got)
	}
	if sink.Count(SensorMeasurement) != 1 || sink.Count(ActuatorMeasurement) != 1 {
		t.Fatalf("counts sensor=%d actuator=%d", sink.Count(SensorMeasurement), sink.Count(ActuatorMeasurement))
	}

	sink.Flush()
	if sensor.flushes != 1 || cmd.flushes != 1 {
		t.Fatalf("flushes sensor=%d cmd=%d", sensor.flushes, cmd.flushes)
	}
}

func TestSinkNilWriterDrops(t *testing.T) {
	sink := NewSink(Writers{})
	if err := sink.HandleSensorData(messages.NewSensorData("Temp", "t-1", 0, 0, 1)); err != nil {
		t.Fatalf("HandleSensorData: %v", err)
	}
	if sink.Count(SensorMeasurement) != 0 {
		t.Fatalf("dropped family counted")
	}
	if got := sink.Latest(""); len(got) != 1 {
		t.Fatalf("cache = %v", got)
	}
}

func TestTrackErrors(t *testing.T) {
	sink := NewSink(Writers{})
	if sink.LastErrorAge() < time.Hour {
		t.Fatalf("fresh sink reports a recent error")
	}
	errs := make(chan error, 2)
	errs <- nil
	errs <- errors.New("write failed")
	close(errs)
	sink.TrackErrors(errs)
	if sink.LastErrorAge() > time.Second {
		t.Fatalf("LastErrorAge = %v", sink.LastErrorAge())
	}
}

type failingQuerier struct{ calls int }

func (f *failingQuerier) Query(context.Context, string) (*api.QueryTableResult, error) {
	f.calls++
	return nil, errors.New("influx down")
}

func getLatest(t *testing.T, h http.Handler, target string) ([]Reading, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	return out, rec
}

func TestLatestHandlerFallsBackToCache(t *testing.T) {
	sink := NewSink(Writers{})
	_ = sink.HandleSensorData(messages.NewSensorData("Temp", "t-2", 0, 0, 19))
	_ = sink.HandleSensorData(messages.NewSensorData("Temp", "t-1", 0, 0, 20))
	_ = sink.HandleSensorData(messages.NewSensorData("Temp", "t-1", 0, 0, 21))

	q := &failingQuerier{}
	h := NewLatestHandler(q, "sensor_data", sink)

	out, rec := getLatest(t, h, "/telemetry/latest")
	if q.calls != 1 || rec.Header().Get("X-Error") != "influx-query-error" {
		t.Fatalf("query calls=%d X-Error=%q", q.calls, rec.Header().Get("X-Error"))
	}
	if rec.Header().Get("X-Data-Source") != "cache" {
		t.Fatalf("source = %q", rec.Header().Get("X-Data-Source"))
	}
	if len(out) != 2 || out[0].DeviceID != "t-1" || out[0].Value != 21 || out[1].DeviceID != "t-2" {
		t.Fatalf("readings = %+v", out)
	}

	out, _ = getLatest(t, h, "/telemetry/latest?source=cache&device=t-2")
	if q.calls != 1 || len(out) != 1 || out[0].Value != 19 {
		t.Fatalf("cache only: calls=%d readings=%+v", q.calls, out)
	}

	out, rec = getLatest(t, h, "/telemetry/latest?source=influx")
	if len(out) != 0 || rec.Header().Get("X-Data-Source") != "influx" {
		t.Fatalf("influx only: %+v source=%q", out, rec.Header().Get("X-Data-Source"))
	}
}

func TestBuildLatestFlux(t *testing.T) {
	f := buildLatestFlux("sensor_data", "hum-1", 30)
	for _, want := range []string{`from(bucket: "sensor_data")`, "range(start: -30m)", `r.device_id == "hum-1"`, "last()"} {
		if !strings.Contains(f, want) {
			t.Errorf("flux missing %q:\n%s", want, f)
		}
	}
	if strings.Contains(buildLatestFlux("b", "", 5), "device_id ==") {
		t.Errorf("device filter without a device")
	}
}
