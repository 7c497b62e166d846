// Package telemetry stores twin traffic in InfluxDB and serves the latest
// readings back over HTTP.
package telemetry

import (
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/programming-digital-twins/pdt-unity-components/internal/eventbus"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// PointWriter is the non-blocking part of api.WriteAPI the sink needs.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Buckets names the bucket of each data family.
type Buckets struct {
	Sensor      string
	SystemPerf  string
	SystemState string
	Command     string
}

func (b Buckets) withDefaults() Buckets {
	if b.Sensor == "" {
		b.Sensor = "sensor_data"
	}
	if b.SystemPerf == "" {
		b.SystemPerf = "system_perf"
	}
	if b.SystemState == "" {
		b.SystemState = "system_state"
	}
	if b.Command == "" {
		b.Command = "commands"
	}
	return b
}

// Writers holds one PointWriter per data family. A nil writer drops that family.
type Writers struct {
	Sensor      PointWriter
	SystemPerf  PointWriter
	SystemState PointWriter
	Command     PointWriter
}

// Sink is a DataContextListener that writes every message as a point. It
// tracks the last write error for the readiness probe.
type Sink struct {
	w Writers

	mu      sync.RWMutex
	lastErr time.Time
	counts  map[string]int64
	latest  map[string]Reading
}

var _ eventbus.DataContextListener = (*Sink)(nil)

func NewSink(w Writers) *Sink {
	return &Sink{
		w:       w,
		lastErr: time.Now().Add(-24 * time.Hour),
		counts:  make(map[string]int64),
		latest:  make(map[string]Reading),
	}
}

// NewInfluxSink opens one async WriteAPI per bucket and watches its errors.
func NewInfluxSink(client influxdb2.Client, org string, b Buckets) *Sink {
	b = b.withDefaults()
	open := map[string]PointWriter{}
	s := NewSink(Writers{})
	get := func(bucket string) PointWriter {
		if w, ok := open[bucket]; ok {
			return w
		}
		wa := client.WriteAPI(org, bucket)
		go s.TrackErrors(wa.Errors())
		open[bucket] = wa
		return wa
	}
	s.w = Writers{
		Sensor:      get(b.Sensor),
		SystemPerf:  get(b.SystemPerf),
		SystemState: get(b.SystemState),
		Command:     get(b.Command),
	}
	return s
}

// TrackErrors records every error read from errs until it is closed.
func (s *Sink) TrackErrors(errs <-chan error) {
	for err := range errs {
		if err != nil {
			s.MarkError()
			log.Printf("telemetry: influx write error: %v", err)
		}
	}
}

func (s *Sink) MarkError() {
	s.mu.Lock()
	s.lastErr = time.Now()
	s.mu.Unlock()
}

// LastErrorAge is the time since the last write error.
func (s *Sink) LastErrorAge() time.Duration {
	if s == nil {
		return 99999 * time.Hour
	}
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}

// Count returns the number of points written for a measurement.
func (s *Sink) Count(measurement string) int64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[measurement]
}

// Flush forces pending points of every writer out.
func (s *Sink) Flush() {
	seen := map[PointWriter]bool{}
	for _, w := range []PointWriter{s.w.Sensor, s.w.SystemPerf, s.w.SystemState, s.w.Command} {
		if w == nil || seen[w] {
			continue
		}
		seen[w] = true
		w.Flush()
	}
}

func (s *Sink) write(w PointWriter, measurement string, p *write.Point) {
	if w == nil {
		return
	}
	w.WritePoint(p)
	s.mu.Lock()
	s.counts[measurement]++
	s.mu.Unlock()
}

func (s *Sink) HandleActuatorData(d *messages.ActuatorData) error {
	s.write(s.w.Command, ActuatorMeasurement, ActuatorPoint(d))
	return nil
}

func (s *Sink) HandleConnectionStateData(d *messages.ConnectionStateData) error {
	s.write(s.w.SystemState, ConnStateMeasurement, ConnectionStatePoint(d))
	return nil
}

func (s *Sink) HandleMessageData(d *messages.MessageData) error {
	s.write(s.w.SystemState, MessageMeasurement, MessagePoint(d))
	return nil
}

func (s *Sink) HandleSensorData(d *messages.SensorData) error {
	s.write(s.w.Sensor, SensorMeasurement, SensorPoint(d))
	s.mu.Lock()
	s.latest[d.DeviceID+"/"+d.Name] = Reading{
		DeviceID: d.DeviceID,
		Name:     d.Name,
		Value:    d.Value,
		Time:     stamp(d.DataContext).UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()
	return nil
}

// Latest returns the last reading of every device and sensor seen by the
// sink, optionally restricted to one device.
func (s *Sink) Latest(deviceID string) []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reading, 0, len(s.latest))
	for _, r := range s.latest {
		if deviceID == "" || r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out
}

func (s *Sink) HandleSystemPerformanceData(d *messages.SystemPerformanceData) error {
	s.write(s.w.SystemPerf, SystemPerfMeasurement, SystemPerfPoint(d))
	return nil
}
