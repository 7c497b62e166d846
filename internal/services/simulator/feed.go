// Package simulator is a loopback Transport that produces telemetry for
// configured devices and answers the commands sent to them.
package simulator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/transport"
)

const (
	ConnectionStateName = "SimulatedConnection"
	DefaultInterval     = 2 * time.Second
	simHost             = "simulator"
)

var ErrUnknownDevice = errors.New("unknown simulated device")

// Device is one simulated physical thing.
type Device struct {
	ID         string       `yaml:"id"`
	LocationID string       `yaml:"location"`
	Sensors    []SensorSpec `yaml:"sensors"`
	SystemPerf bool         `yaml:"systemPerf"`
}

type Config struct {
	DeviceID string
	Devices  []Device
	Interval time.Duration
	Seed     int64
	Logger   *log.Logger
}

type simDevice struct {
	Device
	gens []*DataGenerator
	perf [3]*DataGenerator
}

// Feed implements transport.Transport without a broker.
type Feed struct {
	cfg     Config
	in      transport.Inbound
	logger  *log.Logger
	devices map[string]*simDevice
	order   []string

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool

	msgIn  atomic.Int64
	msgOut atomic.Int64
}

var _ transport.Transport = (*Feed)(nil)

func NewFeed(cfg Config, in transport.Inbound) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = simHost
	}
	f := &Feed{cfg: cfg, in: in, logger: cfg.Logger, devices: make(map[string]*simDevice)}
	seed := cfg.Seed
	for _, d := range cfg.Devices {
		if d.ID == "" {
			continue
		}
		sd := &simDevice{Device: d}
		for _, s := range d.Sensors {
			seed++
			sd.gens = append(sd.gens, NewDataGenerator(s, seed))
		}
		if d.SystemPerf {
			for i, name := range []string{"cpuUtil", "memUtil", "diskUtil"} {
				seed++
				sd.perf[i] = NewDataGenerator(SensorSpec{Name: name, Min: 0, Max: 100, Start: 20, Step: 5}, seed)
			}
		}
		if _, dup := f.devices[d.ID]; !dup {
			f.order = append(f.order, d.ID)
		}
		f.devices[d.ID] = sd
	}
	return f
}

// Connect starts producing readings every Interval until Disconnect or ctx
// is done.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.cancel != nil {
		f.mu.Unlock()
		return nil
	}
	cctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	f.connected.Store(true)
	f.emitState()
	f.logger.Printf("simulator: feeding %d devices every %s", len(f.order), f.cfg.Interval)

	go func() {
		defer close(done)
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-ticker.C:
				f.Tick()
			}
		}
	}()
	return nil
}

func (f *Feed) Disconnect() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	f.connected.Store(false)
	f.emitState()
}

func (f *Feed) IsConnected() bool { return f.connected.Load() }

// Tick produces one reading per sensor of every device.
func (f *Feed) Tick() int {
	n := 0
	for _, id := range f.order {
		d := f.devices[id]
		for _, g := range d.gens {
			s := g.Spec()
			sd := messages.NewSensorData(s.Name, d.ID, s.TypeCategoryID, s.TypeID, g.Next())
			sd.LocationID = d.LocationID
			f.in.HandleSensorData(sd)
			n++
		}
		if d.perf[0] != nil {
			sp := messages.NewSystemPerformanceData("SystemPerformance", d.ID, model.SystemTypeCategory, model.SystemPerfType)
			sp.LocationID = d.LocationID
			sp.CPUUtil, sp.MemUtil, sp.DiskUtil = d.perf[0].Next(), d.perf[1].Next(), d.perf[2].Next()
			f.in.HandleSystemPerformanceData(sp)
			n++
		}
	}
	f.msgIn.Add(int64(n))
	return n
}

// PublishMessage applies actuation requests to the simulated device and
// answers with an actuator response. Other payloads are accepted and dropped.
func (f *Feed) PublishMessage(resource model.ResourceNameContainer) error {
	if !f.IsConnected() {
		return transport.ErrNotConnected
	}
	f.msgOut.Add(1)
	if !resource.IsActuationRequest() {
		return nil
	}
	cmd := resource.DataContext.(*messages.ActuatorData)
	d, ok := f.devices[cmd.DeviceID]
	if !ok {
		return ErrUnknownDevice
	}
	for _, g := range d.gens {
		if !strings.EqualFold(g.Spec().Target, cmd.Name) {
			continue
		}
		if cmd.Command == messages.CommandOff {
			g.ClearTarget()
		} else {
			g.SetTarget(cmd.Value)
		}
	}

	resp := *cmd
	resp.IsResponse = true
	resp.TimeStamp = time.Now().UTC()
	f.msgIn.Add(1)
	f.in.HandleActuatorData(&resp)
	return nil
}

// Counts returns the number of messages produced and accepted.
func (f *Feed) Counts() (in, out int64) { return f.msgIn.Load(), f.msgOut.Load() }

func (f *Feed) emitState() {
	st := messages.NewConnectionStateData(ConnectionStateName, f.cfg.DeviceID, simHost, 0)
	st.IsClientConnected = f.connected.Load()
	st.IsClientDisconnected = !st.IsClientConnected
	st.MsgInCount, st.MsgOutCount = f.Counts()
	f.in.HandleConnectionStateData(st)
}
