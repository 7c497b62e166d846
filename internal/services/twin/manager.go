// Package twin wires the twin core together: transport, queue adapter, event
// bus, model registry, command dispatcher, telemetry sink and state store.
package twin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
	"github.com/programming-digital-twins/pdt-unity-components/internal/eventbus"
	"github.com/programming-digital-twins/pdt-unity-components/internal/metrics"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
	"github.com/programming-digital-twins/pdt-unity-components/internal/queue"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/command"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/state"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/telemetry"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/transport"
)

const DefaultTickRate = 100 * time.Millisecond

var (
	ErrAlreadyRunning = errors.New("twin manager already running")
	ErrStopped        = errors.New("twin manager stopped")
)

// TwinConfig is one model state created at start.
type TwinConfig struct {
	DeviceID          string            `yaml:"device"`
	LocationID        string            `yaml:"location"`
	Controller        string            `yaml:"controller"`
	UseGUID           bool              `yaml:"guid"`
	ConnectedDeviceID string            `yaml:"connectedDevice"`
	Companions        []CompanionConfig `yaml:"companions"`
}

type CompanionConfig struct {
	Controller string `yaml:"controller"`
	UseGUID    bool   `yaml:"guid"`
}

type Config struct {
	ModelPath string
	TickRate  time.Duration
	// SaveInterval snapshots every state periodically. Zero saves on Stop only.
	SaveInterval time.Duration
	// AcceptAllDevices lets every state see every device's messages.
	AcceptAllDevices bool
	Twins            []TwinConfig
	Queue            []queue.Option
	Dispatch         command.Config
	Logger           *log.Logger
}

// Deps are the optional outer components. Nil fields are left out.
type Deps struct {
	NewTransport func(in transport.Inbound) transport.Transport
	Store        state.Store
	Sink         *telemetry.Sink
	Metrics      *metrics.Metrics
}

// Manager runs one twin installation.
type Manager struct {
	cfg    Config
	logger *log.Logger

	bus        *eventbus.Bus
	adapter    *queue.Adapter
	registry   *dtmodel.Registry
	dispatcher *command.Dispatcher
	transport  transport.Transport
	store      state.Store
	sink       *telemetry.Sink
	metrics    *metrics.Metrics
	editors    editorCache

	mu      sync.Mutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Manager, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	m := &Manager{
		cfg:     cfg,
		logger:  cfg.Logger,
		store:   deps.Store,
		sink:    deps.Sink,
		metrics: deps.Metrics,
	}

	busOpts := []eventbus.Option{eventbus.WithLogger(cfg.Logger)}
	queueOpts := append([]queue.Option{}, cfg.Queue...)
	if m.metrics != nil {
		busOpts = append(busOpts, eventbus.WithFailureHook(m.metrics.ObserveListenerFailure))
		queueOpts = append(queueOpts, queue.WithDropHook(m.metrics.ObserveDrop))
		cfg.Dispatch.OnDispatch = chainDispatch(cfg.Dispatch.OnDispatch, m.metrics.ObserveCommand)
	}
	if cfg.Dispatch.Logger == nil {
		cfg.Dispatch.Logger = cfg.Logger
	}

	m.bus = eventbus.New(busOpts...)
	m.adapter = queue.NewAdapter(queueOpts...)
	if deps.NewTransport != nil {
		m.transport = deps.NewTransport(m.adapter)
	}
	m.dispatcher = command.New(command.PublisherFunc(m.publish), cfg.Dispatch)
	if err := m.bus.SetRemoteCommandProcessor(m.dispatcher); err != nil {
		return nil, err
	}

	regOpts := []dtmodel.RegistryOption{dtmodel.WithRegistryLogger(cfg.Logger)}
	if cfg.AcceptAllDevices {
		regOpts = append(regOpts, dtmodel.WithMessageFilter(dtmodel.AcceptAll))
	}
	m.registry = dtmodel.NewRegistry(m.bus, "", regOpts...)

	if err := m.bus.RegisterStatusListener(&eventbus.StatusFuncs{
		OnDebug:   func(msg string) { m.logger.Printf("twin: %s", msg) },
		OnWarning: func(msg string) { m.logger.Printf("twin: WARN %s", msg) },
		OnError: func(msg string, cause error) {
			if cause != nil {
				m.logger.Printf("twin: ERROR %s: %v", msg, cause)
				return
			}
			m.logger.Printf("twin: ERROR %s", msg)
		},
		OnStatusUpdate: func(d *messages.ConnectionStateData) {
			m.logger.Printf("twin: %s %s (%s:%d)", d.DeviceID, d.StateLabel(), d.HostName, d.HostPort)
		},
	}); err != nil {
		return nil, err
	}
	if m.sink != nil {
		if err := m.bus.RegisterDataListener(m.sink); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func chainDispatch(fns ...func(model.ResourceNameContainer, error)) func(model.ResourceNameContainer, error) {
	return func(r model.ResourceNameContainer, err error) {
		for _, fn := range fns {
			if fn != nil {
				fn(r, err)
			}
		}
	}
}

func (m *Manager) publish(r model.ResourceNameContainer) error {
	if m.transport == nil {
		return transport.ErrNotConnected
	}
	return m.transport.PublishMessage(r)
}

func (m *Manager) Bus() *eventbus.Bus { return m.bus }
func (m *Manager) Adapter() *queue.Adapter { return m.adapter }
func (m *Manager) Registry() *dtmodel.Registry { return m.registry }
func (m *Manager) Dispatcher() *command.Dispatcher { return m.dispatcher }
func (m *Manager) Transport() transport.Transport { return m.transport }
func (m *Manager) Sink() *telemetry.Sink { return m.sink }
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }
func (m *Manager) Store() state.Store { return m.store }

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start loads the models, creates the configured twins, restores their
// snapshots and connects the transport. It then runs the frame loop and the
// dispatcher in the background until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	if err := m.start(ctx); err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) start(ctx context.Context) error {
	if !m.registry.ReloadDtdlModels(m.cfg.ModelPath) {
		return fmt.Errorf("%w in %s", dtmodel.ErrNoModels, m.cfg.ModelPath)
	}
	if err := m.CreateTwins(m.cfg.Twins); err != nil {
		return err
	}
	if m.store != nil {
		n, err := state.RestoreAll(ctx, m.store, m.registry.GetAllModelStates())
		if err != nil {
			m.bus.LogWarningMessage(fmt.Sprintf("snapshot restore stopped after %d state(s): %v", n, err))
		} else if n > 0 {
			m.bus.LogDebugMessage(fmt.Sprintf("restored %d state snapshot(s)", n))
		}
	}

	rctx, cancel := context.WithCancel(ctx)
	if m.transport != nil {
		if err := m.transport.Connect(rctx); err != nil {
			cancel()
			m.Update()
			return fmt.Errorf("transport connect: %w", err)
		}
	}
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.frameLoop(rctx)
	}()
	go func() {
		defer m.wg.Done()
		m.dispatcher.Start(rctx)
	}()
	if m.store != nil && m.cfg.SaveInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.saveLoop(rctx)
		}()
	}
	m.logger.Printf("twin: started with %d model state(s), tick %s", len(m.registry.GetAllModelStates()), m.cfg.TickRate)
	return nil
}

// CreateTwins creates a state, and its companions, per entry.
func (m *Manager) CreateTwins(twins []TwinConfig) error {
	for _, tc := range twins {
		ctrl, err := dtmodel.ParseControllerID(tc.Controller)
		if err != nil {
			return fmt.Errorf("twin %s: %w", tc.DeviceID, err)
		}
		st := m.registry.CreateModelState(tc.DeviceID, tc.LocationID, tc.UseGUID, ctrl, nil)
		if tc.ConnectedDeviceID != "" {
			st.SetConnectedDeviceID(tc.ConnectedDeviceID)
		}
		for _, cc := range tc.Companions {
			cctrl, err := dtmodel.ParseControllerID(cc.Controller)
			if err != nil {
				return fmt.Errorf("twin %s companion: %w", tc.DeviceID, err)
			}
			m.registry.CreateCompanionModelState(st, cc.UseGUID, true, cctrl, nil)
		}
	}
	return nil
}

func (m *Manager) frameLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Update()
		}
	}
}

func (m *Manager) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SaveSnapshots(ctx)
		}
	}
}

// Update runs one frame: every queued message is routed through the bus.
// It returns the number of messages routed.
func (m *Manager) Update() int {
	n := m.adapter.Tick(func(msg messages.Message) {
		if m.metrics != nil {
			m.metrics.ObserveMessage(msg.Kind())
		}
		m.bus.OnMessagingSystemDataReceived(msg)
	})
	if m.metrics != nil {
		for _, k := range messages.AllKinds {
			m.metrics.SetQueueDepth(k, m.adapter.Pending(k))
		}
		m.metrics.CommandsQueued.Set(float64(m.dispatcher.Pending()))
		m.metrics.ModelStates.Set(float64(len(m.registry.GetAllModelStates())))
	}
	return n
}

// SaveSnapshots writes every state to the store.
func (m *Manager) SaveSnapshots(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := state.SaveAll(ctx, m.store, m.registry.GetAllModelStates()); err != nil {
		m.bus.LogErrorMessage("snapshot save failed", err)
		return err
	}
	return nil
}

// ReloadModels rereads the model directory and rebuilds every state from the
// new catalog. A failed reload leaves models and states untouched.
func (m *Manager) ReloadModels() bool {
	if !m.registry.ReloadDtdlModels(m.cfg.ModelPath) {
		return false
	}
	for _, st := range m.registry.GetAllModelStates() {
		st.BuildModelData()
	}
	return true
}

// Stop halts the loops, saves snapshots, disconnects the transport and
// shuts the bus down. It is a no-op when not running. A stopped Manager
// cannot be started again.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = m.SaveSnapshots(ctx)

	if m.transport != nil {
		m.transport.Disconnect()
	}
	m.Update()
	if m.sink != nil {
		m.sink.Flush()
	}
	m.bus.Shutdown()
	m.logger.Printf("twin: stopped")
}
