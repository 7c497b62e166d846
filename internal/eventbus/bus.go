// Package eventbus routes typed messages from the messaging layer to the
// listeners registered by twins, sinks and dashboards.
package eventbus

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"sort"
	"sync"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

var (
	ErrTerminated            = errors.New("event bus terminated")
	ErrNilListener           = errors.New("nil listener")
	ErrListenerNotComparable = errors.New("listener type is not comparable, register it by pointer")
	ErrProcessorAlreadySet   = errors.New("remote command processor already set")
)

type Option func(*Bus)

func WithLogger(l *log.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithFailureHook is invoked every time a listener returns an error or panics.
func WithFailureHook(fn func(listener string, kind messages.Kind, err error)) Option {
	return func(b *Bus) { b.onFailure = fn }
}

// Bus fans messages out to two listener registries. Registration is keyed by
// listener identity and preserves order.
type Bus struct {
	mu sync.RWMutex

	dataListeners   []DataContextListener
	dataIndex       map[DataContextListener]struct{}
	statusListeners []SystemStatusListener
	statusIndex     map[SystemStatusListener]struct{}

	connStates map[string]*messages.ConnectionStateData
	processor  RemoteCommandProcessor
	terminated bool

	logger    *log.Logger
	onFailure func(listener string, kind messages.Kind, err error)
}

func New(opts ...Option) *Bus {
	b := &Bus{
		dataIndex:   make(map[DataContextListener]struct{}),
		statusIndex: make(map[SystemStatusListener]struct{}),
		connStates:  make(map[string]*messages.ConnectionStateData),
		logger:      log.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func checkListener(l any) error {
	if l == nil {
		return ErrNilListener
	}
	v := reflect.ValueOf(l)
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return ErrNilListener
	}
	if !v.Type().Comparable() {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, l)
	}
	return nil
}

// RegisterDataListener adds l once; registering it again is a no-op.
func (b *Bus) RegisterDataListener(l DataContextListener) error {
	if err := checkListener(l); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return ErrTerminated
	}
	if _, ok := b.dataIndex[l]; ok {
		return nil
	}
	b.dataIndex[l] = struct{}{}
	next := make([]DataContextListener, len(b.dataListeners), len(b.dataListeners)+1)
	copy(next, b.dataListeners)
	b.dataListeners = append(next, l)
	return nil
}

// UnregisterDataListener reports whether l was registered.
func (b *Bus) UnregisterDataListener(l DataContextListener) bool {
	if checkListener(l) != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.dataIndex[l]; !ok {
		return false
	}
	delete(b.dataIndex, l)
	next := make([]DataContextListener, 0, len(b.dataListeners))
	for _, x := range b.dataListeners {
		if x != l {
			next = append(next, x)
		}
	}
	b.dataListeners = next
	return true
}

func (b *Bus) RegisterStatusListener(l SystemStatusListener) error {
	if err := checkListener(l); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return ErrTerminated
	}
	if _, ok := b.statusIndex[l]; ok {
		return nil
	}
	b.statusIndex[l] = struct{}{}
	next := make([]SystemStatusListener, len(b.statusListeners), len(b.statusListeners)+1)
	copy(next, b.statusListeners)
	b.statusListeners = append(next, l)
	return nil
}

func (b *Bus) UnregisterStatusListener(l SystemStatusListener) bool {
	if checkListener(l) != nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.statusIndex[l]; !ok {
		return false
	}
	delete(b.statusIndex, l)
	next := make([]SystemStatusListener, 0, len(b.statusListeners))
	for _, x := range b.statusListeners {
		if x != l {
			next = append(next, x)
		}
	}
	b.statusListeners = next
	return true
}

func (b *Bus) ClearAllListeners() {
	b.mu.Lock()
	b.dataListeners = nil
	b.dataIndex = make(map[DataContextListener]struct{})
	b.statusListeners = nil
	b.statusIndex = make(map[SystemStatusListener]struct{})
	b.mu.Unlock()
}

func (b *Bus) ListenerCounts() (data, status int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.dataListeners), len(b.statusListeners)
}

// Shutdown drops all listeners, the connection cache and the command
// processor. A terminated bus ignores messages and refuses registrations.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return
	}
	b.terminated = true
	b.dataListeners = nil
	b.dataIndex = make(map[DataContextListener]struct{})
	b.statusListeners = nil
	b.statusIndex = make(map[SystemStatusListener]struct{})
	b.connStates = make(map[string]*messages.ConnectionStateData)
	b.processor = nil
	b.mu.Unlock()
	b.logger.Printf("eventbus: terminated")
}

func (b *Bus) IsTerminated() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.terminated
}

func (b *Bus) snapshot() ([]DataContextListener, []SystemStatusListener, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataListeners, b.statusListeners, b.terminated
}

// OnMessagingSystemDataReceived routes msg to the handler matching its kind
// on every interested listener, in registration order.
func (b *Bus) OnMessagingSystemDataReceived(msg messages.Message) {
	if messages.IsNil(msg) {
		return
	}
	switch m := msg.(type) {
	case *messages.LogMessage:
		switch m.Level {
		case messages.KindWarningLog:
			b.LogWarningMessage(m.Text)
		case messages.KindErrorLog:
			b.LogErrorMessage(m.Text, m.Cause)
		default:
			b.LogDebugMessage(m.Text)
		}
	case *messages.ConnectionStateData:
		b.cacheConnectionState(m)
		b.fanOutData(m.Kind(), func(l DataContextListener) error { return l.HandleConnectionStateData(m) })
		b.fanOutStatus(m.Kind(), func(l SystemStatusListener) { l.OnMessagingSystemStatusUpdate(m) })
	case *messages.ActuatorData:
		b.fanOutData(m.Kind(), func(l DataContextListener) error { return l.HandleActuatorData(m) })
	case *messages.MessageData:
		b.fanOutData(m.Kind(), func(l DataContextListener) error { return l.HandleMessageData(m) })
	case *messages.SensorData:
		b.fanOutData(m.Kind(), func(l DataContextListener) error { return l.HandleSensorData(m) })
	case *messages.SystemPerformanceData:
		b.fanOutData(m.Kind(), func(l DataContextListener) error { return l.HandleSystemPerformanceData(m) })
	default:
		b.logger.Printf("eventbus: unsupported message %T", msg)
	}
}

// OnMessagingSystemDataSent records a connection update produced by an
// outgoing publish.
func (b *Bus) OnMessagingSystemDataSent(data *messages.ConnectionStateData) {
	b.OnMessagingSystemStatusUpdate(data)
}

// OnMessagingSystemStatusUpdate caches data and notifies status listeners only.
func (b *Bus) OnMessagingSystemStatusUpdate(data *messages.ConnectionStateData) {
	if data == nil {
		return
	}
	b.cacheConnectionState(data)
	b.fanOutStatus(data.Kind(), func(l SystemStatusListener) { l.OnMessagingSystemStatusUpdate(data) })
}

func (b *Bus) LogDebugMessage(message string) {
	if message == "" {
		return
	}
	b.fanOutStatus(messages.KindDebugLog, func(l SystemStatusListener) { l.LogDebugMessage(message) })
}

func (b *Bus) LogWarningMessage(message string) {
	if message == "" {
		return
	}
	b.fanOutStatus(messages.KindWarningLog, func(l SystemStatusListener) { l.LogWarningMessage(message) })
}

func (b *Bus) LogErrorMessage(message string, cause error) {
	if message == "" {
		return
	}
	b.fanOutStatus(messages.KindErrorLog, func(l SystemStatusListener) { l.LogErrorMessage(message, cause) })
}

func (b *Bus) fanOutData(kind messages.Kind, call func(DataContextListener) error) {
	listeners, _, terminated := b.snapshot()
	if terminated {
		return
	}
	for _, l := range listeners {
		b.deliver(l, kind, func() error { return call(l) })
	}
}

func (b *Bus) fanOutStatus(kind messages.Kind, call func(SystemStatusListener)) {
	_, listeners, terminated := b.snapshot()
	if terminated {
		return
	}
	for _, l := range listeners {
		b.deliver(l, kind, func() error { call(l); return nil })
	}
}

// deliver isolates one listener: a panic or error is logged and reported to
// the failure hook, and never reaches the caller.
func (b *Bus) deliver(l any, kind messages.Kind, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}()
	if err == nil {
		return
	}
	name := fmt.Sprintf("%T", l)
	b.logger.Printf("eventbus: listener %s failed on %s: %v", name, kind, err)
	if b.onFailure != nil {
		b.onFailure(name, kind, err)
	}
}

func (b *Bus) cacheConnectionState(data *messages.ConnectionStateData) {
	if data == nil || data.DeviceID == "" {
		return
	}
	b.mu.Lock()
	if !b.terminated {
		b.connStates[data.DeviceID] = data
	}
	b.mu.Unlock()
}

// GetConnectionState returns the latest connection state seen for deviceID.
func (b *Bus) GetConnectionState(deviceID string) (*messages.ConnectionStateData, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.connStates[deviceID]
	return c, ok
}

// GetAllKnownDeviceIDs returns every device with a cached connection state, sorted.
func (b *Bus) GetAllKnownDeviceIDs() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.connStates))
	for id := range b.connStates {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SetRemoteCommandProcessor can be called once per bus.
func (b *Bus) SetRemoteCommandProcessor(p RemoteCommandProcessor) error {
	if p == nil {
		return ErrNilListener
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return ErrTerminated
	}
	if b.processor != nil {
		return ErrProcessorAlreadySet
	}
	b.processor = p
	return nil
}

// ProcessStateUpdateToPhysicalThing hands resource to the command processor.
// It returns false when no processor is set or the processor refused it.
func (b *Bus) ProcessStateUpdateToPhysicalThing(resource model.ResourceNameContainer) bool {
	b.mu.RLock()
	p, terminated := b.processor, b.terminated
	b.mu.RUnlock()
	if terminated {
		return false
	}
	if p == nil {
		b.LogWarningMessage(fmt.Sprintf("no remote command processor, dropping %s", resource))
		return false
	}
	return p.HandleRemoteCommandRequest(resource)
}

// SendRemoteCommand is an alias of ProcessStateUpdateToPhysicalThing.
func (b *Bus) SendRemoteCommand(resource model.ResourceNameContainer) bool {
	return b.ProcessStateUpdateToPhysicalThing(resource)
}
