package dtmodel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/programming-digital-twins/pdt-unity-components/internal/eventbus"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// MessageFilter decides whether a state accepts a message addressed to the
// device in dc, given the device the state is connected to.
type MessageFilter func(connectedDeviceID string, dc messages.DataContext) bool

// MatchDeviceID accepts only messages from the connected device.
func MatchDeviceID(connectedDeviceID string, dc messages.DataContext) bool {
	return connectedDeviceID != "" && dc.DeviceID == connectedDeviceID
}

// AcceptAll accepts every message regardless of device.
func AcceptAll(string, messages.DataContext) bool { return true }

// Telemetry keys used for system performance messages.
const (
	TelemetryCPUUtil  = "cpuUtil"
	TelemetryMemUtil  = "memUtil"
	TelemetryDiskUtil = "diskUtil"
)

type schemaLookup func(ControllerID) (*ModelDocument, bool)

// ModelState is the live state of one twin: its schema, the last known
// telemetry values and the connection of the device behind it. It is a
// DataContextListener and forwards every accepted message to its own listener.
type ModelState struct {
	mu sync.RWMutex

	key     ModelKey
	syncKey string
	lookup  schemaLookup

	connectedDeviceID string
	connState         *messages.ConnectionStateData

	modelID       string
	modelVersion  int
	properties    map[string]ModelProperty
	propertyKeys  []string
	telemetryKeys []string
	commandKeys   []string

	telemetryEnabled bool
	telemetry        map[string]float64
	typeMapping      map[int]string
	lastUpdate       time.Time

	filter     MessageFilter
	listener   eventbus.DataContextListener
	companions []*ModelState
	parent     *ModelState
}

func newModelState(key ModelKey, lookup schemaLookup, filter MessageFilter) *ModelState {
	if filter == nil {
		filter = MatchDeviceID
	}
	return &ModelState{
		key:               key,
		syncKey:           key.SyncKey(),
		lookup:            lookup,
		connectedDeviceID: key.DeviceID,
		modelID:           ModelID(key.ControllerID, DefaultVersion),
		modelVersion:      DefaultVersion,
		properties:        make(map[string]ModelProperty),
		telemetryEnabled:  true,
		telemetry:         make(map[string]float64),
		typeMapping:       make(map[int]string),
		filter:            filter,
	}
}

func (s *ModelState) GetModelKey() ModelKey { return s.key }
func (s *ModelState) GetModelSyncKey() string { return s.syncKey }
func (s *ModelState) GetModelControllerID() ControllerID { return s.key.ControllerID }
func (s *ModelState) GetDeviceID() string { return s.key.DeviceID }
func (s *ModelState) GetLocationID() string { return s.key.LocationID }
func (s *ModelState) GetInstanceID() string { return s.key.InstanceID }
func (s *ModelState) String() string { return s.syncKey }

func (s *ModelState) GetModelID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelID
}

func (s *ModelState) GetConnectedDeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedDeviceID
}

// SetConnectedDeviceID changes which device this state listens to. The
// identity of the state does not change.
func (s *ModelState) SetConnectedDeviceID(id string) {
	s.mu.Lock()
	s.connectedDeviceID = strings.TrimSpace(id)
	s.mu.Unlock()
}

func (s *ModelState) SetMessageFilter(f MessageFilter) {
	if f == nil {
		f = MatchDeviceID
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *ModelState) SetListener(l eventbus.DataContextListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// UpdateConnectionState records conn when it belongs to the connected device.
func (s *ModelState) UpdateConnectionState(conn *messages.ConnectionStateData) bool {
	if conn == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filter(s.connectedDeviceID, conn.DataContext) {
		return false
	}
	s.connState = conn
	return true
}

func (s *ModelState) GetConnectionState() (*messages.ConnectionStateData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState, s.connState != nil
}

// BuildModelData rebuilds the property tables from the current schema of the
// state's controller, in document order. Calling it again with the same
// schema yields the same tables. It reports false when no schema is loaded.
func (s *ModelState) BuildModelData() bool {
	if s.lookup == nil {
		return false
	}
	doc, ok := s.lookup(s.key.ControllerID)
	if !ok || doc == nil || doc.Interface == nil {
		return false
	}

	props := make(map[string]ModelProperty, len(doc.Interface.Contents))
	var writable, telemetry, commands []string
	for _, c := range doc.Interface.Contents {
		p, ok := propertyFromContent(c)
		if !ok {
			continue
		}
		if _, dup := props[p.Name]; dup {
			continue
		}
		props[p.Name] = p
		switch p.Category() {
		case CategoryWritable:
			writable = append(writable, p.Name)
		case CategoryCommand:
			commands = append(commands, p.Name)
		default:
			telemetry = append(telemetry, p.Name)
		}
	}

	s.mu.Lock()
	s.modelID = doc.ModelID
	s.modelVersion = doc.Version
	s.properties = props
	s.propertyKeys = writable
	s.telemetryKeys = telemetry
	s.commandKeys = commands
	s.mu.Unlock()
	return true
}

// GetModelPropertyKeys returns the writable property names.
func (s *ModelState) GetModelPropertyKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.propertyKeys...)
}

// GetModelPropertyTelemetryKeys returns telemetry and read-only property names.
func (s *ModelState) GetModelPropertyTelemetryKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.telemetryKeys...)
}

func (s *ModelState) GetModelCommandKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.commandKeys...)
}

func (s *ModelState) GetModelProperty(key string) (ModelProperty, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.properties[key]
	return p, ok
}

// EnableIncomingTelemetryProcessing turns sensor and system performance
// handling on or off. Connection state is tracked either way.
func (s *ModelState) EnableIncomingTelemetryProcessing(enable bool) {
	s.mu.Lock()
	s.telemetryEnabled = enable
	s.mu.Unlock()
}

func (s *ModelState) IsIncomingTelemetryProcessingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetryEnabled
}

// SetTelemetryMapping stores sensor readings of typeID under key instead of
// the sensor name.
func (s *ModelState) SetTelemetryMapping(typeID int, key string) {
	s.mu.Lock()
	s.typeMapping[typeID] = key
	s.mu.Unlock()
}

func (s *ModelState) GetTelemetryValue(key string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.telemetry[key]
	return v, ok
}

// GetTelemetryValues returns a copy of every recorded value.
func (s *ModelState) GetTelemetryValues() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.telemetry))
	for k, v := range s.telemetry {
		out[k] = v
	}
	return out
}

func (s *ModelState) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// AddConnectedModelState links a companion to this state. Adding the same
// companion twice, or the state itself, is a no-op.
func (s *ModelState) AddConnectedModelState(c *ModelState) bool {
	if c == nil || c == s {
		return false
	}
	s.mu.Lock()
	for _, x := range s.companions {
		if x == c {
			s.mu.Unlock()
			return false
		}
	}
	s.companions = append(s.companions, c)
	s.mu.Unlock()

	c.mu.Lock()
	c.parent = s
	c.mu.Unlock()
	return true
}

func (s *ModelState) GetConnectedModelStates() []*ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ModelState(nil), s.companions...)
}

func (s *ModelState) Parent() *ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent
}

// telemetryKeyLocked resolves where a reading is stored: an explicit type
// mapping first, then a telemetry key matching the reading name.
func (s *ModelState) telemetryKeyLocked(dc messages.DataContext) string {
	if k, ok := s.typeMapping[dc.TypeID]; ok {
		return k
	}
	for _, k := range s.telemetryKeys {
		if strings.EqualFold(k, dc.Name) {
			return k
		}
	}
	return dc.Name
}

func (s *ModelState) accept(dc messages.DataContext, telemetry bool) (eventbus.DataContextListener, bool) {
	if !s.filter(s.connectedDeviceID, dc) {
		return nil, false
	}
	if telemetry && !s.telemetryEnabled {
		return nil, false
	}
	return s.listener, true
}

func (s *ModelState) touch(ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	if ts.After(s.lastUpdate) {
		s.lastUpdate = ts
	}
}

func (s *ModelState) HandleSensorData(d *messages.SensorData) error {
	if d == nil {
		return nil
	}
	s.mu.Lock()
	l, ok := s.accept(d.DataContext, true)
	if ok {
		s.telemetry[s.telemetryKeyLocked(d.DataContext)] = d.Value
		s.touch(d.TimeStamp)
	}
	s.mu.Unlock()
	if !ok || l == nil {
		return nil
	}
	return l.HandleSensorData(d)
}

func (s *ModelState) HandleSystemPerformanceData(d *messages.SystemPerformanceData) error {
	if d == nil {
		return nil
	}
	s.mu.Lock()
	l, ok := s.accept(d.DataContext, true)
	if ok {
		s.telemetry[TelemetryCPUUtil] = d.CPUUtil
		s.telemetry[TelemetryMemUtil] = d.MemUtil
		s.telemetry[TelemetryDiskUtil] = d.DiskUtil
		s.touch(d.TimeStamp)
	}
	s.mu.Unlock()
	if !ok || l == nil {
		return nil
	}
	return l.HandleSystemPerformanceData(d)
}

// HandleActuatorData records device responses as the confirmed value of the
// actuated property.
func (s *ModelState) HandleActuatorData(d *messages.ActuatorData) error {
	if d == nil {
		return nil
	}
	s.mu.Lock()
	l, ok := s.accept(d.DataContext, false)
	if ok && d.IsResponse {
		s.telemetry[s.telemetryKeyLocked(d.DataContext)] = d.Value
		s.touch(d.TimeStamp)
	}
	s.mu.Unlock()
	if !ok || l == nil {
		return nil
	}
	return l.HandleActuatorData(d)
}

func (s *ModelState) HandleConnectionStateData(d *messages.ConnectionStateData) error {
	if d == nil {
		return nil
	}
	s.mu.Lock()
	l, ok := s.accept(d.DataContext, false)
	if ok {
		s.connState = d
	}
	s.mu.Unlock()
	if !ok || l == nil {
		return nil
	}
	return l.HandleConnectionStateData(d)
}

func (s *ModelState) HandleMessageData(d *messages.MessageData) error {
	if d == nil {
		return nil
	}
	s.mu.RLock()
	l, ok := s.accept(d.DataContext, false)
	s.mu.RUnlock()
	if !ok || l == nil {
		return nil
	}
	return l.HandleMessageData(d)
}

// Snapshot is the persisted part of a model state.
type Snapshot struct {
	SyncKey           string             `json:"syncKey"`
	ModelID           string             `json:"modelID"`
	Controller        string             `json:"controller"`
	DeviceID          string             `json:"deviceID"`
	LocationID        string             `json:"locationID"`
	InstanceID        string             `json:"instanceID,omitempty"`
	ConnectedDeviceID string             `json:"connectedDeviceID"`
	TelemetryEnabled  bool               `json:"telemetryEnabled"`
	Telemetry         map[string]float64 `json:"telemetry"`
	LastUpdate        time.Time          `json:"lastUpdate"`
	SavedAt           time.Time          `json:"savedAt"`
}

func (s *ModelState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make(map[string]float64, len(s.telemetry))
	for k, v := range s.telemetry {
		values[k] = v
	}
	return Snapshot{
		SyncKey:           s.syncKey,
		ModelID:           s.modelID,
		Controller:        s.key.ControllerID.String(),
		DeviceID:          s.key.DeviceID,
		LocationID:        s.key.LocationID,
		InstanceID:        s.key.InstanceID,
		ConnectedDeviceID: s.connectedDeviceID,
		TelemetryEnabled:  s.telemetryEnabled,
		Telemetry:         values,
		LastUpdate:        s.lastUpdate,
		SavedAt:           time.Now().UTC(),
	}
}

// ApplySnapshot restores a snapshot taken from a state with the same sync key.
func (s *ModelState) ApplySnapshot(snap Snapshot) error {
	if snap.SyncKey != s.syncKey {
		return fmt.Errorf("snapshot %s does not belong to %s", snap.SyncKey, s.syncKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ConnectedDeviceID != "" {
		s.connectedDeviceID = snap.ConnectedDeviceID
	}
	s.telemetryEnabled = snap.TelemetryEnabled
	for k, v := range snap.Telemetry {
		s.telemetry[k] = v
	}
	if snap.LastUpdate.After(s.lastUpdate) {
		s.lastUpdate = snap.LastUpdate
	}
	return nil
}
