// Package dtmodel holds the digital twin model catalog, the live model states
// built from it and the property editors that turn user edits into commands.
package dtmodel

import (
	"fmt"
	"log"
	"sync"

	"github.com/programming-digital-twins/pdt-unity-components/internal/eventbus"
)

// EventRouter is the part of the event bus the registry needs: states are
// registered as data listeners and problems go to the log channel.
type EventRouter interface {
	RegisterDataListener(l eventbus.DataContextListener) error
	LogDebugMessage(message string)
	LogWarningMessage(message string)
	LogErrorMessage(message string, cause error)
}

type RegistryOption func(*Registry)

// WithMessageFilter sets the filter given to states created from now on.
func WithMessageFilter(f MessageFilter) RegistryOption {
	return func(r *Registry) { r.filter = f }
}

func WithRegistryLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// Registry owns every model state and the catalog they are built from.
type Registry struct {
	mu sync.RWMutex

	router    EventRouter
	modelPath string
	catalog   *Catalog
	loaded    bool
	gen       uint64

	states map[string]*ModelState
	order  []string

	filter MessageFilter
	logger *log.Logger
}

// NewRegistry creates a registry and loads the models in modelPath when it is
// not empty. A failed load is reported and leaves the catalog empty.
func NewRegistry(router EventRouter, modelPath string, opts ...RegistryOption) *Registry {
	r := &Registry{
		router: router,
		states: make(map[string]*ModelState),
		filter: MatchDeviceID,
		logger: log.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if modelPath != "" {
		r.ReloadDtdlModels(modelPath)
	}
	return r
}

func (r *Registry) logDebug(msg string) {
	r.logger.Printf("dtmodel: %s", msg)
	if r.router != nil {
		r.router.LogDebugMessage(msg)
	}
}

func (r *Registry) logWarning(msg string) {
	r.logger.Printf("dtmodel: WARN %s", msg)
	if r.router != nil {
		r.router.LogWarningMessage(msg)
	}
}

func (r *Registry) logError(msg string, err error) {
	r.logger.Printf("dtmodel: ERROR %s: %v", msg, err)
	if r.router != nil {
		r.router.LogErrorMessage(msg, err)
	}
}

// ReloadDtdlModels replaces the catalog with the models found in path. If the
// directory cannot be read or holds no valid model the previous catalog is
// kept. Files that fail validation are reported and skipped. It returns true
// when at least one model was loaded.
//
// Existing states keep their property tables until BuildModelData is called
// on them again.
func (r *Registry) ReloadDtdlModels(path string) bool {
	cat, problems, err := LoadCatalog(path)
	for _, p := range problems {
		r.logError("invalid DTDL model", p)
	}
	if err != nil {
		r.logError(fmt.Sprintf("failed to load DTDL models from %s", path), err)
		return false
	}
	if cat.Len() == 0 {
		r.logError(fmt.Sprintf("loading %s", path), ErrNoModels)
		return false
	}

	r.mu.Lock()
	r.gen++
	cat.Generation = r.gen
	r.catalog = cat
	r.modelPath = path
	r.loaded = true
	r.mu.Unlock()

	r.logDebug(fmt.Sprintf("loaded %d DTDL models from %s (generation %d)", cat.Len(), path, cat.Generation))
	return true
}

func (r *Registry) HasSuccessfulDataLoad() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// LoadGeneration increases with every successful directory read.
func (r *Registry) LoadGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

func (r *Registry) ModelPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modelPath
}

func (r *Registry) Catalog() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

func (r *Registry) lookup(c ControllerID) (*ModelDocument, bool) {
	r.mu.RLock()
	cat := r.catalog
	r.mu.RUnlock()
	return cat.Lookup(c)
}

// GetRawModelJson returns the model file text for c exactly as loaded, or ""
// when c has no model.
func (r *Registry) GetRawModelJson(c ControllerID) string {
	if d, ok := r.lookup(c); ok {
		return d.Raw
	}
	return ""
}

// GetDigitalTwinModelJson returns the normalized model document for c.
func (r *Registry) GetDigitalTwinModelJson(c ControllerID) string {
	if d, ok := r.lookup(c); ok {
		return d.Canonical
	}
	return ""
}

func (r *Registry) GetModelDocument(c ControllerID) (*ModelDocument, bool) {
	return r.lookup(c)
}

// CreateModelState returns the state for (deviceID, locationID, c). Without
// useGUID an existing state with the same identity is updated in place and
// returned; with useGUID a new state is always created.
func (r *Registry) CreateModelState(deviceID, locationID string, useGUID bool, c ControllerID, listener eventbus.DataContextListener) *ModelState {
	key := NewModelKey(deviceID, locationID, c, useGUID)
	return r.create(key, key.DeviceID, listener)
}

// CreateCompanionModelState creates a state sharing primary's device and
// location under another controller. With addToParent it is linked as a
// companion of primary.
func (r *Registry) CreateCompanionModelState(primary *ModelState, useGUID, addToParent bool, c ControllerID, listener eventbus.DataContextListener) *ModelState {
	if primary == nil {
		r.logError("cannot create companion model state", fmt.Errorf("nil primary for controller %s", c))
		return nil
	}
	key := NewModelKey(primary.GetDeviceID(), primary.GetLocationID(), c, useGUID)
	st := r.create(key, primary.GetConnectedDeviceID(), listener)
	if addToParent {
		primary.AddConnectedModelState(st)
	}
	return st
}

func (r *Registry) create(key ModelKey, connectedDeviceID string, listener eventbus.DataContextListener) *ModelState {
	sk := key.SyncKey()

	r.mu.Lock()
	st, exists := r.states[sk]
	if !exists {
		st = newModelState(key, r.lookup, r.filter)
		r.states[sk] = st
		r.order = append(r.order, sk)
	}
	r.mu.Unlock()

	if listener != nil {
		st.SetListener(listener)
	}
	if !exists {
		st.SetConnectedDeviceID(connectedDeviceID)
		r.logDebug(fmt.Sprintf("created model state %s", sk))
	}
	r.UpdateModelState(st)
	return st
}

// UpdateModelState indexes st under its sync key, rebuilds its model data and
// registers it with the event bus. Registration is idempotent.
func (r *Registry) UpdateModelState(st *ModelState) bool {
	if st == nil {
		return false
	}
	sk := st.GetModelSyncKey()

	r.mu.Lock()
	if prev, ok := r.states[sk]; !ok {
		r.order = append(r.order, sk)
	} else if prev != st {
		r.logger.Printf("dtmodel: replacing model state %s", sk)
	}
	r.states[sk] = st
	r.mu.Unlock()

	if !st.BuildModelData() {
		r.logWarning(fmt.Sprintf("no model schema loaded for %s (%s)", sk, st.GetModelControllerID()))
	}
	if r.router != nil {
		if err := r.router.RegisterDataListener(st); err != nil {
			r.logError(fmt.Sprintf("cannot register model state %s", sk), err)
			return false
		}
	}
	return true
}

func (r *Registry) GetModelState(syncKey string) (*ModelState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[syncKey]
	return st, ok
}

// GetModelStatesForDevice returns, in creation order, the states whose
// identity or connected device is deviceID.
func (r *Registry) GetModelStatesForDevice(deviceID string) []*ModelState {
	var out []*ModelState
	for _, st := range r.GetAllModelStates() {
		if st.GetDeviceID() == deviceID || st.GetConnectedDeviceID() == deviceID {
			out = append(out, st)
		}
	}
	return out
}

// GetAllModelStates returns every state in creation order.
func (r *Registry) GetAllModelStates() []*ModelState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedStatesLocked()
}

func (r *Registry) orderedStatesLocked() []*ModelState {
	out := make([]*ModelState, 0, len(r.order))
	for _, sk := range r.order {
		out = append(out, r.states[sk])
	}
	return out
}
