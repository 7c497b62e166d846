package twin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/telemetry"
)

type api struct {
	m *Manager
}

// NewRouter exposes the manager over HTTP. latest serves /telemetry/latest;
// when nil the telemetry sink cache is used.
func NewRouter(m *Manager, latest http.Handler) http.Handler {
	a := &api{m: m}
	if latest == nil {
		latest = telemetry.NewLatestHandler(nil, "", m.Sink())
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Method(http.MethodGet, "/healthz", NewHealthHandler(m))
	r.Method(http.MethodGet, "/readyz", NewReadyHandler(m, 2*time.Second))
	if m.Metrics() != nil {
		r.Method(http.MethodGet, "/metrics", m.Metrics().Handler())
	}
	r.Method(http.MethodGet, "/telemetry/latest", latest)

	r.Get("/devices", a.listDevices)
	r.Get("/commands", a.commandStats)

	r.Route("/models", func(r chi.Router) {
		r.Get("/", a.listModels)
		r.Post("/reload", a.reloadModels)
		r.Get("/{controller}", a.getModel)
		r.Get("/{controller}/raw", a.getRawModel)
	})

	r.Route("/states", func(r chi.Router) {
		r.Get("/", a.listStates)
		r.Route("/{syncKey}", func(r chi.Router) {
			r.Get("/", a.getState)
			r.Put("/telemetry", a.setTelemetry)
			r.Put("/device", a.setConnectedDevice)
			r.Get("/properties", a.listProperties)
			r.Post("/properties", a.editProperties)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("twin: encode response: %v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

type deviceView struct {
	DeviceID  string `json:"deviceID"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Host      string `json:"host,omitempty"`
	MsgIn     int64  `json:"msgIn"`
	MsgOut    int64  `json:"msgOut"`
	States    int    `json:"modelStates"`
}

func (a *api) listDevices(w http.ResponseWriter, _ *http.Request) {
	bus := a.m.Bus()
	ids := bus.GetAllKnownDeviceIDs()
	out := make([]deviceView, 0, len(ids))
	for _, id := range ids {
		d := deviceView{DeviceID: id, States: len(a.m.Registry().GetModelStatesForDevice(id))}
		if cs, ok := bus.GetConnectionState(id); ok {
			d.State = cs.StateLabel()
			d.Connected = cs.IsClientConnected
			d.Host = cs.HostName
			d.MsgIn, d.MsgOut = cs.MsgInCount, cs.MsgOutCount
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) commandStats(w http.ResponseWriter, _ *http.Request) {
	d := a.m.Dispatcher()
	sent, failed, rejected, dropped := d.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  d.Pending(),
		"sent":     sent,
		"failed":   failed,
		"rejected": rejected,
		"dropped":  dropped,
		"perMin":   int(time.Minute / d.Interval()),
		"breaker":  d.BreakerState().String(),
	})
}

type modelView struct {
	Controller string `json:"controller"`
	ModelID    string `json:"modelID"`
	Version    int    `json:"version"`
	Path       string `json:"path"`
}

func (a *api) listModels(w http.ResponseWriter, _ *http.Request) {
	reg := a.m.Registry()
	out := []modelView{}
	if cat := reg.Catalog(); cat != nil {
		for _, c := range cat.Controllers() {
			doc, _ := cat.Lookup(c)
			out = append(out, modelView{Controller: c.String(), ModelID: doc.ModelID, Version: doc.Version, Path: doc.Path})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":     reg.HasSuccessfulDataLoad(),
		"generation": reg.LoadGeneration(),
		"path":       reg.ModelPath(),
		"models":     out,
	})
}

func (a *api) reloadModels(w http.ResponseWriter, _ *http.Request) {
	ok := a.m.ReloadModels()
	code := http.StatusOK
	if !ok {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, map[string]any{
		"loaded":     ok,
		"generation": a.m.Registry().LoadGeneration(),
	})
}

func (a *api) controllerParam(w http.ResponseWriter, r *http.Request) (dtmodel.ControllerID, bool) {
	c, err := dtmodel.ParseControllerID(chi.URLParam(r, "controller"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return c, false
	}
	return c, true
}

func (a *api) getModel(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controllerParam(w, r)
	if !ok {
		return
	}
	body := a.m.Registry().GetDigitalTwinModelJson(c)
	if body == "" {
		http.Error(w, "Model not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (a *api) getRawModel(w http.ResponseWriter, r *http.Request) {
	c, ok := a.controllerParam(w, r)
	if !ok {
		return
	}
	body := a.m.Registry().GetRawModelJson(c)
	if body == "" {
		http.Error(w, "Model not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

type stateView struct {
	dtmodel.Snapshot
	Connection string   `json:"connection"`
	Companions []string `json:"companions,omitempty"`
	Parent     string   `json:"parent,omitempty"`
}

func viewOf(st *dtmodel.ModelState) stateView {
	v := stateView{Snapshot: st.Snapshot(), Connection: "Disconnected"}
	if cs, ok := st.GetConnectionState(); ok {
		v.Connection = cs.StateLabel()
	}
	for _, c := range st.GetConnectedModelStates() {
		v.Companions = append(v.Companions, c.GetModelSyncKey())
	}
	if p := st.Parent(); p != nil {
		v.Parent = p.GetModelSyncKey()
	}
	return v
}

func (a *api) listStates(w http.ResponseWriter, r *http.Request) {
	reg := a.m.Registry()
	states := reg.GetAllModelStates()
	if dev := strings.TrimSpace(r.URL.Query().Get("device")); dev != "" {
		states = reg.GetModelStatesForDevice(dev)
	}
	out := make([]stateView, 0, len(states))
	for _, st := range states {
		out = append(out, viewOf(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) stateParam(w http.ResponseWriter, r *http.Request) (*dtmodel.ModelState, bool) {
	st, ok := a.m.Registry().GetModelState(chi.URLParam(r, "syncKey"))
	if !ok {
		http.Error(w, "Model state not found", http.StatusNotFound)
	}
	return st, ok
}

func (a *api) getState(w http.ResponseWriter, r *http.Request) {
	if st, ok := a.stateParam(w, r); ok {
		writeJSON(w, http.StatusOK, viewOf(st))
	}
}

func (a *api) setTelemetry(w http.ResponseWriter, r *http.Request) {
	st, ok := a.stateParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	st.EnableIncomingTelemetryProcessing(req.Enabled)
	writeJSON(w, http.StatusOK, viewOf(st))
}

func (a *api) setConnectedDevice(w http.ResponseWriter, r *http.Request) {
	st, ok := a.stateParam(w, r)
	if !ok {
		return
	}
	var req struct {
		DeviceID string `json:"deviceID"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		http.Error(w, "Missing required field: deviceID", http.StatusBadRequest)
		return
	}
	st.SetConnectedDeviceID(strings.TrimSpace(req.DeviceID))
	writeJSON(w, http.StatusOK, viewOf(st))
}

type propertyView struct {
	dtmodel.ModelProperty
	Category dtmodel.Category `json:"category"`
	Value    *float64         `json:"value,omitempty"`
}

func (a *api) listProperties(w http.ResponseWriter, r *http.Request) {
	st, ok := a.stateParam(w, r)
	if !ok {
		return
	}
	var names []string
	names = append(names, st.GetModelPropertyKeys()...)
	names = append(names, st.GetModelPropertyTelemetryKeys()...)
	names = append(names, st.GetModelCommandKeys()...)
	out := make([]propertyView, 0, len(names))
	for _, n := range names {
		p, ok := st.GetModelProperty(n)
		if !ok {
			continue
		}
		v := propertyView{ModelProperty: p, Category: p.Category()}
		if val, ok := st.GetTelemetryValue(n); ok {
			v.Value = &val
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// PropertyEdit is one change requested for a writable property or command.
// Value is parsed by the property kind, Toggle switches the command on or
// off and Message is sent along as state data.
type PropertyEdit struct {
	Name    string  `json:"name"`
	Value   *string `json:"value,omitempty"`
	Toggle  *bool   `json:"toggle,omitempty"`
	Message *string `json:"message,omitempty"`
}

type editResult struct {
	Queued   int                           `json:"queued"`
	Commands []model.ResourceNameContainer `json:"commands"`
	Ignored  []string                      `json:"ignored,omitempty"`
}

func (a *api) editProperties(w http.ResponseWriter, r *http.Request) {
	st, ok := a.stateParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Edits []PropertyEdit `json:"edits"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	applied, err := a.m.ApplyEdits(st, req.Edits)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, dtmodel.ErrUnknownProperty) {
			code = http.StatusNotFound
		} else if errors.Is(err, dtmodel.ErrNotWritable) {
			code = http.StatusUnprocessableEntity
		}
		http.Error(w, err.Error(), code)
		return
	}
	res := editResult{Commands: applied.Commands, Ignored: applied.Ignored}
	for _, c := range res.Commands {
		if a.m.Bus().SendRemoteCommand(c) {
			res.Queued++
		}
	}
	if res.Commands == nil {
		res.Commands = []model.ResourceNameContainer{}
	}
	writeJSON(w, http.StatusAccepted, res)
}
