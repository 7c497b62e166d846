package twin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
	"github.com/programming-digital-twins/pdt-unity-components/internal/metrics"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/command"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/simulator"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/state"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/telemetry"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/transport"
)

var testModels = filepath.Join("..", "..", "dtmodel", "testdata", "models")

type fixture struct {
	m        *Manager
	feed     *simulator.Feed
	stateDir string
	syncKey  string
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	stateDir := t.TempDir()
	store, err := state.NewFileStore(stateDir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	f := &fixture{stateDir: stateDir}
	m, err := New(Config{
		ModelPath: testModels,
		TickRate:  time.Hour,
		Twins: []TwinConfig{{
			DeviceID:   "hum-1",
			LocationID: "lab",
			Controller: "humidifier",
			Companions: []CompanionConfig{{Controller: "edgedevice"}},
		}},
		Dispatch: command.Config{InitialDelay: time.Hour},
		Logger:   logger,
	}, Deps{
		NewTransport: func(in transport.Inbound) transport.Transport {
			f.feed = simulator.NewFeed(simulator.Config{
				Devices: []simulator.Device{{
					ID:         "hum-1",
					LocationID: "lab",
					Sensors: []simulator.SensorSpec{{
						Name: "humidity", TypeCategoryID: model.EnvTypeCategory, TypeID: model.HumiditySensorType,
						Min: 0, Max: 100, Start: 40, Target: "targetHumidity",
					}},
				}},
				Interval: time.Hour,
				Logger:   logger,
			}, in)
			return f.feed
		},
		Store:   store,
		Sink:    telemetry.NewSink(telemetry.Writers{}),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.m = m
	f.syncKey = dtmodel.NewModelKey("hum-1", "lab", dtmodel.Humidifier, false).SyncKey()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
	f.srv = httptest.NewServer(NewRouter(m, nil))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	out, _ := io.ReadAll(res.Body)
	return res, out
}

func TestStartCreatesTwinsAndRoutesTelemetry(t *testing.T) {
	f := newFixture(t)
	reg := f.m.Registry()

	st, ok := reg.GetModelState(f.syncKey)
	if !ok {
		t.Fatalf("state %s not created", f.syncKey)
	}
	if n := len(reg.GetAllModelStates()); n != 2 {
		t.Fatalf("%d states, want primary and companion", n)
	}
	if c := st.GetConnectedModelStates(); len(c) != 1 || c[0].GetModelControllerID() != dtmodel.EdgeDevice {
		t.Fatalf("companions = %v", c)
	}

	f.feed.Tick()
	if n := f.m.Update(); n < 2 {
		t.Fatalf("Update routed %d messages", n)
	}
	if _, ok := st.GetTelemetryValue("humidity"); !ok {
		t.Fatalf("humidity not recorded: %v", st.GetTelemetryValues())
	}
	if got := f.m.Sink().Latest("hum-1"); len(got) != 1 {
		t.Fatalf("sink cache = %v", got)
	}
	if err := f.m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v", err)
	}
}

func TestEditPropertiesQueuesCommandOncePerChange(t *testing.T) {
	f := newFixture(t)
	path := "/states/" + f.syncKey + "/properties"
	edit := map[string]any{"edits": []map[string]any{{"name": "targetHumidity", "value": "55"}}}

	res, body := f.do(t, http.MethodPost, path, edit)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	var out struct {
		Queued   int `json:"queued"`
		Commands []model.ResourceNameContainer
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if out.Queued != 1 || len(out.Commands) != 1 || out.Commands[0].ResourceName != model.CommandResourceName {
		t.Fatalf("edit result = %+v", out)
	}

	_, body = f.do(t, http.MethodPost, path, edit)
	if err := json.Unmarshal(body, &out); err != nil || out.Queued != 0 {
		t.Fatalf("unchanged edit queued %d (%s)", out.Queued, body)
	}
	if f.m.Dispatcher().Pending() != 1 {
		t.Fatalf("pending = %d", f.m.Dispatcher().Pending())
	}

	if !f.m.Dispatcher().Step() {
		t.Fatalf("nothing dispatched")
	}
	if sent, _, _, _ := f.m.Dispatcher().Stats(); sent != 1 {
		t.Fatalf("sent = %d", sent)
	}
	if _, outCount := f.feed.Counts(); outCount != 1 {
		t.Fatalf("feed received %d commands", outCount)
	}
	if f.m.Update() == 0 {
		t.Fatalf("actuator response not routed")
	}
}

func TestEditPropertiesErrors(t *testing.T) {
	f := newFixture(t)
	path := "/states/" + f.syncKey + "/properties"
	tests := []struct {
		name string
		edit map[string]any
		want int
	}{
		{"unknown", map[string]any{"name": "nope", "value": "1"}, http.StatusNotFound},
		{"read only", map[string]any{"name": "serialNumber", "value": "1"}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, body := f.do(t, http.MethodPost, path, map[string]any{"edits": []map[string]any{tt.edit}})
			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d: %s", res.StatusCode, tt.want, body)
			}
		})
	}
	if res, _ := f.do(t, http.MethodPost, "/states/ghost/properties", map[string]any{}); res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown state status = %d", res.StatusCode)
	}
}

type editResponse struct {
	Queued   int                           `json:"queued"`
	Commands []model.ResourceNameContainer `json:"commands"`
	Ignored  []string                      `json:"ignored"`
}

func (f *fixture) edit(t *testing.T, edits ...map[string]any) editResponse {
	t.Helper()
	res, body := f.do(t, http.MethodPost, "/states/"+f.syncKey+"/properties", map[string]any{"edits": edits})
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d: %s", res.StatusCode, body)
	}
	var out editResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return out
}

func commandNames(cmds []model.ResourceNameContainer) []string {
	var out []string
	for _, c := range cmds {
		if c.DataContext != nil {
			out = append(out, c.DataContext.GetDataContext().Name)
		}
	}
	return out
}

func TestUnparsableValueIsIgnoredWithoutSideEffects(t *testing.T) {
	f := newFixture(t)

	out := f.edit(t,
		map[string]any{"name": "schedule", "value": "abc"},
		map[string]any{"name": "targetHumidity", "value": "55"},
	)
	if got := commandNames(out.Commands); len(got) != 1 || got[0] != "targetHumidity" || out.Queued != 1 {
		t.Fatalf("mixed edit commands = %v queued=%d", got, out.Queued)
	}
	if len(out.Ignored) != 1 || out.Ignored[0] != "schedule" {
		t.Fatalf("ignored = %v", out.Ignored)
	}

	out = f.edit(t, map[string]any{"name": "schedule", "value": "5m"})
	if got := commandNames(out.Commands); len(got) != 1 || got[0] != "schedule" {
		t.Fatalf("follow-up edit commands = %v", got)
	}

	out = f.edit(t, map[string]any{"name": "targetHumidity", "value": "not a number"})
	if len(out.Commands) != 0 || len(out.Ignored) != 1 {
		t.Fatalf("invalid only edit = %+v", out)
	}
	e, err := f.m.Editor(mustState(t, f), "targetHumidity")
	if err != nil || e.Value() != 55 {
		t.Fatalf("editor value changed by invalid input: %v %v", e.Value(), err)
	}
}

func mustState(t *testing.T, f *fixture) *dtmodel.ModelState {
	t.Helper()
	st, ok := f.m.Registry().GetModelState(f.syncKey)
	if !ok {
		t.Fatalf("state %s missing", f.syncKey)
	}
	return st
}

func TestStateEndpoints(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodPut, "/states/"+f.syncKey+"/telemetry", map[string]any{"enabled": false})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"telemetryEnabled":false`) {
		t.Fatalf("telemetry toggle: %d %s", res.StatusCode, body)
	}
	st, _ := f.m.Registry().GetModelState(f.syncKey)
	if st.IsIncomingTelemetryProcessingEnabled() {
		t.Fatalf("telemetry still enabled")
	}

	res, _ = f.do(t, http.MethodPut, "/states/"+f.syncKey+"/device", map[string]any{"deviceID": "edge-2"})
	if res.StatusCode != http.StatusOK || st.GetConnectedDeviceID() != "edge-2" {
		t.Fatalf("device change: %d %s", res.StatusCode, st.GetConnectedDeviceID())
	}
	if res, _ := f.do(t, http.MethodPut, "/states/"+f.syncKey+"/device", map[string]any{"deviceID": " "}); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank device status = %d", res.StatusCode)
	}

	_, body = f.do(t, http.MethodGet, "/states", nil)
	var states []map[string]any
	if err := json.Unmarshal(body, &states); err != nil || len(states) != 2 {
		t.Fatalf("states = %s (%v)", body, err)
	}

	_, body = f.do(t, http.MethodGet, "/states/"+f.syncKey+"/properties", nil)
	var props []map[string]any
	if err := json.Unmarshal(body, &props); err != nil || len(props) != 6 {
		t.Fatalf("properties = %s (%v)", body, err)
	}
}

func TestModelEndpoints(t *testing.T) {
	f := newFixture(t)

	res, body := f.do(t, http.MethodGet, "/models/humidifier", nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "dtmi:pdt:humidifier;1") {
		t.Fatalf("model: %d %s", res.StatusCode, body)
	}
	raw, err := os.ReadFile(filepath.Join(testModels, "humidifier.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, body := f.do(t, http.MethodGet, "/models/humidifier/raw", nil); string(body) != string(raw) {
		t.Fatalf("raw model differs from the file")
	}
	if res, _ := f.do(t, http.MethodGet, "/models/toaster", nil); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown controller status = %d", res.StatusCode)
	}
	if res, _ := f.do(t, http.MethodGet, "/models/mediasystem", nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing model status = %d", res.StatusCode)
	}

	gen := f.m.Registry().LoadGeneration()
	res, _ = f.do(t, http.MethodPost, "/models/reload", nil)
	if res.StatusCode != http.StatusOK || f.m.Registry().LoadGeneration() != gen+1 {
		t.Fatalf("reload: %d gen=%d", res.StatusCode, f.m.Registry().LoadGeneration())
	}

	_, body = f.do(t, http.MethodGet, "/models", nil)
	if !strings.Contains(string(body), `"controller":"windturbine"`) {
		t.Fatalf("models = %s", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/healthz", nil)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("healthz = %s", body)
	}
	if res, _ := f.do(t, http.MethodGet, "/readyz", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", res.StatusCode)
	}

	f.feed.Tick()
	f.m.Update()
	_, body = f.do(t, http.MethodGet, "/metrics", nil)
	if !strings.Contains(string(body), "pdt_messages_in_total") {
		t.Fatalf("metrics missing message counter")
	}

	_, body = f.do(t, http.MethodGet, "/devices", nil)
	if !strings.Contains(string(body), `"deviceID":"simulator"`) {
		t.Fatalf("devices = %s", body)
	}

	f.feed.Disconnect()
	if res, _ := f.do(t, http.MethodGet, "/readyz", nil); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz after disconnect = %d", res.StatusCode)
	}
}

func TestStopSavesSnapshots(t *testing.T) {
	f := newFixture(t)
	f.feed.Tick()
	f.m.Update()

	f.m.Stop()
	if f.m.IsRunning() {
		t.Fatalf("still running")
	}
	if _, err := os.Stat(filepath.Join(f.stateDir, dtmodel.StateFileName(f.syncKey))); err != nil {
		t.Fatalf("snapshot not saved: %v", err)
	}
	if f.feed.IsConnected() {
		t.Fatalf("transport still connected")
	}
	if err := f.m.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start after Stop err = %v", err)
	}
}

func TestStartFailsWithoutModels(t *testing.T) {
	m, err := New(Config{ModelPath: t.TempDir(), Logger: log.New(io.Discard, "", 0)}, Deps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, dtmodel.ErrNoModels) {
		t.Fatalf("Start err = %v", err)
	}
	if m.IsRunning() {
		t.Fatalf("running after failed start")
	}
}
