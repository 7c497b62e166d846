package dtmodel

import (
	"reflect"
	"testing"

	"github.com/programming-digital-twins/pdt-unity-components/internal/eventbus"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

func TestBuildModelDataCategories(t *testing.T) {
	r, _, _ := newTestRegistry(t, testModels)
	st := r.CreateModelState("hum-1", "lab", false, Humidifier, nil)

	check := func() {
		t.Helper()
		if got, want := st.GetModelPropertyKeys(), []string{"targetHumidity", "enabled", "schedule"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("writable keys = %v, want %v", got, want)
		}
		if got, want := st.GetModelPropertyTelemetryKeys(), []string{"humidity", "serialNumber"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("telemetry keys = %v, want %v", got, want)
		}
		if got, want := st.GetModelCommandKeys(), []string{"reset"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("command keys = %v, want %v", got, want)
		}
	}
	check()
	if !st.BuildModelData() {
		t.Fatalf("rebuild failed")
	}
	check()

	kinds := map[string]PropertyKind{
		"humidity":       KindValue,
		"targetHumidity": KindValue,
		"enabled":        KindToggle,
		"schedule":       KindSchedule,
		"serialNumber":   KindMessage,
		"reset":          KindCommand,
	}
	for name, want := range kinds {
		p, ok := st.GetModelProperty(name)
		if !ok || p.Kind != want {
			t.Fatalf("%s kind = %v, want %v", name, p.Kind, want)
		}
	}
	if st.GetModelID() != "dtmi:pdt:humidifier;1" {
		t.Fatalf("GetModelID() = %s", st.GetModelID())
	}
}

func TestComplexSchemaIsUndefined(t *testing.T) {
	r, _, _ := newTestRegistry(t, testModels)
	st := r.CreateModelState("turbine-1", "field", false, WindTurbine, nil)
	p, ok := st.GetModelProperty("bladePitch")
	if !ok || p.Kind != KindUndefined || p.Category() != CategoryWritable {
		t.Fatalf("bladePitch = %+v", p)
	}
	th := r.CreateModelState("th-1", "lab", false, Thermostat, nil)
	if _, ok := th.GetModelProperty("deviceInfo"); ok {
		t.Fatalf("components are not properties")
	}
	if p, _ := th.GetModelProperty("temperature"); p.Kind != KindValue || p.Category() != CategoryTelemetry {
		t.Fatalf("semantic telemetry type = %+v", p)
	}
}

func TestStateReceivesOnlyItsDevice(t *testing.T) {
	r, bus, _ := newTestRegistry(t, testModels)
	var forwarded []*messages.SensorData
	st := r.CreateModelState("hum-1", "lab", false, Humidifier, &eventbus.DataContextFuncs{
		OnSensorData: func(d *messages.SensorData) error { forwarded = append(forwarded, d); return nil },
	})

	bus.OnMessagingSystemDataReceived(messages.NewSensorData("humidity", "hum-1", model.EnvTypeCategory, model.HumiditySensorType, 41.5))
	bus.OnMessagingSystemDataReceived(messages.NewSensorData("humidity", "hum-2", model.EnvTypeCategory, model.HumiditySensorType, 99))

	if v, ok := st.GetTelemetryValue("humidity"); !ok || v != 41.5 {
		t.Fatalf("humidity = %v,%v want 41.5", v, ok)
	}
	if len(forwarded) != 1 || forwarded[0].DeviceID != "hum-1" {
		t.Fatalf("forwarded %d messages", len(forwarded))
	}
	if st.LastUpdate().IsZero() {
		t.Fatalf("LastUpdate not set")
	}
}

func TestAcceptAllFilter(t *testing.T) {
	r, bus, _ := newTestRegistry(t, testModels, WithMessageFilter(AcceptAll))
	st := r.CreateModelState("hum-1", "lab", false, Humidifier, nil)
	bus.OnMessagingSystemDataReceived(messages.NewSensorData("humidity", "anything", 0, 0, 12))
	if v, _ := st.GetTelemetryValue("humidity"); v != 12 {
		t.Fatalf("AcceptAll state ignored a foreign device")
	}
}

func TestTelemetryProcessingToggle(t *testing.T) {
	r, bus, _ := newTestRegistry(t, testModels)
	st := r.CreateModelState("edge-1", "lab", false, EdgeDevice, nil)
	st.EnableIncomingTelemetryProcessing(false)

	perf := messages.NewSystemPerformanceData("perf", "edge-1", model.SystemTypeCategory, model.SystemPerfType)
	perf.CPUUtil = 55
	bus.OnMessagingSystemDataReceived(perf)
	conn := messages.NewConnectionStateData("conn", "edge-1", "broker", 1883)
	conn.IsClientConnected = true
	bus.OnMessagingSystemDataReceived(conn)

	if _, ok := st.GetTelemetryValue(TelemetryCPUUtil); ok {
		t.Fatalf("telemetry recorded while processing is off")
	}
	if got, ok := st.GetConnectionState(); !ok || got != conn {
		t.Fatalf("connection state must update while telemetry is off")
	}

	st.EnableIncomingTelemetryProcessing(true)
	bus.OnMessagingSystemDataReceived(perf)
	if v, _ := st.GetTelemetryValue(TelemetryCPUUtil); v != 55 {
		t.Fatalf("cpuUtil = %v, want 55", v)
	}
}

func TestTelemetryMappingAndActuatorResponse(t *testing.T) {
	r, _, _ := newTestRegistry(t, testModels)
	st := r.CreateModelState("turbine-1", "field", false, WindTurbine, nil)
	st.SetTelemetryMapping(model.WindTurbineRotationalSpeedSensorType, "rotationalSpeed")

	_ = st.HandleSensorData(messages.NewSensorData("RotationalSpeed", "turbine-1", model.PowerTypeCategory,
		model.WindTurbineRotationalSpeedSensorType, 42.0))
	_ = st.HandleSensorData(messages.NewSensorData("POWEROUTPUT", "turbine-1", model.PowerTypeCategory,
		model.WindTurbinePowerOutputSensorType, 7))
	if v, _ := st.GetTelemetryValue("rotationalSpeed"); v != 42.0 {
		t.Fatalf("rotationalSpeed = %v", v)
	}
	if v, _ := st.GetTelemetryValue("powerOutput"); v != 7 {
		t.Fatalf("name match should be case-insensitive, got %v", st.GetTelemetryValues())
	}

	req := messages.NewActuatorData("brakeEngaged", "turbine-1", 0, 0)
	req.Value = 1
	_ = st.HandleActuatorData(req)
	if _, ok := st.GetTelemetryValue("brakeEngaged"); ok {
		t.Fatalf("requests are not confirmed state")
	}
	resp := messages.NewActuatorData("brakeEngaged", "turbine-1", 0, 0)
	resp.Value, resp.IsResponse = 1, true
	_ = st.HandleActuatorData(resp)
	if v, _ := st.GetTelemetryValue("brakeEngaged"); v != 1 {
		t.Fatalf("response not recorded")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	r, _, _ := newTestRegistry(t, testModels)
	st := r.CreateModelState("hum-1", "lab", false, Humidifier, nil)
	st.SetConnectedDeviceID("edge-9")
	st.EnableIncomingTelemetryProcessing(false)
	_ = st.HandleSensorData(messages.NewSensorData("humidity", "edge-9", 0, 0, 33))
	st.EnableIncomingTelemetryProcessing(true)
	_ = st.HandleSensorData(messages.NewSensorData("humidity", "edge-9", 0, 0, 34))

	snap := st.Snapshot()
	if snap.SyncKey != "hum-1_lab_humidifier" || snap.Telemetry["humidity"] != 34 {
		t.Fatalf("snapshot = %+v", snap)
	}

	r2, _, _ := newTestRegistry(t, testModels)
	restored := r2.CreateModelState("hum-1", "lab", false, Humidifier, nil)
	if err := restored.ApplySnapshot(snap); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	if restored.GetConnectedDeviceID() != "edge-9" {
		t.Fatalf("connected device not restored")
	}
	if v, _ := restored.GetTelemetryValue("humidity"); v != 34 {
		t.Fatalf("telemetry not restored")
	}

	other := r2.CreateModelState("hum-2", "lab", false, Humidifier, nil)
	if err := other.ApplySnapshot(snap); err == nil {
		t.Fatalf("snapshot of another state must be rejected")
	}
}
