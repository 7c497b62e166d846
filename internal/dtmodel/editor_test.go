package dtmodel

import (
	"errors"
	"testing"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

func humidifierState(t *testing.T) *ModelState {
	t.Helper()
	r, _, _ := newTestRegistry(t, testModels)
	return r.CreateModelState("hum-1", "lab", false, Humidifier, nil)
}

func mustEditor(t *testing.T, st *ModelState, name string) *PropertyEditor {
	t.Helper()
	e, err := NewPropertyEditor(st, name)
	if err != nil {
		t.Fatalf("NewPropertyEditor(%s): %v", name, err)
	}
	return e
}

func TestGenerateCommandOncePerChange(t *testing.T) {
	e := mustEditor(t, humidifierState(t), "targetHumidity")

	if e.IsChanged() || e.GenerateCommand() != nil {
		t.Fatalf("fresh editor must not produce a command")
	}
	if !e.SetValueText(" 45.5 ") {
		t.Fatalf("SetValueText rejected a number")
	}
	cmd := e.GenerateCommand()
	if cmd == nil {
		t.Fatalf("changed value must produce a command")
	}
	if cmd.Name != "targetHumidity" || cmd.DeviceID != "hum-1" || cmd.LocationID != "lab" {
		t.Fatalf("command identity = %+v", cmd.DataContext)
	}
	if cmd.TypeCategoryID != model.EnvTypeCategory || cmd.TypeID != model.HumidifierActuatorType {
		t.Fatalf("command type = %d/%d", cmd.TypeCategoryID, cmd.TypeID)
	}
	if cmd.Value != 45.5 || cmd.Command != messages.CommandOn || cmd.StateData != "" || cmd.IsResponse {
		t.Fatalf("command payload = %+v", cmd)
	}
	if e.GenerateCommand() != nil {
		t.Fatalf("second GenerateCommand without change must return nil")
	}

	e.SetValueText("45.5")
	if e.IsChanged() {
		t.Fatalf("same value again is not a change")
	}
	e.SetValueText("50")
	e.SetMessageState("ramp up")
	if cmd := e.GenerateCommand(); cmd == nil || cmd.StateData != "ramp up" {
		t.Fatalf("annotated command = %+v", cmd)
	}
}

func TestNonNumericInputIsNoChange(t *testing.T) {
	e := mustEditor(t, humidifierState(t), "targetHumidity")
	for _, in := range []string{"abc", "", "NaN", "1e999"} {
		if e.SetValueText(in) {
			t.Fatalf("SetValueText(%q) accepted", in)
		}
		if e.IsChanged() {
			t.Fatalf("SetValueText(%q) reported a change", in)
		}
	}
}

func TestToggleEditor(t *testing.T) {
	e := mustEditor(t, humidifierState(t), "enabled")
	e.SetToggle(false)
	cmd := e.GenerateCommand()
	if cmd == nil || cmd.Command != messages.CommandOff || cmd.Value != 0 {
		t.Fatalf("off command = %+v", cmd)
	}
	e.SetToggle(false)
	if e.GenerateCommand() != nil {
		t.Fatalf("unchanged toggle produced a command")
	}
	e.SetToggle(true)
	if cmd := e.GenerateCommand(); cmd == nil || cmd.Command != messages.CommandOn || cmd.Value != 1 {
		t.Fatalf("on command = %+v", cmd)
	}
}

func TestScheduleEditorAcceptsDurations(t *testing.T) {
	e := mustEditor(t, humidifierState(t), "schedule")
	tests := []struct {
		in   string
		want float64
	}{
		{"1m30s", 90},
		{"2h", 7200},
		{"15", 15},
	}
	for _, tt := range tests {
		if !e.SetValueText(tt.in) {
			t.Fatalf("SetValueText(%q) rejected", tt.in)
		}
		if got := e.Value(); got != tt.want {
			t.Fatalf("SetValueText(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEditorRejectsReadOnlyProperties(t *testing.T) {
	st := humidifierState(t)
	if _, err := NewPropertyEditor(st, "humidity"); !errors.Is(err, ErrNotWritable) {
		t.Fatalf("telemetry editor err = %v", err)
	}
	if _, err := NewPropertyEditor(st, "nope"); !errors.Is(err, ErrUnknownProperty) {
		t.Fatalf("unknown property err = %v", err)
	}
	if _, err := NewPropertyEditor(st, "reset"); err != nil {
		t.Fatalf("commands are editable: %v", err)
	}
	if n := len(NewPropertyEditors(st)); n != 4 {
		t.Fatalf("NewPropertyEditors() built %d editors, want 4", n)
	}
}

func TestGenerateDeviceCommands(t *testing.T) {
	st := humidifierState(t)
	target := mustEditor(t, st, "targetHumidity")
	enabled := mustEditor(t, st, "enabled")
	target.SetValueText("47")

	got := GenerateDeviceCommands([]*PropertyEditor{target, enabled, nil})
	if len(got) != 1 {
		t.Fatalf("got %d commands, want 1", len(got))
	}
	if got[0].ResourceName != model.CommandResourceName || got[0].DeviceName != "hum-1" || !got[0].IsActuationRequest() {
		t.Fatalf("envelope = %s", got[0])
	}
	if len(GenerateDeviceCommands([]*PropertyEditor{target, enabled})) != 0 {
		t.Fatalf("nothing changed, nothing to send")
	}
}

func TestGenerateOutgoingStateUpdate(t *testing.T) {
	st := humidifierState(t)
	st.SetConnectedDeviceID("edge-3")
	data := messages.NewActuatorData("targetHumidity", "", 0, 0)
	data.Value = 30

	res := st.GenerateOutgoingStateUpdate(data)
	if res.DeviceName != "edge-3" || data.DeviceID != "edge-3" || data.TypeID != model.HumidifierActuatorType {
		t.Fatalf("outgoing update = %s %+v", res, data.DataContext)
	}
	if !res.IsActuationRequest() {
		t.Fatalf("outgoing update must be an actuation request")
	}
}
