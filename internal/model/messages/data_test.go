package messages

import "testing"

func TestIsNil(t *testing.T) {
	var sd *SensorData
	if !IsNil(nil) {
		t.Fatalf("nil interface should be nil")
	}
	if !IsNil(sd) {
		t.Fatalf("typed nil pointer should be nil")
	}
	if IsNil(NewSensorData("temp", "dev", 0, 0, 1)) {
		t.Fatalf("allocated message should not be nil")
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range AllKinds {
		if got := ParseKind(k.String()); got != k {
			t.Fatalf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if ParseKind("bogus") != KindUnknown {
		t.Fatalf("unknown names should map to KindUnknown")
	}
}

func TestConnectionStateLabel(t *testing.T) {
	c := NewConnectionStateData("mqtt", "edge", "localhost", 1883)
	if c.StateLabel() != "Disconnected" {
		t.Fatalf("new connection state label = %q", c.StateLabel())
	}
	c.IsClientConnecting = true
	if c.StateLabel() != "Connecting..." {
		t.Fatalf("connecting label = %q", c.StateLabel())
	}
	c.IsClientConnected = true
	if c.StateLabel() != "Connected" {
		t.Fatalf("connected label = %q", c.StateLabel())
	}
}

func TestDecodeSensorData(t *testing.T) {
	m, err := Decode(KindSensorData, []byte(`{"name":"TempSensor","deviceID":"turbine-1","typeID":2001,"value":42}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sd, ok := m.(*SensorData)
	if !ok {
		t.Fatalf("Decode returned %T", m)
	}
	if sd.DeviceID != "turbine-1" || sd.Value != 42 || sd.TypeID != 2001 {
		t.Fatalf("unexpected sensor data %+v", sd)
	}
	if _, err := Decode(KindUnknown, []byte(`{}`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestNewLogMessageNormalizesLevel(t *testing.T) {
	if got := NewLogMessage(KindSensorData, "x", nil).Kind(); got != KindDebugLog {
		t.Fatalf("non-log level should fall back to debug, got %v", got)
	}
	if got := NewLogMessage(KindErrorLog, "x", nil).Kind(); got != KindErrorLog {
		t.Fatalf("Kind() = %v", got)
	}
}
