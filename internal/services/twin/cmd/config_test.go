package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigOverlaysYAML(t *testing.T) {
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MAX_COMMANDS_PER_MINUTE", "30")

	path := filepath.Join(t.TempDir(), "twin.yaml")
	body := `
httpPort: 9090
tickRate: 250ms
stateBackend: redis
simulate: true
devices:
  - id: hum-1
    location: lab
    sensors:
      - name: humidity
        min: 0
        max: 100
        target: targetHumidity
twins:
  - device: hum-1
    location: lab
    controller: humidifier
    companions:
      - controller: edgedevice
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.MQTT.Host != "broker.local" || cfg.MaxCommandsPerMinute != 30 {
		t.Fatalf("env values lost: %+v", cfg)
	}
	if cfg.HTTPPort != 9090 || cfg.TickRate != 250*time.Millisecond || cfg.StateBackend != "redis" {
		t.Fatalf("yaml values not applied: port=%d tick=%s backend=%s", cfg.HTTPPort, cfg.TickRate, cfg.StateBackend)
	}
	if !cfg.Simulate || len(cfg.SimulatedFleet) != 1 || cfg.SimulatedFleet[0].Sensors[0].Target != "targetHumidity" {
		t.Fatalf("devices = %+v", cfg.SimulatedFleet)
	}
	if len(cfg.Twins) != 1 || cfg.Twins[0].Companions[0].Controller != "edgedevice" {
		t.Fatalf("twins = %+v", cfg.Twins)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"backend": "stateBackend: etcd\n",
		"twin":    "twins:\n  - location: lab\n",
		"yaml":    "httpPort: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := loadConfig(path); err == nil {
				t.Fatalf("loadConfig accepted %q", body)
			}
		})
	}
	if _, err := loadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_DUR", "3s")
	t.Setenv("X_BOOL", "true")
	if envInt("X_INT", 7) != 7 || envDuration("X_DUR", 0) != 3*time.Second || !envBool("X_BOOL", false) {
		t.Fatalf("env helpers misread values")
	}
	if envStr("X_UNSET_FOR_TEST", "d") != "d" {
		t.Fatalf("envStr default")
	}
}
