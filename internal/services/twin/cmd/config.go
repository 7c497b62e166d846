package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/programming-digital-twins/pdt-unity-components/internal/services/simulator"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/twin"
)

type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ClientID string `yaml:"clientID"`
}

type InfluxConfig struct {
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	SensorBucket    string `yaml:"sensorBucket"`
	SysPerfBucket   string `yaml:"systemPerfBucket"`
	SysStateBucket  string `yaml:"systemStateBucket"`
	CommandBucket   string `yaml:"commandBucket"`
	BatchSize       int    `yaml:"batchSize"`
	FlushIntervalMs int    `yaml:"flushIntervalMs"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type Config struct {
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Influx InfluxConfig `yaml:"influx"`
	Redis  RedisConfig  `yaml:"redis"`

	DataPath  string `yaml:"dataPath"`
	ModelPath string `yaml:"modelPath"`
	// StateBackend is "file" or "redis".
	StateBackend string `yaml:"stateBackend"`

	MaxCommandsPerMinute int           `yaml:"maxCommandsPerMinute"`
	TickRate             time.Duration `yaml:"tickRate"`
	SaveInterval         time.Duration `yaml:"saveInterval"`
	AcceptAllDevices     bool          `yaml:"acceptAllDevices"`
	HTTPPort             int           `yaml:"httpPort"`

	Simulate       bool               `yaml:"simulate"`
	SimInterval    time.Duration      `yaml:"simInterval"`
	SimulatedFleet []simulator.Device `yaml:"devices"`

	Twins []twin.TwinConfig `yaml:"twins"`
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envConfig reads the environment. Values it does not find get the defaults.
func envConfig() Config {
	return Config{
		MQTT: MQTTConfig{
			Host:     envStr("MQTT_HOST", "localhost"),
			Port:     envInt("MQTT_PORT", 1883),
			User:     envStr("MQTT_USER", ""),
			Password: envStr("MQTT_PASSWORD", ""),
			ClientID: envStr("HOSTNAME", "pdt-twin"),
		},
		Influx: InfluxConfig{
			URL:             envStr("INFLUX_URL", ""),
			Token:           os.Getenv("INFLUX_TOKEN"),
			Org:             envStr("INFLUX_ORG", "pdt"),
			SensorBucket:    envStr("INFLUX_SENSOR_BUCKET", "sensor_data"),
			SysPerfBucket:   envStr("INFLUX_SYSPERF_BUCKET", "system_perf"),
			SysStateBucket:  envStr("INFLUX_SYSSTATE_BUCKET", "system_state"),
			CommandBucket:   envStr("INFLUX_COMMAND_BUCKET", "commands"),
			BatchSize:       envInt("WRITE_BATCH_SIZE", 50),
			FlushIntervalMs: envInt("WRITE_FLUSH_INTERVAL_MS", 1000),
		},
		Redis: RedisConfig{
			Addr:      envStr("REDIS_ADDR", "localhost:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        envInt("REDIS_DB", 0),
			Namespace: envStr("REDIS_NAMESPACE", "pdt:state"),
		},
		DataPath:             envStr("PDT_DATA_PATH", "."),
		ModelPath:            envStr("PDT_MODEL_PATH", ""),
		StateBackend:         envStr("PDT_STATE_BACKEND", "file"),
		MaxCommandsPerMinute: envInt("MAX_COMMANDS_PER_MINUTE", 12),
		TickRate:             envDuration("TICK_RATE", 100*time.Millisecond),
		SaveInterval:         envDuration("SAVE_INTERVAL", time.Minute),
		AcceptAllDevices:     envBool("ACCEPT_ALL_DEVICES", false),
		HTTPPort:             envInt("HTTP_PORT", 8080),
		Simulate:             envBool("SIMULATE", false),
		SimInterval:          envDuration("SIM_INTERVAL", 2*time.Second),
	}
}

// loadConfig starts from the environment and overlays the YAML file at path
// when one is given.
func loadConfig(path string) (Config, error) {
	cfg := envConfig()
	if path == "" {
		return cfg, cfg.validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.StateBackend {
	case "", "file", "redis", "none":
	default:
		return fmt.Errorf("unknown state backend %q", c.StateBackend)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	for i, t := range c.Twins {
		if strings.TrimSpace(t.DeviceID) == "" || strings.TrimSpace(t.Controller) == "" {
			return fmt.Errorf("twin %d: device and controller are required", i)
		}
	}
	return nil
}
