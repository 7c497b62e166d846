package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
	"github.com/programming-digital-twins/pdt-unity-components/internal/metrics"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/command"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/simulator"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/state"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/telemetry"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/transport"
	"github.com/programming-digital-twins/pdt-unity-components/internal/services/twin"
	"github.com/programming-digital-twins/pdt-unity-components/pkg/broker"
)

func main() {
	configPath := flag.String("config", envStr("PDT_CONFIG", ""), "YAML config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("twin: %v", err)
	}

	dirs, err := dtmodel.EnsureDataDirs(cfg.DataPath)
	if err != nil {
		log.Fatalf("twin: %v", err)
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = dirs.Models
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === InfluxDB ===
	var (
		sink    *telemetry.Sink
		querier telemetry.Querier
	)
	if cfg.Influx.URL != "" {
		opts := influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.Influx.BatchSize)).
			SetFlushInterval(uint(cfg.Influx.FlushIntervalMs))
		influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token, opts)
		defer influx.Close()
		sink = telemetry.NewInfluxSink(influx, cfg.Influx.Org, telemetry.Buckets{
			Sensor:      cfg.Influx.SensorBucket,
			SystemPerf:  cfg.Influx.SysPerfBucket,
			SystemState: cfg.Influx.SysStateBucket,
			Command:     cfg.Influx.CommandBucket,
		})
		querier = influx.QueryAPI(cfg.Influx.Org)
	} else {
		log.Printf("twin: INFLUX_URL not set, telemetry is kept in memory only")
		sink = telemetry.NewSink(telemetry.Writers{})
	}

	// === State store ===
	var store state.Store
	switch cfg.StateBackend {
	case "redis":
		rs := state.NewRedisStore(state.RedisOpts{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Namespace: cfg.Redis.Namespace,
		})
		defer rs.Close()
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rs.Ping(pctx); err != nil {
			log.Printf("twin: redis %s not reachable yet: %v", cfg.Redis.Addr, err)
		}
		pcancel()
		store = rs
	case "none":
	default:
		fs, err := state.NewFileStore(dirs.State)
		if err != nil {
			log.Fatalf("twin: %v", err)
		}
		store = fs
	}

	// === Transport ===
	newTransport := func(in transport.Inbound) transport.Transport {
		if cfg.Simulate {
			return simulator.NewFeed(simulator.Config{
				DeviceID: cfg.MQTT.ClientID,
				Devices:  cfg.SimulatedFleet,
				Interval: cfg.SimInterval,
				Seed:     time.Now().UnixNano(),
			}, in)
		}
		return transport.NewMQTT(transport.Config{
			Broker: broker.Config{
				Host:     cfg.MQTT.Host,
				Port:     cfg.MQTT.Port,
				User:     cfg.MQTT.User,
				Password: cfg.MQTT.Password,
				ClientID: cfg.MQTT.ClientID,
			},
			DeviceID:   cfg.MQTT.ClientID,
			PublishQoS: 1,
		}, in)
	}

	m, err := twin.New(twin.Config{
		ModelPath:        cfg.ModelPath,
		TickRate:         cfg.TickRate,
		SaveInterval:     cfg.SaveInterval,
		AcceptAllDevices: cfg.AcceptAllDevices,
		Twins:            cfg.Twins,
		Dispatch:         command.Config{MaxCommandsPerMinute: cfg.MaxCommandsPerMinute},
	}, twin.Deps{
		NewTransport: newTransport,
		Store:        store,
		Sink:         sink,
		Metrics:      metrics.New(),
	})
	if err != nil {
		log.Fatalf("twin: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		log.Fatalf("twin: start: %v", err)
	}

	// === HTTP ===
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           twin.NewRouter(m, telemetry.NewLatestHandler(querier, cfg.Influx.SensorBucket, sink)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("twin: HTTP listening on :%d (models in %s)", cfg.HTTPPort, filepath.Clean(cfg.ModelPath))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	// === Wait for signal ===
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("twin: shutting down...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
	m.Stop()
}
