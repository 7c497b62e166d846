// Package transport connects the twin core to the devices: inbound messages
// are decoded and handed to the message queue adapter, outbound commands are
// published to the broker.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
	"github.com/programming-digital-twins/pdt-unity-components/pkg/broker"
	"github.com/programming-digital-twins/pdt-unity-components/pkg/dedup"
)

var ErrNotConnected = errors.New("transport not connected")

// Transport is the messaging boundary of the twin core.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	PublishMessage(resource model.ResourceNameContainer) error
}

// Inbound receives decoded messages. The queue adapter implements it.
type Inbound interface {
	HandleActuatorData(data *messages.ActuatorData) bool
	HandleConnectionStateData(data *messages.ConnectionStateData) bool
	HandleMessageData(data *messages.MessageData) bool
	HandleSensorData(data *messages.SensorData) bool
	HandleSystemPerformanceData(data *messages.SystemPerformanceData) bool
	HandleErrorLog(text string, cause error) bool
}

const (
	ConnectionStateName = "MqttClientConnection"
	DefaultDedupTTL     = 10 * time.Minute
	DefaultDedupMax     = 20000
)

type Config struct {
	Broker broker.Config
	// DeviceID names this host in connection state messages.
	DeviceID       string
	Filters        []string
	PublishQoS     byte
	PublishTimeout time.Duration
	DedupTTL       time.Duration
	DedupMax       int
	Logger         *log.Logger
}

// MQTT is the paho backed Transport.
type MQTT struct {
	cfg    Config
	in     Inbound
	dedup  *dedup.Deduper
	logger *log.Logger

	mu        sync.Mutex
	client    mqtt.Client
	consumer  *broker.MultiConsumer
	publisher *broker.Publisher
	cancel    context.CancelFunc
	ready     atomic.Bool

	msgIn  atomic.Int64
	msgOut atomic.Int64
}

var _ Transport = (*MQTT)(nil)

func NewMQTT(cfg Config, in Inbound) *MQTT {
	if len(cfg.Filters) == 0 {
		cfg.Filters = DefaultFilters()
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.DedupMax <= 0 {
		cfg.DedupMax = DefaultDedupMax
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = cfg.Broker.ClientID
	}
	return &MQTT{
		cfg:    cfg,
		in:     in,
		dedup:  dedup.New(cfg.DedupTTL, cfg.DedupMax),
		logger: cfg.Logger,
	}
}

// Connect dials the broker and subscribes to the inbound filters. It blocks
// until the first connection succeeds or the retries run out.
func (t *MQTT) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.emitState(false, true)

	bcfg := t.cfg.Broker
	bcfg.OnConnect = t.handleConnected
	bcfg.OnConnectionLost = t.handleConnectionLost

	cctx, cancel := context.WithCancel(ctx)
	client, err := broker.NewConn(cctx, &bcfg)
	if err != nil {
		cancel()
		t.emitState(false, false)
		t.in.HandleErrorLog("mqtt connect failed", err)
		return err
	}

	t.mu.Lock()
	t.client = client
	t.cancel = cancel
	t.publisher = broker.NewPublisher(client, t.cfg.PublishQoS, t.cfg.PublishTimeout)
	t.mu.Unlock()

	t.handleConnected(client)
	return nil
}

func (t *MQTT) handleConnected(client mqtt.Client) {
	if !t.ready.CompareAndSwap(false, true) {
		return
	}
	c := broker.NewMultiConsumer(client, t.cfg.Filters, broker.AtLeastOnce, t.handle)
	if err := c.Subscribe(); err != nil {
		t.in.HandleErrorLog("mqtt subscribe failed", err)
	}
	t.mu.Lock()
	t.consumer = c
	t.mu.Unlock()
	t.logger.Printf("transport: connected, subscribed to %v", t.cfg.Filters)
	t.emitState(true, false)
}

func (t *MQTT) handleConnectionLost(_ mqtt.Client, err error) {
	t.ready.Store(false)
	t.logger.Printf("transport: connection lost: %v", err)
	t.in.HandleErrorLog("mqtt connection lost", err)
	t.emitState(false, false)
}

// Disconnect unsubscribes and closes the connection. It is safe to call when
// not connected.
func (t *MQTT) Disconnect() {
	t.mu.Lock()
	client, consumer, cancel := t.client, t.consumer, t.cancel
	t.client, t.consumer, t.publisher, t.cancel = nil, nil, nil, nil
	t.mu.Unlock()
	if client == nil {
		return
	}
	t.ready.Store(false)
	if consumer != nil && client.IsConnected() {
		consumer.Unsubscribe()
	}
	broker.Close(client)
	if cancel != nil {
		cancel()
	}
	t.emitState(false, false)
}

func (t *MQTT) IsConnected() bool {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	return c != nil && c.IsConnected()
}

// PublishMessage encodes the payload of resource and publishes it on the
// resource name.
func (t *MQTT) PublishMessage(resource model.ResourceNameContainer) error {
	t.mu.Lock()
	p := t.publisher
	t.mu.Unlock()
	if p == nil {
		return ErrNotConnected
	}
	if resource.ResourceName == "" {
		return errors.New("publish: empty resource name")
	}
	payload, err := messages.Encode(resource.DataContext)
	if err != nil {
		return fmt.Errorf("publish %s: %w", resource.ResourceName, err)
	}
	if err := p.Publish(resource.ResourceName, payload); err != nil {
		return err
	}
	t.msgOut.Add(1)
	return nil
}

// Counts returns the number of messages received and published.
func (t *MQTT) Counts() (in, out int64) { return t.msgIn.Load(), t.msgOut.Load() }

func (t *MQTT) handle(_ string, m mqtt.Message) error {
	if m.Qos() > 0 && !t.dedup.ShouldProcess(dedup.PayloadKey(m.Topic(), m.Payload())) {
		return nil
	}
	msg, err := Decode(m.Topic(), m.Payload())
	if err != nil {
		return err
	}
	t.msgIn.Add(1)
	Deliver(t.in, msg)
	return nil
}

func (t *MQTT) emitState(connected, connecting bool) {
	st := messages.NewConnectionStateData(ConnectionStateName, t.cfg.DeviceID, t.cfg.Broker.Host, t.cfg.Broker.Port)
	st.IsClientConnected = connected
	st.IsClientConnecting = connecting
	st.IsClientDisconnected = !connected && !connecting
	st.MsgInCount, st.MsgOutCount = t.Counts()
	t.in.HandleConnectionStateData(st)
}
