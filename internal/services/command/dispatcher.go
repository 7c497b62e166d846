// Package command paces outgoing actuation commands so a device never sees
// more than a configured number of commands per minute.
package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/queue"
)

const (
	DefaultMaxCommandsPerMinute = 12
	DefaultInitialDelay         = time.Second
	DefaultBreakerFailures      = 3
	DefaultBreakerOpen          = 30 * time.Second
	DefaultBreakerInterval      = time.Minute
)

var (
	ErrNotActuation = errors.New("not an actuation request")
	ErrPublishPanic = errors.New("publisher panicked")
)

// Publisher sends one command envelope to the messaging layer.
type Publisher interface {
	PublishMessage(resource model.ResourceNameContainer) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(resource model.ResourceNameContainer) error

func (f PublisherFunc) PublishMessage(r model.ResourceNameContainer) error { return f(r) }

type Config struct {
	MaxCommandsPerMinute int
	InitialDelay         time.Duration
	// MaxQueued bounds the backlog; the oldest command is dropped on overflow.
	// Zero means unbounded.
	MaxQueued int

	BreakerFailures int
	BreakerOpen     time.Duration
	BreakerInterval time.Duration

	Logger *log.Logger
	// OnDispatch is called after every publish attempt with its outcome.
	OnDispatch func(resource model.ResourceNameContainer, err error)
}

func (c *Config) applyDefaults() {
	if c.MaxCommandsPerMinute <= 0 {
		c.MaxCommandsPerMinute = DefaultMaxCommandsPerMinute
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = DefaultBreakerFailures
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = DefaultBreakerOpen
	}
	if c.BreakerInterval <= 0 {
		c.BreakerInterval = DefaultBreakerInterval
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// Dispatcher queues actuation requests and publishes one per tick.
type Dispatcher struct {
	cfg    Config
	pub    Publisher
	queue  *queue.FIFO[model.ResourceNameContainer]
	cb     *gobreaker.CircuitBreaker
	logger *log.Logger

	sent     atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

func New(pub Publisher, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	fails := uint32(cfg.BreakerFailures)
	return &Dispatcher{
		cfg:    cfg,
		pub:    pub,
		queue:  queue.NewFIFO[model.ResourceNameContainer](cfg.MaxQueued, queue.DropOldest),
		logger: cfg.Logger,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "command-publish",
			Interval: cfg.BreakerInterval,
			Timeout:  cfg.BreakerOpen,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				cfg.Logger.Printf("command: breaker %s %s -> %s", name, from, to)
			},
		}),
	}
}

// Interval is the spacing between two published commands.
func (d *Dispatcher) Interval() time.Duration {
	return time.Minute / time.Duration(d.cfg.MaxCommandsPerMinute)
}

// HandleRemoteCommandRequest queues resource for publishing. Envelopes that
// are not actuation requests are refused.
func (d *Dispatcher) HandleRemoteCommandRequest(resource model.ResourceNameContainer) bool {
	if !resource.IsActuationRequest() {
		d.logger.Printf("command: ignoring %s: %v", resource, ErrNotActuation)
		return false
	}
	before := d.queue.Dropped()
	d.queue.Push(resource)
	if n := d.queue.Dropped() - before; n > 0 {
		d.dropped.Add(n)
		d.logger.Printf("command: backlog full, dropped %d oldest command(s)", n)
	}
	return true
}

func (d *Dispatcher) Pending() int { return d.queue.Len() }

// Stats returns sent, failed, rejected (breaker open) and dropped counts.
func (d *Dispatcher) Stats() (sent, failed, rejected, dropped uint64) {
	return d.sent.Load(), d.failed.Load(), d.rejected.Load(), d.dropped.Load()
}

func (d *Dispatcher) BreakerState() gobreaker.State { return d.cb.State() }

// Step publishes the oldest queued command. It reports whether a command was
// taken from the queue. A failed publish is logged and not retried.
func (d *Dispatcher) Step() bool {
	resource, ok := d.queue.Pop()
	if !ok {
		return false
	}
	_, err := d.cb.Execute(func() (_ any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrPublishPanic, r)
			}
		}()
		return nil, d.pub.PublishMessage(resource)
	})
	switch {
	case err == nil:
		d.sent.Add(1)
		d.logger.Printf("command: sent %s", resource)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		d.rejected.Add(1)
		d.logger.Printf("command: breaker %s, dropping %s", d.cb.State(), resource)
	default:
		d.failed.Add(1)
		d.logger.Printf("command: publish %s failed: %v", resource, err)
	}
	if d.cfg.OnDispatch != nil {
		d.cfg.OnDispatch(resource, err)
	}
	return true
}

// Start publishes one command per Interval, the first after InitialDelay,
// until ctx is done. Commands still queued at that point are discarded.
func (d *Dispatcher) Start(ctx context.Context) {
	timer := time.NewTimer(d.cfg.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		d.discard()
		return
	case <-timer.C:
		d.Step()
	}

	ticker := time.NewTicker(d.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.discard()
			return
		case <-ticker.C:
			d.Step()
		}
	}
}

func (d *Dispatcher) discard() {
	if n := d.queue.Clear(); n > 0 {
		d.dropped.Add(uint64(n))
		d.logger.Printf("command: stopped with %d queued command(s) discarded", n)
	}
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("dispatcher(%d/min, pending=%d)", d.cfg.MaxCommandsPerMinute, d.Pending())
}
