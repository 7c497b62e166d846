// Package queue buffers typed messages arriving on transport goroutines so a
// single consumer loop can drain them at its own cadence.
package queue

import (
	"sync"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

const DefaultCapacity = 1024

type Option func(*Adapter)

// WithCapacity bounds every per-kind queue. 0 means unbounded.
func WithCapacity(n int) Option { return func(a *Adapter) { a.capacity = n } }

func WithOverflowPolicy(p OverflowPolicy) Option { return func(a *Adapter) { a.policy = p } }

// WithKinds enables only the given kinds. By default every kind is enabled.
func WithKinds(kinds ...messages.Kind) Option {
	return func(a *Adapter) {
		a.enabled = make(map[messages.Kind]bool, len(kinds))
		for _, k := range kinds {
			a.enabled[k] = true
		}
	}
}

// WithDropHook is called, outside any lock, whenever a message is not queued
// or an older one is evicted.
func WithDropHook(fn func(kind messages.Kind)) Option { return func(a *Adapter) { a.onDrop = fn } }

// Adapter keeps one FIFO per message kind, each gated by an enabled flag.
type Adapter struct {
	mu       sync.RWMutex
	enabled  map[messages.Kind]bool
	queues   map[messages.Kind]*FIFO[messages.Message]
	capacity int
	policy   OverflowPolicy
	onDrop   func(kind messages.Kind)
}

func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		capacity: DefaultCapacity,
		policy:   DropOldest,
		enabled:  make(map[messages.Kind]bool, len(messages.AllKinds)),
	}
	for _, k := range messages.AllKinds {
		a.enabled[k] = true
	}
	for _, o := range opts {
		o(a)
	}
	a.queues = make(map[messages.Kind]*FIFO[messages.Message], len(messages.AllKinds))
	for _, k := range messages.AllKinds {
		a.queues[k] = NewFIFO[messages.Message](a.capacity, a.policy)
	}
	return a
}

func (a *Adapter) SetEnabled(kind messages.Kind, enabled bool) {
	a.mu.Lock()
	a.enabled[kind] = enabled
	a.mu.Unlock()
}

func (a *Adapter) Enabled(kind messages.Kind) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled[kind]
}

// Handle queues msg if its kind is enabled. Nil and disabled messages are
// discarded without error.
func (a *Adapter) Handle(msg messages.Message) bool {
	if messages.IsNil(msg) {
		return false
	}
	kind := msg.Kind()
	if !a.Enabled(kind) {
		return false
	}
	q, ok := a.queues[kind]
	if !ok {
		return false
	}
	before := q.Dropped()
	accepted := q.Push(msg)
	if a.onDrop != nil && q.Dropped() != before {
		a.onDrop(kind)
	}
	return accepted
}

func (a *Adapter) HandleActuatorData(data *messages.ActuatorData) bool { return a.Handle(data) }

func (a *Adapter) HandleConnectionStateData(data *messages.ConnectionStateData) bool {
	return a.Handle(data)
}

func (a *Adapter) HandleMessageData(data *messages.MessageData) bool { return a.Handle(data) }

func (a *Adapter) HandleSensorData(data *messages.SensorData) bool { return a.Handle(data) }

func (a *Adapter) HandleSystemPerformanceData(data *messages.SystemPerformanceData) bool {
	return a.Handle(data)
}

func (a *Adapter) HandleDebugLog(text string) bool {
	if text == "" {
		return false
	}
	return a.Handle(messages.NewLogMessage(messages.KindDebugLog, text, nil))
}

func (a *Adapter) HandleWarningLog(text string) bool {
	if text == "" {
		return false
	}
	return a.Handle(messages.NewLogMessage(messages.KindWarningLog, text, nil))
}

func (a *Adapter) HandleErrorLog(text string, cause error) bool {
	if text == "" {
		return false
	}
	return a.Handle(messages.NewLogMessage(messages.KindErrorLog, text, cause))
}

// DrainOne pops the oldest queued message of kind, if any.
func (a *Adapter) DrainOne(kind messages.Kind) (messages.Message, bool) {
	q, ok := a.queues[kind]
	if !ok {
		return nil, false
	}
	return q.Pop()
}

// Tick drains at most one message per enabled kind and hands each to fn.
// Per-tick work is bounded by the number of kinds, not by queue depth.
func (a *Adapter) Tick(fn func(messages.Message)) int {
	n := 0
	for _, kind := range messages.AllKinds {
		if !a.Enabled(kind) {
			continue
		}
		msg, ok := a.DrainOne(kind)
		if !ok {
			continue
		}
		n++
		if fn != nil {
			fn(msg)
		}
	}
	return n
}

func (a *Adapter) Pending(kind messages.Kind) int {
	if q, ok := a.queues[kind]; ok {
		return q.Len()
	}
	return 0
}

func (a *Adapter) Dropped(kind messages.Kind) uint64 {
	if q, ok := a.queues[kind]; ok {
		return q.Dropped()
	}
	return 0
}

// Clear discards everything queued and returns the count.
func (a *Adapter) Clear() int {
	n := 0
	for _, q := range a.queues {
		n += q.Clear()
	}
	return n
}
