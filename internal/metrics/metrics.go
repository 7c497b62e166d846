// Package metrics exposes the twin core counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

const namespace = "pdt"

// Command outcomes.
const (
	ResultSent     = "sent"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
)

type Metrics struct {
	reg *prometheus.Registry

	MessagesIn       *prometheus.CounterVec
	QueueDropped     *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	Commands         *prometheus.CounterVec
	CommandsQueued   prometheus.Gauge
	ListenerFailures *prometheus.CounterVec
	ModelStates      prometheus.Gauge
}

// New builds a Metrics on its own registry, with the Go and process
// collectors registered.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		MessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_in_total",
			Help: "Messages routed through the event bus, by kind.",
		}, []string{"kind"}),
		QueueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_dropped_total",
			Help: "Messages dropped by the queue adapter, by kind.",
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Messages waiting in the queue adapter, by kind.",
		}, []string{"kind"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total",
			Help: "Remote commands dispatched, by result.",
		}, []string{"result"}),
		CommandsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "commands_queued",
			Help: "Remote commands waiting for their dispatch slot.",
		}),
		ListenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "listener_failures_total",
			Help: "Listener errors and panics recovered by the event bus, by kind.",
		}, []string{"kind"}),
		ModelStates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "model_states",
			Help: "Model state instances managed by the registry.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesIn, m.QueueDropped, m.QueueDepth, m.Commands,
		m.CommandsQueued, m.ListenerFailures, m.ModelStates,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveMessage(kind messages.Kind) {
	m.MessagesIn.WithLabelValues(kind.String()).Inc()
}

// ObserveDrop matches queue.WithDropHook.
func (m *Metrics) ObserveDrop(kind messages.Kind) {
	m.QueueDropped.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) SetQueueDepth(kind messages.Kind, n int) {
	m.QueueDepth.WithLabelValues(kind.String()).Set(float64(n))
}

// ObserveListenerFailure matches eventbus.WithFailureHook.
func (m *Metrics) ObserveListenerFailure(_ string, kind messages.Kind, _ error) {
	m.ListenerFailures.WithLabelValues(kind.String()).Inc()
}

// ObserveCommand matches command.Config.OnDispatch.
func (m *Metrics) ObserveCommand(_ model.ResourceNameContainer, err error) {
	m.Commands.WithLabelValues(CommandResult(err)).Inc()
}

// CommandResult classifies a publish outcome. Calls refused by an open
// breaker are rejected, not failed.
func CommandResult(err error) string {
	switch {
	case err == nil:
		return ResultSent
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ResultRejected
	default:
		return ResultFailed
	}
}
