package broker

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one message received on the subscription filter.
type Handler func(filter string, message mqtt.Message) error

// QoSFunc picks the subscription QoS for a topic filter.
type QoSFunc func(filter string) byte

// AtLeastOnce subscribes every filter with QoS 1.
func AtLeastOnce(string) byte { return 1 }

type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// MultiConsumer subscribes one handler to several topic filters.
type MultiConsumer struct {
	client  mqtt.Client
	filters []string
	qos     QoSFunc
	handler Handler
}

func NewMultiConsumer(client mqtt.Client, filters []string, qos QoSFunc, handler Handler) *MultiConsumer {
	if qos == nil {
		qos = AtLeastOnce
	}
	return &MultiConsumer{client: client, filters: filters, qos: qos, handler: handler}
}

func (m *MultiConsumer) SetHandler(handler Handler) { m.handler = handler }

func (m *MultiConsumer) Filters() []string { return append([]string(nil), m.filters...) }

// Subscribe registers every filter and returns the first subscription error.
func (m *MultiConsumer) Subscribe() error {
	var first error
	for _, filter := range m.filters {
		filter := filter
		token := m.client.Subscribe(filter, m.qos(filter), func(_ mqtt.Client, msg mqtt.Message) {
			if m.handler == nil {
				log.Printf("broker: no handler set for %s", filter)
				return
			}
			if err := m.handler(filter, msg); err != nil {
				log.Printf("broker: handling message on %s: %v", msg.Topic(), err)
			}
		})
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("broker: subscribe %s: %v", filter, err)
			if first == nil {
				first = err
			}
			continue
		}
		log.Printf("broker: subscribed to %s", filter)
	}
	return first
}

// Unsubscribe removes every filter.
func (m *MultiConsumer) Unsubscribe() {
	if len(m.filters) == 0 {
		return
	}
	m.client.Unsubscribe(m.filters...).Wait()
}

// ConsumeMessage subscribes and blocks until ctx is done.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	_ = m.Subscribe()
	<-ctx.Done()
	m.Unsubscribe()
}
