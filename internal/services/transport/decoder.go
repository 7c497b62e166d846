package transport

import (
	"fmt"
	"strings"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

var suffixKinds = map[string]messages.Kind{
	model.SensorMsg:        messages.KindSensorData,
	model.SystemPerfMsg:    messages.KindSystemPerformanceData,
	model.ConnStateMsg:     messages.KindConnectionStateData,
	model.ActuatorResponse: messages.KindActuatorData,
	model.ActuatorCmd:      messages.KindActuatorData,
	model.MessageMsg:       messages.KindMessageData,
}

// InboundResources are the resource suffixes the twins subscribe to.
var InboundResources = []string{
	model.SensorMsg,
	model.SystemPerfMsg,
	model.ConnStateMsg,
	model.ActuatorResponse,
	model.MessageMsg,
}

// DefaultFilters subscribes to every inbound resource of every device.
func DefaultFilters() []string {
	out := make([]string, 0, len(InboundResources))
	for _, r := range InboundResources {
		out = append(out, model.ResourceName(model.ProductName, "+", r))
	}
	return out
}

// KindForTopic maps a topic to a message kind by its last segment.
func KindForTopic(topic string) messages.Kind {
	if k, ok := suffixKinds[model.ResourceSuffix(topic)]; ok {
		return k
	}
	return messages.KindUnknown
}

// deviceFromTopic returns the device segment of PDT/{device}/{resource}.
func deviceFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}

// Decode turns a payload into a typed message. A missing device ID is taken
// from the topic, and payloads on the response topic are marked as responses.
func Decode(topic string, payload []byte) (messages.Message, error) {
	kind := KindForTopic(topic)
	if kind == messages.KindUnknown {
		return nil, fmt.Errorf("%w: topic %s", messages.ErrUnknownKind, topic)
	}
	msg, err := messages.Decode(kind, payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", topic, err)
	}
	device := deviceFromTopic(topic)
	switch m := msg.(type) {
	case *messages.ActuatorData:
		if model.ResourceSuffix(topic) == model.ActuatorResponse {
			m.IsResponse = true
		}
		fillDevice(&m.DataContext, device)
	case *messages.SensorData:
		fillDevice(&m.DataContext, device)
	case *messages.SystemPerformanceData:
		fillDevice(&m.DataContext, device)
	case *messages.ConnectionStateData:
		fillDevice(&m.DataContext, device)
	case *messages.MessageData:
		fillDevice(&m.DataContext, device)
	}
	return msg, nil
}

func fillDevice(dc *messages.DataContext, device string) {
	if strings.TrimSpace(dc.DeviceID) == "" {
		dc.DeviceID = device
	}
}

// Deliver hands msg to the matching typed handler of in.
func Deliver(in Inbound, msg messages.Message) bool {
	switch m := msg.(type) {
	case *messages.ActuatorData:
		return in.HandleActuatorData(m)
	case *messages.ConnectionStateData:
		return in.HandleConnectionStateData(m)
	case *messages.MessageData:
		return in.HandleMessageData(m)
	case *messages.SensorData:
		return in.HandleSensorData(m)
	case *messages.SystemPerformanceData:
		return in.HandleSystemPerformanceData(m)
	}
	return false
}
