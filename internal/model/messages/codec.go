package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown message kind")

// New allocates an empty message of the given kind.
func New(kind Kind) (Message, error) {
	switch kind {
	case KindActuatorData:
		return &ActuatorData{}, nil
	case KindConnectionStateData:
		return &ConnectionStateData{}, nil
	case KindMessageData:
		return &MessageData{}, nil
	case KindSensorData:
		return &SensorData{}, nil
	case KindSystemPerformanceData:
		return &SystemPerformanceData{}, nil
	case KindDebugLog, KindWarningLog, KindErrorLog:
		return &LogMessage{Level: kind}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
}

func Encode(m Message) ([]byte, error) {
	if IsNil(m) {
		return nil, errors.New("encode: nil message")
	}
	return json.Marshal(m)
}

func Decode(kind Kind, payload []byte) (Message, error) {
	m, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if l, ok := m.(*LogMessage); ok {
		l.Level = kind
	}
	return m, nil
}
