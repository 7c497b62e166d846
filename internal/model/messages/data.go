package messages

import (
	"reflect"
	"time"
)

// Kind identifies one variant of the typed message set.
type Kind int

const (
	KindUnknown Kind = iota
	KindDebugLog
	KindWarningLog
	KindErrorLog
	KindActuatorData
	KindConnectionStateData
	KindMessageData
	KindSensorData
	KindSystemPerformanceData
)

// DataKinds lists the kinds routed to data-context listeners, in drain order.
var DataKinds = []Kind{
	KindActuatorData,
	KindConnectionStateData,
	KindMessageData,
	KindSensorData,
	KindSystemPerformanceData,
}

// LogKinds lists the kinds routed to system-status listeners.
var LogKinds = []Kind{KindDebugLog, KindWarningLog, KindErrorLog}

// AllKinds is LogKinds followed by DataKinds.
var AllKinds = append(append([]Kind{}, LogKinds...), DataKinds...)

func (k Kind) String() string {
	switch k {
	case KindDebugLog:
		return "debug_log"
	case KindWarningLog:
		return "warning_log"
	case KindErrorLog:
		return "error_log"
	case KindActuatorData:
		return "actuator_data"
	case KindConnectionStateData:
		return "connection_state_data"
	case KindMessageData:
		return "message_data"
	case KindSensorData:
		return "sensor_data"
	case KindSystemPerformanceData:
		return "system_performance_data"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for _, k := range AllKinds {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// IsLog reports whether k is one of the log kinds.
func (k Kind) IsLog() bool {
	return k == KindDebugLog || k == KindWarningLog || k == KindErrorLog
}

// Message is implemented by every variant. Once handed to the queue a message
// is shared by reference with all listeners and must not be mutated.
type Message interface {
	Kind() Kind
	GetDataContext() DataContext
}

// DataContext is the header carried by every data message.
type DataContext struct {
	Name           string    `json:"name"`
	DeviceID       string    `json:"deviceID"`
	LocationID     string    `json:"locationID,omitempty"`
	TypeCategoryID int       `json:"typeCategoryID"`
	TypeID         int       `json:"typeID"`
	StatusCode     int       `json:"statusCode"`
	HasError       bool      `json:"hasError"`
	TimeStamp      time.Time `json:"timeStamp"`
}

func (d DataContext) GetDataContext() DataContext { return d }

func newDataContext(name, deviceID string, typeCategoryID, typeID int) DataContext {
	return DataContext{
		Name:           name,
		DeviceID:       deviceID,
		TypeCategoryID: typeCategoryID,
		TypeID:         typeID,
		TimeStamp:      time.Now().UTC(),
	}
}

// IsNil reports whether m is nil or a typed nil pointer.
func IsNil(m Message) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
