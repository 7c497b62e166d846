package messages

import "time"

const (
	CommandOff = 0
	CommandOn  = 1
)

// ActuatorData is a command sent to a device, or the device's response to one.
type ActuatorData struct {
	DataContext
	Command    int     `json:"command"`
	Value      float64 `json:"value"`
	StateData  string  `json:"stateData,omitempty"`
	IsResponse bool    `json:"isResponse"`
}

func NewActuatorData(name, deviceID string, typeCategoryID, typeID int) *ActuatorData {
	return &ActuatorData{DataContext: newDataContext(name, deviceID, typeCategoryID, typeID)}
}

func (*ActuatorData) Kind() Kind { return KindActuatorData }

// ConnectionStateData reports the state of a messaging client connection.
type ConnectionStateData struct {
	DataContext
	HostName             string `json:"hostName"`
	HostPort             int    `json:"hostPort"`
	IsClientConnected    bool   `json:"isClientConnected"`
	IsClientConnecting   bool   `json:"isClientConnecting"`
	IsClientDisconnected bool   `json:"isClientDisconnected"`
	MsgInCount           int64  `json:"msgInCount"`
	MsgOutCount          int64  `json:"msgOutCount"`
}

func NewConnectionStateData(name, deviceID, hostName string, hostPort int) *ConnectionStateData {
	return &ConnectionStateData{
		DataContext:          newDataContext(name, deviceID, 0, 0),
		HostName:             hostName,
		HostPort:             hostPort,
		IsClientDisconnected: true,
	}
}

func (*ConnectionStateData) Kind() Kind { return KindConnectionStateData }

// StateLabel is the short human readable connection status.
func (c *ConnectionStateData) StateLabel() string {
	switch {
	case c == nil:
		return "Disconnected"
	case c.IsClientConnected:
		return "Connected"
	case c.IsClientConnecting:
		return "Connecting..."
	default:
		return "Disconnected"
	}
}

// MessageData carries free text between twin and device.
type MessageData struct {
	DataContext
	Message string `json:"message"`
}

func NewMessageData(name, deviceID, message string) *MessageData {
	return &MessageData{DataContext: newDataContext(name, deviceID, 0, 0), Message: message}
}

func (*MessageData) Kind() Kind { return KindMessageData }

// SensorData is a single telemetry reading.
type SensorData struct {
	DataContext
	Value float64 `json:"value"`
}

func NewSensorData(name, deviceID string, typeCategoryID, typeID int, value float64) *SensorData {
	return &SensorData{DataContext: newDataContext(name, deviceID, typeCategoryID, typeID), Value: value}
}

func (*SensorData) Kind() Kind { return KindSensorData }

// SystemPerformanceData reports host utilisation of a device, in percent.
type SystemPerformanceData struct {
	DataContext
	CPUUtil  float64 `json:"cpuUtil"`
	MemUtil  float64 `json:"memUtil"`
	DiskUtil float64 `json:"diskUtil"`
}

func NewSystemPerformanceData(name, deviceID string, typeCategoryID, typeID int) *SystemPerformanceData {
	return &SystemPerformanceData{DataContext: newDataContext(name, deviceID, typeCategoryID, typeID)}
}

func (*SystemPerformanceData) Kind() Kind { return KindSystemPerformanceData }

// LogMessage is a debug, warning or error entry for system-status listeners.
type LogMessage struct {
	DataContext
	Level Kind   `json:"level"`
	Text  string `json:"text"`
	Cause error  `json:"-"`
}

func NewLogMessage(level Kind, text string, cause error) *LogMessage {
	if !level.IsLog() {
		level = KindDebugLog
	}
	return &LogMessage{
		DataContext: DataContext{Name: level.String(), TimeStamp: time.Now().UTC()},
		Level:       level,
		Text:        text,
		Cause:       cause,
	}
}

func (l *LogMessage) Kind() Kind {
	if l == nil {
		return KindDebugLog
	}
	return l.Level
}
