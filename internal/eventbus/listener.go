package eventbus

import (
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// DataContextListener receives data messages. Each handler gets the shared
// message and must not modify it.
type DataContextListener interface {
	HandleActuatorData(data *messages.ActuatorData) error
	HandleConnectionStateData(data *messages.ConnectionStateData) error
	HandleMessageData(data *messages.MessageData) error
	HandleSensorData(data *messages.SensorData) error
	HandleSystemPerformanceData(data *messages.SystemPerformanceData) error
}

// SystemStatusListener receives log entries and messaging connection updates.
type SystemStatusListener interface {
	LogDebugMessage(message string)
	LogWarningMessage(message string)
	LogErrorMessage(message string, cause error)
	OnMessagingSystemStatusUpdate(data *messages.ConnectionStateData)
}

// RemoteCommandProcessor accepts state updates headed for a physical device.
type RemoteCommandProcessor interface {
	HandleRemoteCommandRequest(resource model.ResourceNameContainer) bool
}

// DataContextFuncs adapts plain functions to DataContextListener. Nil fields
// ignore that kind. Register it by pointer.
type DataContextFuncs struct {
	OnActuatorData          func(*messages.ActuatorData) error
	OnConnectionStateData   func(*messages.ConnectionStateData) error
	OnMessageData           func(*messages.MessageData) error
	OnSensorData            func(*messages.SensorData) error
	OnSystemPerformanceData func(*messages.SystemPerformanceData) error
}

func (f *DataContextFuncs) HandleActuatorData(d *messages.ActuatorData) error {
	if f.OnActuatorData == nil {
		return nil
	}
	return f.OnActuatorData(d)
}

func (f *DataContextFuncs) HandleConnectionStateData(d *messages.ConnectionStateData) error {
	if f.OnConnectionStateData == nil {
		return nil
	}
	return f.OnConnectionStateData(d)
}

func (f *DataContextFuncs) HandleMessageData(d *messages.MessageData) error {
	if f.OnMessageData == nil {
		return nil
	}
	return f.OnMessageData(d)
}

func (f *DataContextFuncs) HandleSensorData(d *messages.SensorData) error {
	if f.OnSensorData == nil {
		return nil
	}
	return f.OnSensorData(d)
}

func (f *DataContextFuncs) HandleSystemPerformanceData(d *messages.SystemPerformanceData) error {
	if f.OnSystemPerformanceData == nil {
		return nil
	}
	return f.OnSystemPerformanceData(d)
}

// StatusFuncs adapts plain functions to SystemStatusListener. Register it by pointer.
type StatusFuncs struct {
	OnDebug        func(message string)
	OnWarning      func(message string)
	OnError        func(message string, cause error)
	OnStatusUpdate func(*messages.ConnectionStateData)
}

func (f *StatusFuncs) LogDebugMessage(message string) {
	if f.OnDebug != nil {
		f.OnDebug(message)
	}
}

func (f *StatusFuncs) LogWarningMessage(message string) {
	if f.OnWarning != nil {
		f.OnWarning(message)
	}
}

func (f *StatusFuncs) LogErrorMessage(message string, cause error) {
	if f.OnError != nil {
		f.OnError(message, cause)
	}
}

func (f *StatusFuncs) OnMessagingSystemStatusUpdate(d *messages.ConnectionStateData) {
	if f.OnStatusUpdate != nil {
		f.OnStatusUpdate(d)
	}
}
