package model

import (
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// Aliases for the message types most services need.

type (
	Message               = messages.Message
	DataContext           = messages.DataContext
	ActuatorData          = messages.ActuatorData
	ConnectionStateData   = messages.ConnectionStateData
	MessageData           = messages.MessageData
	SensorData            = messages.SensorData
	SystemPerformanceData = messages.SystemPerformanceData
)

const (
	CommandOn  = messages.CommandOn
	CommandOff = messages.CommandOff
)
