package model

import "strings"

// Resource name segments. A resource name is PRODUCT/DEVICE/RESOURCE.
const (
	ProductName = "PDT"
	EdgeDevice  = "EdgeDevice"

	ActuatorCmd      = "ActuatorCmd"
	ActuatorResponse = "ActuatorResponse"
	SensorMsg        = "SensorMsg"
	SystemPerfMsg    = "SystemPerfMsg"
	ConnStateMsg     = "ConnStateMsg"
	MessageMsg       = "Msg"
)

const NotSet = "Not Set"

// Type categories.
const (
	DefaultTypeCategoryID = 0
	EnvTypeCategory       = 1000
	PowerTypeCategory     = 2000
	FluidTypeCategory     = 3000
	MediaTypeCategory     = 4000
	SystemTypeCategory    = 9000
)

// Type IDs.
const (
	DefaultTypeID = 0

	HvacActuatorType       = 1001
	HumidifierActuatorType = 1002
	FluidPumpActuatorType  = 1003
	MediaActuatorType      = 1004

	HumiditySensorType = 1010
	PressureSensorType = 1012
	TempSensorType     = 1013

	WindTurbineRotationalSpeedSensorType = 2001
	WindTurbinePowerOutputSensorType     = 2002
	WindTurbineAirSpeedSensorType        = 2003

	FluidLevelSensorType = 3001

	SystemPerfType = 9000
	CPUUtilType    = 9001
	DiskUtilType   = 9002
	MemUtilType    = 9003
)

// ResourceName joins non-empty parts with "/".
func ResourceName(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(strings.TrimSpace(p), "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// ResourceSuffix returns the last segment of a resource name or topic.
func ResourceSuffix(name string) string {
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// CommandResourceName is where twin commands for edge devices are published.
var CommandResourceName = ResourceName(ProductName, EdgeDevice, ActuatorCmd)
