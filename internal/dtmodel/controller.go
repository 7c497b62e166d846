package dtmodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
)

// ControllerID selects a model type: its schema document and part of a twin's identity.
type ControllerID int

const (
	Custom ControllerID = iota
	Thermostat
	Humidifier
	Barometer
	Hvac
	WindTurbine
	PowerSystem
	FluidStorage
	MediaSystem
	EdgeDevice
)

const (
	DtmiPrefix     = "dtmi:pdt:"
	DefaultVersion = 1
)

var controllerNames = map[ControllerID]string{
	Custom:       "custom",
	Thermostat:   "thermostat",
	Humidifier:   "humidifier",
	Barometer:    "barometer",
	Hvac:         "hvac",
	WindTurbine:  "windturbine",
	PowerSystem:  "powersystem",
	FluidStorage: "fluidstorage",
	MediaSystem:  "mediasystem",
	EdgeDevice:   "edgedevice",
}

func (c ControllerID) String() string {
	if n, ok := controllerNames[c]; ok {
		return n
	}
	return "controller(" + strconv.Itoa(int(c)) + ")"
}

var controllerTypes = map[ControllerID][2]int{
	Thermostat:   {model.EnvTypeCategory, model.HvacActuatorType},
	Humidifier:   {model.EnvTypeCategory, model.HumidifierActuatorType},
	Barometer:    {model.EnvTypeCategory, model.PressureSensorType},
	Hvac:         {model.EnvTypeCategory, model.HvacActuatorType},
	WindTurbine:  {model.PowerTypeCategory, model.WindTurbineRotationalSpeedSensorType},
	PowerSystem:  {model.PowerTypeCategory, model.WindTurbinePowerOutputSensorType},
	FluidStorage: {model.FluidTypeCategory, model.FluidPumpActuatorType},
	MediaSystem:  {model.MediaTypeCategory, model.MediaActuatorType},
	EdgeDevice:   {model.SystemTypeCategory, model.SystemPerfType},
}

// TypeIDs returns the type category and type ID stamped on commands for c.
func (c ControllerID) TypeIDs() (typeCategoryID, typeID int) {
	if t, ok := controllerTypes[c]; ok {
		return t[0], t[1]
	}
	return model.DefaultTypeCategoryID, model.DefaultTypeID
}

// ParseControllerID accepts the controller name in any case.
func ParseControllerID(s string) (ControllerID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for id, n := range controllerNames {
		if n == s {
			return id, nil
		}
	}
	return Custom, fmt.Errorf("unknown controller %q", s)
}

// ModelID builds the DTMI of a controller, e.g. dtmi:pdt:thermostat;1.
func ModelID(c ControllerID, version int) string {
	if version <= 0 {
		version = DefaultVersion
	}
	return fmt.Sprintf("%s%s;%d", DtmiPrefix, c, version)
}

// ControllerFromModelID maps a DTMI back to its controller. The last path
// segment before ";" is the controller name.
func ControllerFromModelID(dtmi string) (ControllerID, int, error) {
	if !strings.HasPrefix(dtmi, "dtmi:") {
		return Custom, 0, fmt.Errorf("not a dtmi: %q", dtmi)
	}
	body, ver, _ := strings.Cut(dtmi, ";")
	version := DefaultVersion
	if ver != "" {
		v, err := strconv.Atoi(ver)
		if err != nil {
			return Custom, 0, fmt.Errorf("bad dtmi version %q: %w", dtmi, err)
		}
		version = v
	}
	name := body[strings.LastIndex(body, ":")+1:]
	c, err := ParseControllerID(name)
	if err != nil {
		return Custom, version, err
	}
	return c, version, nil
}
