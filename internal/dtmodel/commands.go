package dtmodel

import (
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// GenerateDeviceCommands collects the commands of every changed editor,
// each wrapped for the edge device command resource.
func GenerateDeviceCommands(editors []*PropertyEditor) []model.ResourceNameContainer {
	var out []model.ResourceNameContainer
	for _, e := range editors {
		if e == nil {
			continue
		}
		if data := e.GenerateCommand(); data != nil {
			out = append(out, model.NewResourceNameContainer(model.CommandResourceName, data.DeviceID, data))
		}
	}
	return out
}

// GenerateOutgoingStateUpdate wraps data as a command for the device this
// state is connected to. Missing identity fields are filled from the state.
func (s *ModelState) GenerateOutgoingStateUpdate(data *messages.ActuatorData) model.ResourceNameContainer {
	if data == nil {
		return model.ResourceNameContainer{}
	}
	if data.DeviceID == "" {
		data.DeviceID = s.GetConnectedDeviceID()
	}
	if data.LocationID == "" {
		data.LocationID = s.GetLocationID()
	}
	if data.TypeCategoryID == model.DefaultTypeCategoryID && data.TypeID == model.DefaultTypeID {
		data.TypeCategoryID, data.TypeID = s.GetModelControllerID().TypeIDs()
	}
	return model.NewResourceNameContainer(model.CommandResourceName, data.DeviceID, data)
}
