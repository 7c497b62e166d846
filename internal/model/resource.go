package model

import (
	"encoding/json"
	"fmt"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// ResourceNameContainer pairs a topic/resource name with a typed payload.
type ResourceNameContainer struct {
	ResourceName string
	DeviceName   string
	DataContext  messages.Message
}

func NewResourceNameContainer(resourceName, deviceName string, data messages.Message) ResourceNameContainer {
	return ResourceNameContainer{ResourceName: resourceName, DeviceName: deviceName, DataContext: data}
}

// IsActuationRequest reports whether the envelope carries a command for a device.
func (r ResourceNameContainer) IsActuationRequest() bool {
	if r.ResourceName == "" || messages.IsNil(r.DataContext) {
		return false
	}
	ad, ok := r.DataContext.(*messages.ActuatorData)
	return ok && !ad.IsResponse
}

func (r ResourceNameContainer) String() string {
	kind := messages.KindUnknown
	if !messages.IsNil(r.DataContext) {
		kind = r.DataContext.Kind()
	}
	return fmt.Sprintf("%s [device=%s kind=%s]", r.ResourceName, r.DeviceName, kind)
}

type resourceWire struct {
	ResourceName string          `json:"resourceName"`
	DeviceName   string          `json:"deviceName"`
	Kind         string          `json:"kind,omitempty"`
	DataContext  json.RawMessage `json:"dataContext,omitempty"`
}

func (r ResourceNameContainer) MarshalJSON() ([]byte, error) {
	w := resourceWire{ResourceName: r.ResourceName, DeviceName: r.DeviceName}
	if !messages.IsNil(r.DataContext) {
		b, err := messages.Encode(r.DataContext)
		if err != nil {
			return nil, err
		}
		w.Kind = r.DataContext.Kind().String()
		w.DataContext = b
	}
	return json.Marshal(w)
}

func (r *ResourceNameContainer) UnmarshalJSON(b []byte) error {
	var w resourceWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	r.ResourceName = w.ResourceName
	r.DeviceName = w.DeviceName
	r.DataContext = nil
	if len(w.DataContext) == 0 || string(w.DataContext) == "null" {
		return nil
	}
	m, err := messages.Decode(messages.ParseKind(w.Kind), w.DataContext)
	if err != nil {
		return fmt.Errorf("resource %s: %w", w.ResourceName, err)
	}
	r.DataContext = m
	return nil
}
