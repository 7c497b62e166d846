package dtmodel

import (
	"strings"

	"github.com/google/uuid"
)

// ModelKey is the identity of one model state. Two keys are equal when all
// fields are equal; InstanceID is empty unless a distinct instance was asked for.
type ModelKey struct {
	DeviceID     string
	LocationID   string
	ControllerID ControllerID
	InstanceID   string
}

// NewModelKey salts the key with a fresh uuid when useGUID is set.
func NewModelKey(deviceID, locationID string, c ControllerID, useGUID bool) ModelKey {
	k := ModelKey{
		DeviceID:     strings.TrimSpace(deviceID),
		LocationID:   strings.TrimSpace(locationID),
		ControllerID: c,
	}
	if useGUID {
		k.InstanceID = uuid.NewString()
	}
	return k
}

// keyEscaper makes every part of a sync key free of the "_" separator and of
// "/", so distinct keys always render to distinct strings.
var keyEscaper = strings.NewReplacer("%", "%25", "_", "%5F", "/", "%2F")

// SyncKey renders the key as deviceID_locationID_controller[_instanceID].
// Parts are escaped and an empty part stays empty, so the mapping is
// reversible.
func (k ModelKey) SyncKey() string {
	parts := []string{keyEscaper.Replace(k.DeviceID), keyEscaper.Replace(k.LocationID), k.ControllerID.String()}
	if k.InstanceID != "" {
		parts = append(parts, keyEscaper.Replace(k.InstanceID))
	}
	return strings.Join(parts, "_")
}

func (k ModelKey) String() string { return k.SyncKey() }
