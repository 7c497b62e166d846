package dtmodel

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrNotWritable     = errors.New("property is not writable")
)

// unsetValue marks an editor that has never seen a value.
const unsetValue = -math.MaxFloat32

// PropertyEditor tracks the value a user entered for one writable property
// against the last value sent to the device.
type PropertyEditor struct {
	mu sync.Mutex

	state    *ModelState
	property ModelProperty

	prev    float64
	cur     float64
	valid   bool
	command int
	message string
}

// NewPropertyEditor binds an editor to a writable property or a command of st.
func NewPropertyEditor(st *ModelState, name string) (*PropertyEditor, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, name)
	}
	p, ok := st.GetModelProperty(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownProperty, name, st.GetModelSyncKey())
	}
	if p.Category() == CategoryTelemetry {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotWritable, name, st.GetModelSyncKey())
	}
	return &PropertyEditor{
		state:    st,
		property: p,
		prev:     unsetValue,
		cur:      unsetValue,
		command:  messages.CommandOn,
		message:  model.NotSet,
	}, nil
}

// NewPropertyEditors creates one editor per writable property and command of st.
func NewPropertyEditors(st *ModelState) []*PropertyEditor {
	names := append(st.GetModelPropertyKeys(), st.GetModelCommandKeys()...)
	out := make([]*PropertyEditor, 0, len(names))
	for _, n := range names {
		if e, err := NewPropertyEditor(st, n); err == nil {
			out = append(out, e)
		}
	}
	return out
}

func (e *PropertyEditor) Property() ModelProperty { return e.property }

func (e *PropertyEditor) State() *ModelState { return e.state }

// SetValueText parses text according to the property kind. Schedules accept
// a Go duration (stored in seconds) or a plain number. Input that does not
// parse leaves the editor unchanged and reports false.
func (e *PropertyEditor) SetValueText(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	v, err := e.parse(text)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.valid = false
		return false
	}
	e.cur = v
	e.valid = true
	return true
}

// ParseValueText reports whether text would be accepted by SetValueText,
// without changing the editor.
func (e *PropertyEditor) ParseValueText(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	v, err := e.parse(text)
	return v, err == nil
}

func (e *PropertyEditor) parse(text string) (float64, error) {
	if e.property.Kind == KindSchedule {
		if d, err := time.ParseDuration(text); err == nil {
			return d.Seconds(), nil
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("value out of range: %s", text)
	}
	return v, nil
}

// SetToggle selects CommandOn or CommandOff. For toggle properties the value
// follows the switch (1 or 0).
func (e *PropertyEditor) SetToggle(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.command = messages.CommandOff
	v := 0.0
	if on {
		e.command = messages.CommandOn
		v = 1
	}
	if e.property.Kind == KindToggle {
		e.cur = v
		e.valid = true
	}
}

// SetMessageState sets the free-text annotation sent with the next command.
func (e *PropertyEditor) SetMessageState(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = model.NotSet
	}
	e.mu.Lock()
	e.message = text
	e.mu.Unlock()
}

func (e *PropertyEditor) Value() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// IsChanged reports whether the current value differs from the last one
// turned into a command.
func (e *PropertyEditor) IsChanged() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changedLocked()
}

func (e *PropertyEditor) changedLocked() bool {
	return e.valid && e.cur != e.prev
}

// GenerateCommand returns a command for the current value, or nil when the
// value has not changed since the last command.
func (e *PropertyEditor) GenerateCommand() *messages.ActuatorData {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.changedLocked() {
		return nil
	}
	cat, typ := e.state.GetModelControllerID().TypeIDs()
	data := messages.NewActuatorData(e.property.Name, e.state.GetConnectedDeviceID(), cat, typ)
	data.LocationID = e.state.GetLocationID()
	data.Command = e.command
	data.Value = e.cur
	if e.message != model.NotSet {
		data.StateData = e.message
	}
	e.prev = e.cur
	return data
}
