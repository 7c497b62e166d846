package twin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/programming-digital-twins/pdt-unity-components/internal/dtmodel"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model"
	"github.com/programming-digital-twins/pdt-unity-components/internal/model/messages"
)

// editorCache keeps one editor per property so that repeated edits only
// produce a command when the value changes. A model reload resets it.
type editorCache struct {
	mu      sync.Mutex
	gen     uint64
	editors map[string]map[string]*dtmodel.PropertyEditor
}

func (c *editorCache) get(reg *dtmodel.Registry, st *dtmodel.ModelState, name string) (*dtmodel.PropertyEditor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen := reg.LoadGeneration(); c.editors == nil || gen != c.gen {
		c.gen = gen
		c.editors = make(map[string]map[string]*dtmodel.PropertyEditor)
	}
	byName := c.editors[st.GetModelSyncKey()]
	if byName == nil {
		byName = make(map[string]*dtmodel.PropertyEditor)
		c.editors[st.GetModelSyncKey()] = byName
	}
	if e, ok := byName[name]; ok && e.State() == st {
		return e, nil
	}
	e, err := dtmodel.NewPropertyEditor(st, name)
	if err != nil {
		return nil, fmt.Errorf("edit %s: %w", name, err)
	}
	byName[name] = e
	return e, nil
}

// Editor returns the cached editor of property name on st.
func (m *Manager) Editor(st *dtmodel.ModelState, name string) (*dtmodel.PropertyEditor, error) {
	return m.editors.get(m.registry, st, name)
}

// EditResult is what ApplyEdits produced. Ignored names the edits whose value
// did not parse; they leave their editor unchanged.
type EditResult struct {
	Commands []model.ResourceNameContainer
	Ignored  []string
}

// ApplyEdits applies edits to the cached editors of st and returns the
// commands they produce. Editors whose value did not change produce none. A
// message sent alone on a message property goes out as a state update.
// Every editor is resolved and every value parsed before any editor changes,
// so an error leaves all editors as they were.
func (m *Manager) ApplyEdits(st *dtmodel.ModelState, edits []PropertyEdit) (EditResult, error) {
	var res EditResult
	editors := make([]*dtmodel.PropertyEditor, len(edits))
	skip := make([]bool, len(edits))
	for i, ed := range edits {
		e, err := m.Editor(st, ed.Name)
		if err != nil {
			return res, err
		}
		editors[i] = e
		if ed.Value != nil {
			if _, ok := e.ParseValueText(*ed.Value); !ok {
				skip[i] = true
				res.Ignored = append(res.Ignored, ed.Name)
			}
		}
	}

	var (
		touched []*dtmodel.PropertyEditor
		seen    = make(map[*dtmodel.PropertyEditor]bool)
	)
	for i, ed := range edits {
		if skip[i] {
			continue
		}
		e := editors[i]
		if ed.Toggle != nil {
			e.SetToggle(*ed.Toggle)
		}
		if ed.Message != nil {
			e.SetMessageState(*ed.Message)
		}
		if ed.Value != nil {
			e.SetValueText(*ed.Value)
		}
		if ed.Message != nil && ed.Value == nil && ed.Toggle == nil && e.Property().Kind == dtmodel.KindMessage {
			data := messages.NewActuatorData(ed.Name, "", model.DefaultTypeCategoryID, model.DefaultTypeID)
			data.Command = messages.CommandOn
			data.StateData = strings.TrimSpace(*ed.Message)
			res.Commands = append(res.Commands, st.GenerateOutgoingStateUpdate(data))
			continue
		}
		if !seen[e] {
			seen[e] = true
			touched = append(touched, e)
		}
	}
	res.Commands = append(res.Commands, dtmodel.GenerateDeviceCommands(touched)...)
	return res, nil
}
