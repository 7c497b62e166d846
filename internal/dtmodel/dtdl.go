package dtmodel

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Interface is the subset of a DTDL interface document the twins consume.
type Interface struct {
	ID          string          `json:"@id"`
	Type        StringList      `json:"@type"`
	Context     json.RawMessage `json:"@context,omitempty"`
	DisplayName LocalizedString `json:"displayName,omitempty"`
	Description LocalizedString `json:"description,omitempty"`
	Contents    []Content       `json:"contents"`
}

// Content is one entry of an interface's contents: a Property, Telemetry or Command.
type Content struct {
	Type        StringList      `json:"@type"`
	Name        string          `json:"name"`
	DisplayName LocalizedString `json:"displayName,omitempty"`
	Description LocalizedString `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Writable    bool            `json:"writable,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Comment     string          `json:"comment,omitempty"`
}

// Is reports whether the content carries the given @type, ignoring case.
func (c Content) Is(t string) bool {
	for _, x := range c.Type {
		if strings.EqualFold(x, t) {
			return true
		}
	}
	return false
}

// SchemaName is the primitive schema name, or the @type of a complex schema.
func (c Content) SchemaName() string {
	raw := bytes.TrimSpace(c.Schema)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Type StringList `json:"@type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Type) > 0 {
		return obj.Type[0]
	}
	return ""
}

// StringList decodes either a JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

// LocalizedString decodes a plain string or a language map. For maps the
// "en" entry wins, otherwise the first language in sorted order.
type LocalizedString string

func (s *LocalizedString) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = LocalizedString(one)
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if v, ok := m["en"]; ok {
		*s = LocalizedString(v)
		return nil
	}
	langs := make([]string, 0, len(m))
	for k := range m {
		langs = append(langs, k)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		*s = LocalizedString(m[langs[0]])
	}
	return nil
}

func parseInterface(raw []byte) (*Interface, error) {
	var iface Interface
	if err := json.Unmarshal(raw, &iface); err != nil {
		return nil, err
	}
	return &iface, nil
}
