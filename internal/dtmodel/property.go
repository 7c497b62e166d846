package dtmodel

import "strings"

// PropertyKind decides which editor a property gets and how its input is parsed.
type PropertyKind int

const (
	KindUndefined PropertyKind = iota
	KindValue
	KindToggle
	KindMessage
	KindSchedule
	KindCommand
)

func (k PropertyKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindToggle:
		return "toggle"
	case KindMessage:
		return "message"
	case KindSchedule:
		return "schedule"
	case KindCommand:
		return "command"
	default:
		return "undefined"
	}
}

func (k PropertyKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

type Category int

const (
	CategoryWritable Category = iota
	CategoryTelemetry
	CategoryCommand
)

func (c Category) String() string {
	switch c {
	case CategoryWritable:
		return "writable"
	case CategoryCommand:
		return "command"
	default:
		return "telemetry"
	}
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ModelProperty is one named entry of a model schema.
type ModelProperty struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"displayName,omitempty"`
	Description string       `json:"description,omitempty"`
	Kind        PropertyKind `json:"kind"`
	Schema      string       `json:"schema,omitempty"`
	Unit        string       `json:"unit,omitempty"`
	Writable    bool         `json:"writable"`
	Command     bool         `json:"command"`
}

// Category places the property in exactly one group. Read-only properties
// are reported as telemetry.
func (p ModelProperty) Category() Category {
	switch {
	case p.Command:
		return CategoryCommand
	case p.Writable:
		return CategoryWritable
	default:
		return CategoryTelemetry
	}
}

func kindForSchema(schema string) PropertyKind {
	switch strings.ToLower(schema) {
	case "boolean":
		return KindToggle
	case "double", "float", "integer", "long":
		return KindValue
	case "string":
		return KindMessage
	case "date", "datetime", "time", "duration":
		return KindSchedule
	default:
		return KindUndefined
	}
}

// propertyFromContent converts a Property, Telemetry or Command entry.
// Components and relationships are not properties.
func propertyFromContent(c Content) (ModelProperty, bool) {
	p := ModelProperty{
		Name:        c.Name,
		DisplayName: string(c.DisplayName),
		Description: string(c.Description),
		Schema:      c.SchemaName(),
		Unit:        c.Unit,
	}
	if p.DisplayName == "" {
		p.DisplayName = c.Name
	}
	switch {
	case c.Is("Command"):
		p.Kind = KindCommand
		p.Command = true
	case c.Is("Property"):
		p.Kind = kindForSchema(p.Schema)
		p.Writable = c.Writable
	case c.Is("Telemetry"):
		p.Kind = kindForSchema(p.Schema)
	default:
		return ModelProperty{}, false
	}
	return p, true
}
