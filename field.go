package loupe

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldKind is the closed set of field kinds a schema may declare.
type FieldKind int

const (
	FieldText FieldKind = iota
	FieldToggle
	FieldDropdown
	FieldRadio
	FieldTypeahead
	FieldDateTime
	FieldColor
	FieldPhoto
	FieldLocation
	FieldLocationBased
	FieldOAuth2
	FieldOAuth1
	FieldNotification
	FieldGenerated
)

// kinds maps wire names to kinds. The wire names are the ones the backend
// emits in the "type" property.
var kinds = map[string]FieldKind{
	"text":          FieldText,
	"onoff":         FieldToggle,
	"dropdown":      FieldDropdown,
	"radio":         FieldRadio,
	"typeahead":     FieldTypeahead,
	"datetime":      FieldDateTime,
	"color":         FieldColor,
	"png":           FieldPhoto,
	"location":      FieldLocation,
	"locationbased": FieldLocationBased,
	"oauth2":        FieldOAuth2,
	"oauth1":        FieldOAuth1,
	"notification":  FieldNotification,
	"generated":     FieldGenerated,
}

// ParseKind resolves a wire name.
func ParseKind(s string) (FieldKind, error) {
	k, ok := kinds[s]
	if !ok {
		return 0, fmt.Errorf("unsupported field type %q", s)
	}
	return k, nil
}

// String returns the wire name of the kind.
func (k FieldKind) String() string {
	switch k {
	case FieldText:
		return "text"
	case FieldToggle:
		return "onoff"
	case FieldDropdown:
		return "dropdown"
	case FieldRadio:
		return "radio"
	case FieldTypeahead:
		return "typeahead"
	case FieldDateTime:
		return "datetime"
	case FieldColor:
		return "color"
	case FieldPhoto:
		return "png"
	case FieldLocation:
		return "location"
	case FieldLocationBased:
		return "locationbased"
	case FieldOAuth2:
		return "oauth2"
	case FieldOAuth1:
		return "oauth1"
	case FieldNotification:
		return "notification"
	case FieldGenerated:
		return "generated"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the wire name.
func (k FieldKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a wire name, rejecting unknown kinds.
func (k *FieldKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Role describes how the engine treats a field of a given kind.
type Role int

const (
	// RoleInput is a plain control whose value the user sets directly.
	RoleInput Role = iota
	// RoleOptions calls a handler to populate transient option lists.
	RoleOptions
	// RoleExchange calls a handler whose result becomes the field's value.
	RoleExchange
	// RoleGenerator is never rendered; its handler produces the generated schema.
	RoleGenerator
	// RoleNotification groups nested fields and carries no value of its own.
	RoleNotification
	// RoleNone is reported for values outside the declared kinds.
	RoleNone
)

// Role returns the engine role of the kind.
func (k FieldKind) Role() Role {
	switch k {
	case FieldText, FieldToggle, FieldDropdown, FieldRadio, FieldDateTime,
		FieldColor, FieldPhoto, FieldLocation:
		return RoleInput
	case FieldTypeahead, FieldLocationBased:
		return RoleOptions
	case FieldOAuth2, FieldOAuth1:
		return RoleExchange
	case FieldGenerated:
		return RoleGenerator
	case FieldNotification:
		return RoleNotification
	default:
		return RoleNone
	}
}

// Choice is one entry of a dropdown, radio, or handler-produced list.
type Choice struct {
	Display string `json:"display" yaml:"display"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`
	Value   string `json:"value" yaml:"value"`
}

// FieldDescriptor is the schema-declared definition of one configuration input.
type FieldDescriptor struct {
	ID          string    `json:"id"`
	Kind        FieldKind `json:"type"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Default     string    `json:"default,omitempty"`
	Options     []Choice  `json:"options,omitempty"`
	Palette     []string  `json:"palette,omitempty"`
	Handler     string    `json:"handler,omitempty"`
	Source      string    `json:"source,omitempty"`

	ClientID              string   `json:"client_id,omitempty"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	Scopes                []string `json:"scopes,omitempty"`
}

// Renderable reports whether the field is shown as a control.
func (f FieldDescriptor) Renderable() bool {
	switch f.Kind.Role() {
	case RoleInput, RoleOptions, RoleExchange, RoleNotification:
		return true
	case RoleGenerator, RoleNone:
		return false
	default:
		return false
	}
}

// Schema is an ordered list of field descriptors.
type Schema struct {
	Version string            `json:"version"`
	Fields  []FieldDescriptor `json:"schema"`
}

// Field returns the descriptor with the given id.
func (s Schema) Field(id string) (FieldDescriptor, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// MarshalJSON always encodes the field list as an array, never null.
func (s Schema) MarshalJSON() ([]byte, error) {
	type plain Schema
	p := plain(s)
	if p.Fields == nil {
		p.Fields = []FieldDescriptor{}
	}
	return json.Marshal(p)
}

const schemaDocument = `{
  "type": "object",
  "required": ["schema"],
  "properties": {
    "version": {"type": "string"},
    "schema": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string"},
          "default": {"type": "string"},
          "handler": {"type": "string"},
          "source": {"type": "string"},
          "options": {"type": "array", "items": {"type": "object"}}
        }
      }
    }
  }
}`

var schemaShape = jsonschema.MustCompileString("loupe-schema.json", schemaDocument)

// DecodeSchema parses a schema document and checks its structural shape.
// Field content beyond shape is not validated.
func DecodeSchema(data []byte) (Schema, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Schema{}, &Error{Kind: KindDecode, Op: "decode schema", Err: err}
	}
	if err := schemaShape.Validate(doc); err != nil {
		return Schema{}, &Error{Kind: KindSchema, Op: "decode schema", Err: err}
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, &Error{Kind: KindSchema, Op: "decode schema", Err: err}
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, dup := seen[f.ID]; dup {
			return Schema{}, &Error{
				Kind: KindSchema,
				Op:   "decode schema",
				Err:  fmt.Errorf("duplicate field id %q", f.ID),
			}
		}
		seen[f.ID] = struct{}{}
	}
	return s, nil
}
