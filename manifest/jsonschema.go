package manifest

import (
	"github.com/invopop/jsonschema"

	"github.com/vinayprograms/clienthub/schema"
)

// JSONSchema renders a manifest as a JSON Schema object describing the
// client fields the service accepts. Undeclared properties are rejected,
// mirroring the closed-world update policy.
func JSONSchema(serviceID string, m Manifest) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string

	for _, f := range m {
		prop := fieldSchema(f.Type)
		if f.HasDefault() {
			prop.Default = f.Default
		}
		props.Set(f.Name, prop)
		if f.Required {
			required = append(required, f.Name)
		}
	}

	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		ID:                   jsonschema.ID("urn:clienthub:manifest:" + serviceID),
		Title:                serviceID,
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func fieldSchema(t schema.FieldType) *jsonschema.Schema {
	switch t {
	case schema.TypeString:
		return &jsonschema.Schema{Type: "string"}
	case schema.TypeNumber:
		return &jsonschema.Schema{Type: "number"}
	case schema.TypeBoolean:
		return &jsonschema.Schema{Type: "boolean"}
	case schema.TypeObject:
		// Arrays and null classify as objects too.
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{
			{Type: "object"},
			{Type: "array"},
			{Type: "null"},
		}}
	default:
		return &jsonschema.Schema{}
	}
}
