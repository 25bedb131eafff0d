// Package manifest owns the per-service field schemas that drive client
// validation and readiness.
//
// A manifest is an ordered list of FieldSpecs with unique names. Registering
// fields for a service merges them into its manifest by name: a known name is
// replaced in place, a new name is appended. Manifests only grow.
package manifest

import (
	"fmt"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/schema"
)

// FieldSpec declares one field a service accepts on client records.
type FieldSpec struct {
	// Name is the record key. Unique within a manifest.
	Name string `json:"field" yaml:"field" validate:"required"`

	// Required fields must be present for the client to be ready.
	Required bool `json:"required" yaml:"required"`

	// Type constrains the value. TypeAny means unconstrained.
	Type schema.FieldType `json:"type,omitempty" yaml:"type,omitempty"`

	// Default is written onto the record by readiness evaluation when a
	// required field is absent. nil means no default.
	Default interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// HasDefault reports whether the spec declares a default value.
func (f FieldSpec) HasDefault() bool {
	return f.Default != nil
}

// Manifest is the ordered field schema of one service.
type Manifest []FieldSpec

// Field returns the spec named name.
func (m Manifest) Field(name string) (FieldSpec, bool) {
	for _, f := range m {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Names returns the field names in registration order.
func (m Manifest) Names() []string {
	names := make([]string, len(m))
	for i, f := range m {
		names[i] = f.Name
	}
	return names
}

// Clone returns a copy that shares no slice storage with m.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	copy(out, m)
	return out
}

// Merge returns m with fields merged in by name. Existing names keep their
// position and take the new spec; new names are appended in the order given.
func Merge(m Manifest, fields []FieldSpec) Manifest {
	out := m.Clone()
	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.Name] = i
	}
	for _, f := range fields {
		if i, ok := index[f.Name]; ok {
			out[i] = f
			continue
		}
		index[f.Name] = len(out)
		out = append(out, f)
	}
	return out
}

// CheckFields validates a registration batch for serviceID.
func CheckFields(serviceID string, fields []FieldSpec) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return errors.InvalidInput(fmt.Sprintf("field %d has no name", i),
				errors.WithServiceID(serviceID))
		}
		if seen[f.Name] {
			return errors.InvalidInput(fmt.Sprintf("duplicate field %q in manifest", f.Name),
				errors.WithServiceID(serviceID),
				errors.WithMetadata(errors.MetaField, f.Name))
		}
		seen[f.Name] = true

		if f.HasDefault() && !schema.Matches(f.Type, schema.ValueOf(f.Default)) {
			return errors.InvalidInput(
				fmt.Sprintf("default for field %s does not match type %s", f.Name, f.Type),
				errors.WithServiceID(serviceID),
				errors.WithMetadata(errors.MetaField, f.Name),
				errors.WithMetadata(errors.MetaExpectedType, f.Type.String()))
		}
	}
	return nil
}
