// Package readiness decides whether a client record satisfies a service
// manifest.
//
// Evaluate is pure: it never touches the record. Defaults that should be
// materialized come back as a Patch, and the caller applies it inside the
// same critical section it read the record in.
package readiness

import (
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/schema"
)

// Sentinels reported in MissingFields when evaluation cannot run. They are
// terminal states, not field names.
const (
	ClientNotFound     = "clientNotFound"
	ServiceIDNotLinked = "serviceIdNotLinked"
)

// Result is the readiness of one client for one service.
type Result struct {
	Ready         bool                   `json:"ready" msgpack:"ready"`
	MissingFields []string               `json:"missingFields" msgpack:"missingFields"`
	UsedDefaults  map[string]interface{} `json:"usedDefaults,omitempty" msgpack:"usedDefaults,omitempty"`
}

// Patch holds default values to write onto the record.
type Patch map[string]interface{}

// NotFound is the result for a client that does not exist.
func NotFound() Result {
	return Result{Ready: false, MissingFields: []string{ClientNotFound}}
}

// NotLinked is the result for a client with no resolvable service.
func NotLinked() Result {
	return Result{Ready: false, MissingFields: []string{ServiceIDNotLinked}}
}

// Evaluate walks m in registration order against record.
//
// A required field that is absent takes its default if one is declared,
// otherwise it is missing. A present field whose value does not match the
// declared type is missing too, required or not. A null value is present
// and classified as an object. Absent optional fields are never reported.
func Evaluate(record map[string]interface{}, m manifest.Manifest) (Result, Patch) {
	missing := make([]string, 0)
	patch := Patch{}

	for _, f := range m {
		value, present := record[f.Name]

		switch {
		case !present && f.Required:
			if f.HasDefault() {
				patch[f.Name] = f.Default
			} else {
				missing = append(missing, f.Name)
			}
		case present && !schema.Matches(f.Type, schema.ValueOf(value)):
			missing = append(missing, f.Name)
		}
	}

	res := Result{
		Ready:         len(missing) == 0,
		MissingFields: missing,
	}
	if len(patch) > 0 {
		res.UsedDefaults = make(map[string]interface{}, len(patch))
		for k, v := range patch {
			res.UsedDefaults[k] = v
		}
	}
	return res, patch
}

// Apply writes patch onto record and reports whether anything changed.
func (p Patch) Apply(record map[string]interface{}) bool {
	for k, v := range p {
		record[k] = v
	}
	return len(p) > 0
}
