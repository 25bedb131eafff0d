// Package validate checks proposed client field updates against a service
// manifest.
package validate

import (
	"sort"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/schema"
)

// Update accepts or rejects a proposed update for a client linked to a
// service with manifest m.
//
// Every key must be declared in m, including keys the record already holds.
// Every value must match the declared type. A null value is an object, so
// it only fits object fields. A nil manifest means the client has no service
// context and every update is accepted.
//
// Keys are checked in sorted order so the reported field is deterministic.
func Update(clientID string, proposed map[string]interface{}, m manifest.Manifest) error {
	if m == nil {
		return nil
	}

	keys := make([]string, 0, len(proposed))
	for k := range proposed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		spec, ok := m.Field(key)
		if !ok {
			return errors.UnrecognizedField(key, errors.WithClientID(clientID))
		}

		if !schema.Matches(spec.Type, schema.ValueOf(proposed[key])) {
			return errors.TypeMismatch(key, spec.Type.String(), errors.WithClientID(clientID))
		}
	}
	return nil
}
