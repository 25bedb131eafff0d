package clients

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Base record fields.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldEmail       = "email"
	FieldCreated     = "created"
	FieldLastUpdated = "lastUpdated"

	// FieldServiceID is accepted on create to link the client. It is not
	// stored on the record.
	FieldServiceID = "serviceId"
)

// Record is a client document: base fields plus whatever the client's
// services declared.
type Record map[string]interface{}

// ID returns the record id, or "" if unset.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func encodeRecord(r Record) ([]byte, error) {
	return msgpack.Marshal(map[string]interface{}(r))
}

func decodeRecord(data []byte) (Record, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	return Record(m), nil
}
