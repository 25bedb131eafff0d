package manifest

import (
	"encoding/json"
	stderrors "errors"
	"sort"
	"strings"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/internal/keylock"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/store"
)

const keyPrefix = "manifest."

func manifestKey(serviceID string) string { return keyPrefix + store.Token(serviceID) }

// record is the stored form of a manifest.
type record struct {
	Service string      `json:"service"`
	Fields  []FieldSpec `json:"fields"`
}

// Registry maps service ids to manifests, persisted in a store.Store.
// Writes to one service are serialized; different services never contend.
type Registry struct {
	store  store.Store
	locks  *keylock.Map
	logger *logging.Logger
}

// NewRegistry creates a registry over s.
func NewRegistry(s store.Store, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		store:  s,
		locks:  keylock.New(),
		logger: logger.WithComponent("manifest"),
	}
}

// Register merges fields into the manifest for serviceID, creating it if
// needed, and returns the resulting manifest.
//
// It fails with INVALID_INPUT when the batch names a field twice, has an
// unnamed field, or declares a default of the wrong type. Nothing is written
// on failure.
func (r *Registry) Register(serviceID string, fields []FieldSpec) (Manifest, error) {
	if serviceID == "" {
		return nil, errors.InvalidInput("service id is required")
	}
	if err := CheckFields(serviceID, fields); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(serviceID)
	defer unlock()

	current, _, err := r.load(serviceID)
	if err != nil {
		return nil, err
	}
	merged := Merge(current, fields)

	data, err := json.Marshal(record{Service: serviceID, Fields: merged})
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest", errors.WithServiceID(serviceID))
	}
	if err := r.store.Put(manifestKey(serviceID), data); err != nil {
		return nil, storeError(err, "save manifest", serviceID)
	}

	r.logger.ManifestRegistered(serviceID, len(merged))
	return merged.Clone(), nil
}

// Update is Register: manifests are extended, never replaced.
func (r *Registry) Update(serviceID string, fields []FieldSpec) (Manifest, error) {
	return r.Register(serviceID, fields)
}

// Get returns the manifest for serviceID, or an empty manifest if the
// service never registered.
func (r *Registry) Get(serviceID string) (Manifest, error) {
	m, _, err := r.Lookup(serviceID)
	if m == nil {
		m = Manifest{}
	}
	return m, err
}

// Lookup returns the manifest for serviceID and whether one was registered.
func (r *Registry) Lookup(serviceID string) (Manifest, bool, error) {
	if serviceID == "" {
		return nil, false, nil
	}
	return r.load(serviceID)
}

// Services returns the registered service ids, sorted.
func (r *Registry) Services() ([]string, error) {
	keys, err := r.store.Keys(keyPrefix + "*")
	if err != nil {
		return nil, storeError(err, "list manifests", "")
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, store.ParseToken(strings.TrimPrefix(k, keyPrefix)))
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset removes every manifest. Intended for test isolation.
func (r *Registry) Reset() error {
	ids, err := r.Services()
	if err != nil {
		return err
	}
	for _, id := range ids {
		unlock := r.locks.Lock(id)
		err := r.store.Delete(manifestKey(id))
		unlock()
		if err != nil {
			return storeError(err, "delete manifest", id)
		}
	}
	return nil
}

func (r *Registry) load(serviceID string) (Manifest, bool, error) {
	data, err := r.store.Get(manifestKey(serviceID))
	if stderrors.Is(err, store.ErrNotFound) || stderrors.Is(err, store.ErrInvalidKey) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError(err, "load manifest", serviceID)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decode manifest",
			errors.WithServiceID(serviceID))
	}
	return Manifest(rec.Fields), true, nil
}

func storeError(err error, op, serviceID string) error {
	if stderrors.Is(err, store.ErrInvalidKey) {
		return errors.InvalidInput("invalid service id", errors.WithServiceID(serviceID), errors.WithCause(err))
	}
	opts := []errors.Option{}
	if serviceID != "" {
		opts = append(opts, errors.WithServiceID(serviceID))
	}
	return errors.Wrap(err, op, opts...)
}
