// Package clients manages client records, their service links and the
// readiness of a client for a service.
//
// Records live in a store.Store, msgpack-encoded under client.<id>; the
// client's linked service lives under link.<id>. Every operation that reads
// and writes one client holds that client's lock for the whole read-modify-
// write, so an update can never interleave with default materialization.
package clients

import (
	stderrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/internal/keylock"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/readiness"
	"github.com/vinayprograms/clienthub/schema"
	"github.com/vinayprograms/clienthub/store"
	"github.com/vinayprograms/clienthub/validate"
)

const (
	clientPrefix = "client."
	linkPrefix   = "link."
)

// Ids are escaped into a single key segment, so any string is a usable id.
func clientKey(id string) string { return clientPrefix + store.Token(id) }

func linkKey(id string) string { return linkPrefix + store.Token(id) }

// Service is the client registry.
type Service struct {
	store     store.Store
	manifests *manifest.Registry
	locks     *keylock.Map
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a client registry over st, validating against manifests.
func NewService(st store.Store, manifests *manifest.Registry, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		store:     st,
		manifests: manifests,
		locks:     keylock.New(),
		logger:    logger.WithComponent("clients"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Manifests returns the manifest registry the service validates against.
func (s *Service) Manifests() *manifest.Registry {
	return s.manifests
}

// Create stores a new client record from data.
//
// email is mandatory. A missing id is generated. A serviceId entry links the
// client to that service and is not kept on the record. Creating an existing
// id replaces the record.
func (s *Service) Create(data map[string]interface{}) (Record, error) {
	email, ok := data[FieldEmail]
	if !ok || email == nil || email == "" {
		return nil, errors.MissingRequiredField(FieldEmail)
	}
	if _, isString := email.(string); !isString {
		return nil, errors.TypeMismatch(FieldEmail, "string")
	}

	rec := make(Record, len(data)+2)
	for k, v := range data {
		if k == FieldServiceID {
			continue
		}
		rec[k] = v
	}

	id := rec.ID()
	if raw, present := rec[FieldID]; present && id == "" {
		return nil, errors.InvalidInput("client id must be a non-empty string",
			errors.WithMetadata(errors.MetaField, FieldID), errors.WithMetadata("got", typeName(raw)))
	}
	if id == "" {
		id = uuid.NewString()
		rec[FieldID] = id
	}

	var serviceID string
	if sid, present := data[FieldServiceID]; present && sid != nil {
		str, ok := sid.(string)
		if !ok {
			return nil, errors.TypeMismatch(FieldServiceID, "string")
		}
		serviceID = str
	}

	stamp := s.timestamp()
	rec[FieldCreated] = stamp
	rec[FieldLastUpdated] = stamp

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.save(rec); err != nil {
		return nil, err
	}
	if serviceID != "" {
		if err := s.putLink(id, serviceID); err != nil {
			return nil, err
		}
	}

	s.logger.ClientCreated(id, serviceID)
	return rec.Clone(), nil
}

// Get returns the client record, or nil if it does not exist.
func (s *Service) Get(id string) (Record, error) {
	if id == "" {
		return nil, nil
	}
	rec, err := s.load(id)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec, nil
}

// Update validates updates against the client's service manifest and merges
// them into the record. serviceID, when non-empty, overrides the linked
// service. Updating a client that does not exist is a no-op.
func (s *Service) Update(id string, updates map[string]interface{}, serviceID string) error {
	if id == "" {
		return errors.InvalidInput("client id is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.load(id)
	if err != nil || rec == nil {
		return err
	}

	m, err := s.manifestFor(id, serviceID)
	if err != nil {
		return err
	}
	if err := validate.Update(id, updates, m); err != nil {
		return err
	}

	for k, v := range updates {
		rec[k] = v
	}
	rec[FieldLastUpdated] = s.timestamp()
	if err := s.save(rec); err != nil {
		return err
	}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	s.logger.ClientUpdated(id, keys)
	return nil
}

// Delete removes the client and its link. Deleting a missing client succeeds.
func (s *Service) Delete(id string) error {
	if id == "" {
		return errors.InvalidInput("client id is required")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.store.Delete(clientKey(id)); err != nil {
		return storeError(err, "delete client", id)
	}
	if err := s.store.Delete(linkKey(id)); err != nil {
		return storeError(err, "delete link", id)
	}

	s.logger.ClientDeleted(id)
	return nil
}

// EvaluateAndMaterialize computes readiness of the client for a service and
// writes any applied defaults onto the record.
//
// serviceID, when non-empty, overrides the linked service. A missing client
// or an unresolvable service is reported through the readiness sentinels, not
// as an error. The read, the evaluation and the default write happen under
// the client's lock.
func (s *Service) EvaluateAndMaterialize(clientID, serviceID string) (readiness.Result, error) {
	if clientID == "" {
		return readiness.NotFound(), nil
	}

	unlock := s.locks.Lock(clientID)
	defer unlock()

	rec, err := s.load(clientID)
	if err != nil {
		return readiness.Result{}, err
	}
	if rec == nil {
		return readiness.NotFound(), nil
	}

	resolved, err := s.resolveService(clientID, serviceID)
	if err != nil {
		return readiness.Result{}, err
	}
	if resolved == "" {
		return readiness.NotLinked(), nil
	}

	m, err := s.manifests.Get(resolved)
	if err != nil {
		return readiness.Result{}, err
	}

	res, patch := readiness.Evaluate(rec, m)
	if patch.Apply(rec) {
		rec[FieldLastUpdated] = s.timestamp()
		if err := s.save(rec); err != nil {
			return readiness.Result{}, err
		}
	}

	s.logger.Readiness(clientID, resolved, res.Ready, res.MissingFields, len(res.UsedDefaults))
	return res, nil
}

// Link associates a client with a service, replacing any previous link.
func (s *Service) Link(clientID, serviceID string) error {
	if clientID == "" || serviceID == "" {
		return errors.InvalidInput("client id and service id are required")
	}
	unlock := s.locks.Lock(clientID)
	defer unlock()
	return s.putLink(clientID, serviceID)
}

// LinkedService returns the service the client is linked to, or "".
func (s *Service) LinkedService(clientID string) (string, error) {
	if clientID == "" {
		return "", nil
	}
	return s.resolveService(clientID, "")
}

// IDs returns all client ids, sorted.
func (s *Service) IDs() ([]string, error) {
	keys, err := s.store.Keys(clientPrefix + "*")
	if err != nil {
		return nil, storeError(err, "list clients", "")
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, store.ParseToken(k[len(clientPrefix):]))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Service) resolveService(clientID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	data, err := s.store.Get(linkKey(clientID))
	if stderrors.Is(err, store.ErrNotFound) || stderrors.Is(err, store.ErrInvalidKey) {
		return "", nil
	}
	if err != nil {
		return "", storeError(err, "load link", clientID)
	}
	return string(data), nil
}

// manifestFor returns the manifest validating updates for a client, or nil
// when the client has no service or the service never registered one.
func (s *Service) manifestFor(clientID, explicit string) (manifest.Manifest, error) {
	serviceID, err := s.resolveService(clientID, explicit)
	if err != nil || serviceID == "" {
		return nil, err
	}
	m, ok, err := s.manifests.Lookup(serviceID)
	if err != nil || !ok {
		return nil, err
	}
	return m, nil
}

func (s *Service) load(id string) (Record, error) {
	data, err := s.store.Get(clientKey(id))
	if stderrors.Is(err, store.ErrNotFound) || stderrors.Is(err, store.ErrInvalidKey) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err, "load client", id)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCorruption, "decode client", errors.WithClientID(id))
	}
	return rec, nil
}

func (s *Service) save(rec Record) error {
	id := rec.ID()
	data, err := encodeRecord(rec)
	if err != nil {
		return errors.Wrap(err, "encode client", errors.WithClientID(id))
	}
	if err := s.store.Put(clientKey(id), data); err != nil {
		return storeError(err, "save client", id)
	}
	return nil
}

func (s *Service) putLink(clientID, serviceID string) error {
	if err := s.store.Put(linkKey(clientID), []byte(serviceID)); err != nil {
		return storeError(err, "save link", clientID)
	}
	return nil
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func storeError(err error, op, clientID string) error {
	if stderrors.Is(err, store.ErrInvalidKey) {
		return errors.InvalidInput("invalid client id", errors.WithClientID(clientID), errors.WithCause(err))
	}
	var opts []errors.Option
	if clientID != "" {
		opts = append(opts, errors.WithClientID(clientID))
	}
	return errors.Wrap(err, op, opts...)
}

func typeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	return schema.ValueOf(v).Kind.String()
}
