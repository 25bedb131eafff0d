// Package rpc exposes the client registry and the mailbox as JSON-RPC 2.0
// methods.
//
// The method table is built once by NewDispatcher. Every handler binds its
// params, calls into clients.Service or mailbox.Queue and returns a JSON
// encodable result. Errors are mapped onto JSON-RPC codes by ToRPCError.
package rpc

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/clienthub/clients"
	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/mailbox"
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/telemetry"
	"github.com/vinayprograms/clienthub/transport"
)

// DefaultServiceID receives sendMessage traffic for clients with no linked
// service.
const DefaultServiceID = "default"

// Handler serves one method.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// Dispatcher routes JSON-RPC requests to handlers.
type Dispatcher struct {
	clients *clients.Service
	queue   *mailbox.Queue
	logger  *logging.Logger
	tracer  *telemetry.Tracer
	methods map[string]Handler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracer sets the tracer used for per-call spans. Defaults to the
// global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher builds the method table over a client registry and a
// mailbox queue.
func NewDispatcher(svc *clients.Service, queue *mailbox.Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clients: svc,
		queue:   queue,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("rpc")
	if d.tracer == nil {
		d.tracer = telemetry.GetTracer()
	}

	d.methods = map[string]Handler{
		"ping":                    d.ping,
		"createClient":            d.createClient,
		"getClient":               d.getClient,
		"updateClientData":        d.updateClientData,
		"deleteClient":            d.deleteClient,
		"getClientReadiness":      d.getClientReadiness,
		"registerServiceManifest": d.registerServiceManifest,
		"updateServiceManifest":   d.updateServiceManifest,
		"getServiceManifest":      d.getServiceManifest,
		"describeServiceManifest": d.describeServiceManifest,
		"listServiceManifests":    d.listServiceManifests,
		"enqueueMessage":          d.enqueueMessage,
		"sendMessage":             d.sendMessage,
		"acknowledgeMessage":      d.acknowledgeMessage,
		"getPendingMessages":      d.getPendingMessages,
		"reconnectService":        d.reconnectService,
	}
	return d
}

// Methods returns the registered method names, sorted.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle serves one request. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, req *transport.Request) *transport.Response {
	result, err := d.Call(ctx, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return transport.NewError(req.ID, ToRPCError(err))
	}
	return transport.NewResult(req.ID, result)
}

// Call invokes method with raw params. Panics in handlers come back as
// PANIC errors.
func (d *Dispatcher) Call(ctx context.Context, method string, params json.RawMessage) (result interface{}, err error) {
	ctx, span := d.tracer.StartRPCSpan(ctx, method)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, errors.RecoverPanic(r)
		}
		d.logger.RPCCall(method, time.Since(start), err)
		telemetry.EndSpan(span, err)
	}()

	h, ok := d.methods[method]
	if !ok {
		return nil, &transport.Error{Code: transport.MethodNotFound, Message: "Method " + method + " not found"}
	}
	return h(ctx, params)
}

func (d *Dispatcher) ping(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return "pong", nil
}

func (d *Dispatcher) createClient(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var data map[string]interface{}
	if err := BindSingle(params, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.InvalidInput("Invalid params: client data must be an object")
	}
	return d.clients.Create(data)
}

func (d *Dispatcher) getClient(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p clientParams
	if err := Bind(params, []string{"id"}, &p); err != nil {
		return nil, err
	}
	return d.clients.Get(p.ID)
}

func (d *Dispatcher) updateClientData(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p updateParams
	if err := Bind(params, []string{"id", "updates", "serviceId"}, &p); err != nil {
		return nil, err
	}
	_, span := d.tracer.StartClientSpan(ctx, "clients.update", p.ID, p.ServiceID)
	err := d.clients.Update(p.ID, p.Updates, p.ServiceID)
	telemetry.EndSpan(span, err)
	return nil, err
}

func (d *Dispatcher) deleteClient(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p clientParams
	if err := Bind(params, []string{"id"}, &p); err != nil {
		return nil, err
	}
	return nil, d.clients.Delete(p.ID)
}

func (d *Dispatcher) getClientReadiness(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p readinessParams
	if err := Bind(params, []string{"clientId", "serviceId"}, &p); err != nil {
		return nil, err
	}
	_, span := d.tracer.StartClientSpan(ctx, "clients.readiness", p.ClientID, p.ServiceID)
	res, err := d.clients.EvaluateAndMaterialize(p.ClientID, p.ServiceID)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Dispatcher) registerServiceManifest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p manifestParams
	if err := Bind(params, []string{"serviceId", "fields"}, &p); err != nil {
		return nil, err
	}
	m, err := d.clients.Manifests().Register(p.ServiceID, p.Fields)
	if err != nil {
		return nil, err
	}
	return nonNil(m), nil
}

func (d *Dispatcher) updateServiceManifest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p manifestParams
	if err := Bind(params, []string{"serviceId", "fields"}, &p); err != nil {
		return nil, err
	}
	m, err := d.clients.Manifests().Update(p.ServiceID, p.Fields)
	if err != nil {
		return nil, err
	}
	return nonNil(m), nil
}

func (d *Dispatcher) getServiceManifest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceParams
	if err := Bind(params, []string{"serviceId"}, &p); err != nil {
		return nil, err
	}
	m, err := d.clients.Manifests().Get(p.ServiceID)
	if err != nil {
		return nil, err
	}
	return nonNil(m), nil
}

func (d *Dispatcher) describeServiceManifest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceParams
	if err := Bind(params, []string{"serviceId"}, &p); err != nil {
		return nil, err
	}
	m, err := d.clients.Manifests().Get(p.ServiceID)
	if err != nil {
		return nil, err
	}
	return manifest.JSONSchema(p.ServiceID, m), nil
}

func (d *Dispatcher) listServiceManifests(ctx context.Context, params json.RawMessage) (interface{}, error) {
	services, err := d.clients.Manifests().Services()
	if err != nil {
		return nil, err
	}
	if services == nil {
		services = []string{}
	}
	return services, nil
}

func (d *Dispatcher) enqueueMessage(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p enqueueParams
	if err := Bind(params, []string{"serviceId", "clientId", "body", "id"}, &p); err != nil {
		return nil, err
	}
	_, span := d.tracer.StartMailboxSpan(ctx, "enqueue", p.ServiceID, p.ClientID, p.ID)
	_, err := d.queue.Enqueue(p.ServiceID, p.ClientID, p.Body, p.ID)
	telemetry.EndSpan(span, err)
	return nil, err
}

// sendMessage queues a message under a fresh id, addressed to the client's
// linked service.
func (d *Dispatcher) sendMessage(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p sendParams
	if err := BindSingle(params, &p); err != nil {
		return nil, err
	}

	serviceID := p.ServiceID
	if serviceID == "" {
		linked, err := d.clients.LinkedService(p.ClientID)
		if err != nil {
			return nil, err
		}
		serviceID = linked
	}
	if serviceID == "" {
		serviceID = DefaultServiceID
	}

	id := uuid.NewString()
	_, span := d.tracer.StartMailboxSpan(ctx, "send", serviceID, p.ClientID, id)
	_, err := d.queue.Enqueue(serviceID, p.ClientID, p.Message, id)
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return "queued", nil
}

func (d *Dispatcher) acknowledgeMessage(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p ackParams
	if err := Bind(params, []string{"serviceId", "clientId", "messageId"}, &p); err != nil {
		return nil, err
	}
	_, span := d.tracer.StartMailboxSpan(ctx, "ack", p.ServiceID, p.ClientID, p.MessageID)
	_, err := d.queue.Acknowledge(p.ServiceID, p.ClientID, p.MessageID)
	telemetry.EndSpan(span, err)
	return nil, err
}

func (d *Dispatcher) getPendingMessages(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p MailboxParams
	if err := Bind(params, MailboxParamNames, &p); err != nil {
		return nil, err
	}
	return d.queue.Pending(p.ServiceID, p.ClientID)
}

func (d *Dispatcher) reconnectService(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p serviceParams
	if err := Bind(params, []string{"serviceId"}, &p); err != nil {
		return nil, err
	}
	return nil, d.queue.Reconnect(p.ServiceID)
}

func nonNil(m manifest.Manifest) manifest.Manifest {
	if m == nil {
		return manifest.Manifest{}
	}
	return m
}
