// Package mailbox holds per (service, client) message queues with
// at-least-once delivery.
//
// A mailbox keeps messages in arrival order until they are acknowledged.
// Enqueue deduplicates by message id, acknowledgment is idempotent, and
// redelivery is simply reading Pending again: messages stay put whether or
// not a consumer is connected.
//
// Each mailbox has its own lock. Bus notifications are published after the
// lock is released.
package mailbox

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/vinayprograms/clienthub/bus"
	"github.com/vinayprograms/clienthub/logging"
)

// ErrInvalidKey is returned for an empty service, client or message id.
var ErrInvalidKey = errors.New("mailbox: service, client and message ids must be non-empty")

// Message is one queued message. It is never modified once stored.
type Message struct {
	ID         string    `json:"id"`
	Body       string    `json:"body"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Notification kinds.
const (
	KindEnqueued  = "enqueued"
	KindReconnect = "reconnect"
)

// Notification is the bus payload announcing mailbox activity.
type Notification struct {
	Kind      string `json:"kind"`
	ServiceID string `json:"serviceId"`
	ClientID  string `json:"clientId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Subject returns the bus subject carrying enqueue notifications for one
// mailbox.
func Subject(serviceID, clientID string) string {
	return "mailbox." + bus.Token(serviceID) + ".msg." + bus.Token(clientID)
}

// ReconnectSubject returns the bus subject carrying reconnect signals for
// a service.
func ReconnectSubject(serviceID string) string {
	return "mailbox." + bus.Token(serviceID) + ".reconnect"
}

type key struct {
	service string
	client  string
}

// box is one mailbox. A box is dead once it has been removed from the
// queue; writers that find a dead box look it up again.
type box struct {
	mu   sync.Mutex
	msgs []Message
	ids  map[string]struct{}
	last time.Time
	dead bool
}

// Queue is the set of all mailboxes.
type Queue struct {
	mu    sync.Mutex
	boxes map[key]*box

	bus    bus.MessageBus
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithBus publishes notifications on b.
func WithBus(b bus.MessageBus) Option {
	return func(q *Queue) { q.bus = b }
}

// WithLogger sets the queue logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.logger = l.WithComponent("mailbox") }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		boxes:  make(map[key]*box),
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) box(serviceID, clientID string, create bool) *box {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{serviceID, clientID}
	b, ok := q.boxes[k]
	if !ok && create {
		b = &box{ids: make(map[string]struct{})}
		q.boxes[k] = b
	}
	return b
}

// Enqueue appends a message unless one with the same id is already pending.
// It reports whether the message was added.
func (q *Queue) Enqueue(serviceID, clientID, body, id string) (bool, error) {
	if serviceID == "" || clientID == "" || id == "" {
		return false, ErrInvalidKey
	}

	var b *box
	for {
		b = q.box(serviceID, clientID, true)
		b.mu.Lock()
		if !b.dead {
			break
		}
		b.mu.Unlock()
	}

	_, dup := b.ids[id]
	if !dup {
		ts := q.now()
		if ts.Before(b.last) {
			ts = b.last
		}
		b.last = ts
		b.msgs = append(b.msgs, Message{ID: id, Body: body, EnqueuedAt: ts})
		b.ids[id] = struct{}{}
	}
	b.mu.Unlock()

	q.logger.MessageEnqueued(serviceID, clientID, id, dup)
	if !dup {
		q.notify(Subject(serviceID, clientID), Notification{
			Kind:      KindEnqueued,
			ServiceID: serviceID,
			ClientID:  clientID,
			MessageID: id,
		})
	}
	return !dup, nil
}

// Acknowledge removes the message with id from the mailbox. It reports
// whether a message was removed; acknowledging an unknown id is a no-op.
func (q *Queue) Acknowledge(serviceID, clientID, id string) (bool, error) {
	if serviceID == "" || clientID == "" || id == "" {
		return false, ErrInvalidKey
	}

	removed := false
	if b := q.box(serviceID, clientID, false); b != nil {
		b.mu.Lock()
		if _, ok := b.ids[id]; ok {
			for i, m := range b.msgs {
				if m.ID == id {
					b.msgs = append(b.msgs[:i:i], b.msgs[i+1:]...)
					break
				}
			}
			delete(b.ids, id)
			removed = true
		}
		if len(b.msgs) == 0 && !b.dead {
			q.drop(key{serviceID, clientID}, b)
		}
		b.mu.Unlock()
	}

	q.logger.MessageAcked(serviceID, clientID, id, removed)
	return removed, nil
}

// Pending returns a copy of the un-acknowledged messages in arrival order.
func (q *Queue) Pending(serviceID, clientID string) ([]Message, error) {
	if serviceID == "" || clientID == "" {
		return nil, ErrInvalidKey
	}

	out := make([]Message, 0)
	if b := q.box(serviceID, clientID, false); b != nil {
		b.mu.Lock()
		if !b.dead {
			out = append(out, b.msgs...)
		}
		b.mu.Unlock()
	}
	return out, nil
}

// Len returns the number of pending messages in a mailbox.
func (q *Queue) Len(serviceID, clientID string) int {
	b := q.box(serviceID, clientID, false)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dead {
		return 0
	}
	return len(b.msgs)
}

// Reconnect signals that a consumer for serviceID is back. Mailbox state
// does not change; subscribers are told to re-read Pending.
func (q *Queue) Reconnect(serviceID string) error {
	if serviceID == "" {
		return ErrInvalidKey
	}
	q.logger.Info("service_reconnected", map[string]interface{}{"service": serviceID})
	q.notify(ReconnectSubject(serviceID), Notification{
		Kind:      KindReconnect,
		ServiceID: serviceID,
	})
	return nil
}

// Clear drops every mailbox. Intended for test isolation.
func (q *Queue) Clear() {
	q.mu.Lock()
	old := q.boxes
	q.boxes = make(map[key]*box)
	q.mu.Unlock()

	for _, b := range old {
		b.mu.Lock()
		b.dead = true
		b.mu.Unlock()
	}
}

// drop removes an empty box from the queue. The caller holds b.mu; the lock
// order is always box before queue.
func (q *Queue) drop(k key, b *box) {
	q.mu.Lock()
	if q.boxes[k] == b {
		delete(q.boxes, k)
	}
	q.mu.Unlock()
	b.dead = true
}

// size returns the number of live mailboxes.
func (q *Queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.boxes)
}

func (q *Queue) notify(subject string, n Notification) {
	if q.bus == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		q.logger.Error("notification_encode_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := q.bus.Publish(subject, data); err != nil {
		q.logger.Warn("notification_publish_failed", map[string]interface{}{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}
