package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vinayprograms/clienthub/bus"
	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/mailbox"
	"github.com/vinayprograms/clienthub/rpc"
	"github.com/vinayprograms/clienthub/transport"
)

// Session-scoped methods. They need the connection, so the dispatcher does
// not serve them.
const (
	MethodSubscribeMailbox   = "subscribeMailbox"
	MethodUnsubscribeMailbox = "unsubscribeMailbox"
)

// Server notifications pushed to subscribed sessions.
const (
	NotifyMessageEnqueued    = "messageEnqueued"
	NotifyServiceReconnected = "serviceReconnected"
)

// session is one WebSocket connection. Requests are served in arrival order.
type session struct {
	id         string
	remote     string
	transport  transport.Transport
	dispatcher *rpc.Dispatcher
	bus        bus.MessageBus
	logger     *logging.Logger

	mu   sync.Mutex
	subs map[string]bus.Subscription // by subject
	// refs counts the mailboxes holding each reconnect subscription.
	refs map[string]int
	wg   sync.WaitGroup
}

func newSession(id, remote string, t transport.Transport, d *rpc.Dispatcher, b bus.MessageBus, logger *logging.Logger) *session {
	return &session{
		id:         id,
		remote:     remote,
		transport:  t,
		dispatcher: d,
		bus:        b,
		logger:     logger.WithTraceID(id),
		subs:       make(map[string]bus.Subscription),
		refs:       make(map[string]int),
	}
}

// run serves the session until ctx ends or the peer goes away.
func (s *session) run(ctx context.Context) {
	start := time.Now()
	s.logger.SessionOpened(s.id, s.remote)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		s.serve(ctx)
	}()

	s.transport.Run(ctx)
	cancel()
	<-handled

	s.unsubscribeAll()
	s.wg.Wait()
	s.logger.SessionClosed(s.id, time.Since(start))
}

func (s *session) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.transport.Recv():
			if !ok {
				return
			}
			s.handle(ctx, msg.Request)
		}
	}
}

func (s *session) handle(ctx context.Context, req *transport.Request) {
	var resp *transport.Response
	switch req.Method {
	case MethodSubscribeMailbox:
		resp = s.reply(req, nil, s.subscribe(req.Params))
	case MethodUnsubscribeMailbox:
		resp = s.reply(req, nil, s.unsubscribe(req.Params))
	default:
		resp = s.dispatcher.Handle(ctx, req)
	}
	if resp == nil {
		return
	}
	if err := s.transport.Send(&transport.OutboundMessage{Response: resp}); err != nil {
		s.logger.Debug("send_failed", map[string]interface{}{"method": req.Method, "error": err.Error()})
	}
}

func (s *session) reply(req *transport.Request, result interface{}, err error) *transport.Response {
	s.logger.RPCCall(req.Method, 0, err)
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return transport.NewError(req.ID, rpc.ToRPCError(err))
	}
	return transport.NewResult(req.ID, result)
}

// subscribe forwards enqueue notifications for one mailbox, and reconnect
// signals for its service, to the peer.
func (s *session) subscribe(params json.RawMessage) error {
	var p rpc.MailboxParams
	if err := rpc.Bind(params, rpc.MailboxParamNames, &p); err != nil {
		return err
	}
	if s.bus == nil {
		return errors.Unsupported("mailbox notifications are not enabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subject := mailbox.Subject(p.ServiceID, p.ClientID)
	if _, ok := s.subs[subject]; ok {
		return nil
	}
	if err := s.subscribeLocked(subject); err != nil {
		return err
	}

	reconnect := mailbox.ReconnectSubject(p.ServiceID)
	if s.refs[reconnect] == 0 {
		if err := s.subscribeLocked(reconnect); err != nil {
			s.dropLocked(subject)
			return err
		}
	}
	s.refs[reconnect]++
	return nil
}

func (s *session) unsubscribe(params json.RawMessage) error {
	var p rpc.MailboxParams
	if err := rpc.Bind(params, rpc.MailboxParamNames, &p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subject := mailbox.Subject(p.ServiceID, p.ClientID)
	if _, ok := s.subs[subject]; !ok {
		return nil
	}
	s.dropLocked(subject)

	reconnect := mailbox.ReconnectSubject(p.ServiceID)
	s.refs[reconnect]--
	if s.refs[reconnect] <= 0 {
		delete(s.refs, reconnect)
		s.dropLocked(reconnect)
	}
	return nil
}

func (s *session) subscribeLocked(subject string) error {
	sub, err := s.bus.Subscribe(subject)
	if err != nil {
		return errors.Wrap(err, "subscribe "+subject)
	}
	s.subs[subject] = sub

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forward(sub)
	}()
	return nil
}

func (s *session) dropLocked(subject string) {
	if sub, ok := s.subs[subject]; ok {
		sub.Unsubscribe()
		delete(s.subs, subject)
	}
}

func (s *session) unsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject := range s.subs {
		s.dropLocked(subject)
	}
	s.refs = make(map[string]int)
}

// forward relays bus notifications until the subscription ends.
func (s *session) forward(sub bus.Subscription) {
	for msg := range sub.Messages() {
		var n mailbox.Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			s.logger.Warn("bad_notification", map[string]interface{}{"subject": msg.Subject, "error": err.Error()})
			continue
		}

		method := NotifyMessageEnqueued
		if n.Kind == mailbox.KindReconnect {
			method = NotifyServiceReconnected
		}
		err := s.transport.Send(&transport.OutboundMessage{
			Notification: transport.NewNotification(method, n),
		})
		if err != nil {
			return
		}
	}
}
