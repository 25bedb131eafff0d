package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/clienthub/bus"
	"github.com/vinayprograms/clienthub/clients"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/mailbox"
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/rpc"
	"github.com/vinayprograms/clienthub/store"
)

// frame is a decoded server message: a response or a notification.
type frame struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// newTestServer serves a fresh registry. A non-nil bus enables mailbox
// subscriptions.
func newTestServer(t *testing.T, b bus.MessageBus, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	reg := manifest.NewRegistry(st, logging.Nop())
	svc := clients.NewService(st, reg, logging.Nop())
	var queue *mailbox.Queue
	if b != nil {
		queue = mailbox.New(mailbox.WithBus(b))
		opts = append(opts, WithBus(b))
	} else {
		queue = mailbox.New()
	}
	d := rpc.NewDispatcher(svc, queue)

	srv := New(Config{}, d, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.CloseSessions(ctx)
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rpc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id int, method, params string) {
	t.Helper()
	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, id, method, params)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read error: %v", err)
	}
	return f
}

// roundTrip sends a request and returns its response.
func roundTrip(t *testing.T, conn *websocket.Conn, id int, method, params string) frame {
	t.Helper()
	send(t, conn, id, method, params)
	f := read(t, conn)
	if f.ID == nil || *f.ID != id {
		t.Fatalf("%s: unexpected frame %+v", method, f)
	}
	return f
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name  string
		check func(context.Context) error
		want  int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"store down", func(context.Context) error { return store.ErrClosed }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, nil, WithReadyCheck(tt.check))
			resp, err := http.Get(ts.URL + "/readyz")
			if err != nil {
				t.Fatalf("GET /readyz: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRPCOverWebSocket(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dial(t, ts)

	f := roundTrip(t, conn, 1, "ping", "[]")
	if string(f.Result) != `"pong"` {
		t.Errorf("ping = %s", f.Result)
	}

	roundTrip(t, conn, 2, "registerServiceManifest", `["auth",[{"field":"apiKey","required":true,"type":"string"}]]`)
	roundTrip(t, conn, 3, "createClient", `{"id":"c-1","email":"ada@example.com","serviceId":"auth"}`)

	f = roundTrip(t, conn, 4, "updateClientData", `["c-1",{"unauthorizedField":"x"}]`)
	if f.Error == nil || f.Error.Code != -32002 {
		t.Fatalf("unrecognized field = %+v", f)
	}

	f = roundTrip(t, conn, 5, "getClientReadiness", `["c-1"]`)
	if string(f.Result) != `{"ready":false,"missingFields":["apiKey"]}` {
		t.Errorf("readiness = %s", f.Result)
	}
}

func TestMalformedFrame(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dial(t, ts)

	conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	f := read(t, conn)
	if f.Error == nil || f.Error.Code != -32700 {
		t.Errorf("parse error frame = %+v", f)
	}

	// The session survives a bad frame.
	roundTrip(t, conn, 1, "ping", "[]")
}

func TestSubscribeMailbox(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	t.Cleanup(func() { b.Close() })
	_, ts := newTestServer(t, b)
	conn := dial(t, ts)

	f := roundTrip(t, conn, 1, MethodSubscribeMailbox, `["billing","c-1"]`)
	if f.Error != nil {
		t.Fatalf("subscribe error: %+v", f.Error)
	}

	send(t, conn, 2, "enqueueMessage", `["billing","c-1","hello","m-1"]`)

	var gotResponse, gotNotification bool
	for i := 0; i < 2; i++ {
		f := read(t, conn)
		switch {
		case f.ID != nil && *f.ID == 2:
			gotResponse = true
		case f.Method == NotifyMessageEnqueued:
			var n mailbox.Notification
			if err := json.Unmarshal(f.Params, &n); err != nil {
				t.Fatalf("notification params: %v", err)
			}
			if n.ServiceID != "billing" || n.ClientID != "c-1" || n.MessageID != "m-1" {
				t.Errorf("notification = %+v", n)
			}
			gotNotification = true
		default:
			t.Errorf("unexpected frame %+v", f)
		}
	}
	if !gotResponse || !gotNotification {
		t.Errorf("response=%v notification=%v, want both", gotResponse, gotNotification)
	}

	send(t, conn, 3, "reconnectService", `["billing"]`)
	var gotReconnect bool
	for i := 0; i < 2; i++ {
		if f := read(t, conn); f.Method == NotifyServiceReconnected {
			gotReconnect = true
		}
	}
	if !gotReconnect {
		t.Error("expected serviceReconnected notification")
	}

	roundTrip(t, conn, 4, MethodUnsubscribeMailbox, `["billing","c-1"]`)
	roundTrip(t, conn, 5, "enqueueMessage", `["billing","c-1","quiet","m-2"]`)
	// A notification would arrive before or right after this response.
	f = roundTrip(t, conn, 6, "ping", "[]")
	if string(f.Result) != `"pong"` {
		t.Errorf("ping after unsubscribe = %+v", f)
	}
}

func TestSubscribeMailbox_NoBus(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dial(t, ts)

	f := roundTrip(t, conn, 1, MethodSubscribeMailbox, `["billing","c-1"]`)
	if f.Error == nil {
		t.Fatal("expected error without a bus")
	}

	f = roundTrip(t, conn, 2, MethodSubscribeMailbox, `["billing"]`)
	if f.Error == nil || f.Error.Code != -32602 {
		t.Errorf("missing clientId = %+v", f)
	}
}

func TestCloseSessions(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	conn := dial(t, ts)
	roundTrip(t, conn, 1, "ping", "[]")

	if n := srv.SessionCount(); n != 1 {
		t.Errorf("SessionCount = %d, want 1", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.CloseSessions(ctx); err != nil {
		t.Fatalf("CloseSessions: %v", err)
	}
	if n := srv.SessionCount(); n != 0 {
		t.Errorf("SessionCount after close = %d, want 0", n)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}

	// New sessions are refused once closing has begun.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/rpc"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("expected dial to fail after CloseSessions")
	}
}
