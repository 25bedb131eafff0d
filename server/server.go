// Package server serves the clienthub JSON-RPC API over WebSocket.
//
// Routes:
//
//	GET /rpc      WebSocket upgrade; one JSON-RPC session per connection
//	GET /healthz  liveness, always "ok"
//	GET /readyz   readiness of the backing store
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/clienthub/bus"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/rpc"
	"github.com/vinayprograms/clienthub/transport"
)

// Config holds HTTP server configuration.
type Config struct {
	// Listen is the TCP address to serve on.
	// Default: ":7885"
	Listen string

	// Path is the WebSocket endpoint.
	// Default: "/rpc"
	Path string

	// WebSocket configures each session's transport.
	WebSocket transport.WebSocketConfig
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:    ":7885",
		Path:      "/rpc",
		WebSocket: transport.DefaultWebSocketConfig(),
	}
}

// Server accepts WebSocket sessions and hands their requests to a
// dispatcher.
type Server struct {
	cfg        Config
	dispatcher *rpc.Dispatcher
	bus        bus.MessageBus
	logger     *logging.Logger
	readyCheck func(context.Context) error

	upgrader   *websocket.Upgrader
	router     chi.Router
	httpServer *http.Server

	// ctx is the parent of every session; cancelling it ends them all.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithBus enables subscribeMailbox by forwarding bus notifications to
// sessions.
func WithBus(b bus.MessageBus) Option {
	return func(s *Server) { s.bus = b }
}

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithReadyCheck sets the probe behind /readyz.
func WithReadyCheck(check func(context.Context) error) Option {
	return func(s *Server) { s.readyCheck = check }
}

// New creates a server for d.
func New(cfg Config, d *rpc.Dispatcher, opts ...Option) *Server {
	def := DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     logging.Nop(),
		upgrader:   transport.NewWebSocketUpgrader(),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get(cfg.Path, s.handleRPC)
	s.router = r

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", map[string]interface{}{"addr": s.cfg.Listen, "path": s.cfg.Path})
	err := s.httpServer.ListenAndServe()
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	err := s.httpServer.Serve(l)
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight HTTP
// requests. Hijacked WebSocket sessions are ended by CloseSessions.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// CloseSessions ends every WebSocket session and waits for them to finish
// or for ctx to expire.
func (s *Server) CloseSessions(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readyCheck != nil {
		if err := s.readyCheck(r.Context()); err != nil {
			s.logger.Warn("not_ready", map[string]interface{}{"error": err.Error()})
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade_failed", map[string]interface{}{"error": err.Error(), "remote": r.RemoteAddr})
		return
	}

	sess := newSession(uuid.NewString(), r.RemoteAddr,
		transport.NewWebSocketTransport(conn, s.cfg.WebSocket), s.dispatcher, s.bus, s.logger)

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	sess.run(s.ctx)
}
