package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/clienthub/logging"
)

// Phases used by clienthubd. Lower phases stop first.
const (
	PhaseHTTP      = 10
	PhaseSessions  = 20
	PhaseStore     = 30
	PhaseTelemetry = 40
)

var (
	// ErrAlreadyShutdown is returned by Shutdown calls made while another
	// call is still running.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout means the deadline expired before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed means one or more handlers returned an error.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Func stops one component. ctx carries the shutdown deadline.
type Func func(ctx context.Context) error

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Handlers      []HandlerResult
	Err           error
}

// Failed returns the names of handlers that returned an error.
func (r *Result) Failed() []string {
	var failed []string
	for _, hr := range r.Handlers {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0).
	// Default: 15 seconds
	Timeout time.Duration

	// StopOnError skips later phases once a handler fails.
	StopOnError bool

	// Logger receives one line per handler. Optional.
	Logger *logging.Logger
}

type registration struct {
	name  string
	phase int
	fn    Func
}

// Coordinator runs registered handlers phase by phase, once.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool

	done   chan struct{}
	result *Result
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Coordinator{
		config: cfg,
		logger: logger.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a handler to phase. Handlers registered after shutdown
// started are ignored.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.handlers = append(c.handlers, registration{name: name, phase: phase, fn: fn})
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx ends. It
// returns the signal, or nil when ctx ended first.
func (c *Coordinator) WaitForSignal(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case sig := <-ch:
		c.logger.Info("signal_received", map[string]interface{}{"signal": sig.String()})
		return sig
	case <-ctx.Done():
		return nil
	}
}

// ShutdownWithTimeout runs Shutdown under a deadline. Zero means the
// configured timeout.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Shutdown runs every phase in order. Only the first call does work; a
// later call waits for it and returns its error, or returns
// ErrAlreadyShutdown if ctx ends first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
			return c.result.Err
		case <-ctx.Done():
			return ErrAlreadyShutdown
		}
	}
	c.started = true
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	c.result = c.run(ctx, handlers)
	close(c.done)
	return c.result.Err
}

// Done is closed once shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Handlers: make([]HandlerResult, 0, len(handlers))}
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			result.Err = ErrTimeout
			break
		}
		phaseResults := c.runPhase(ctx, group)
		result.Handlers = append(result.Handlers, phaseResults...)

		if failed := result.Failed(); len(failed) > 0 {
			result.Err = fmt.Errorf("%w: %s", ErrHandlerFailed, strings.Join(failed, ", "))
			if c.config.StopOnError {
				break
			}
		}
	}
	result.TotalDuration = time.Since(start)

	fields := map[string]interface{}{"duration": result.TotalDuration.String(), "handlers": len(result.Handlers)}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		c.logger.Warn("shutdown_incomplete", fields)
	} else {
		c.logger.Info("shutdown_complete", fields)
	}
	return result
}

// runPhase runs one phase's handlers concurrently.
func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup
	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			start := time.Now()
			err := r.fn(ctx)
			results[i] = HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{"handler": r.name, "phase": r.phase, "duration": results[i].Duration.String()}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Warn("handler_failed", fields)
				return
			}
			c.logger.Debug("handler_done", fields)
		}(i, r)
	}
	wg.Wait()
	return results
}

// groupByPhase splits handlers, already sorted by phase, into runs of one
// phase each.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(handlers); {
		j := i
		for j < len(handlers) && handlers[j].phase == handlers[i].phase {
			j++
		}
		groups = append(groups, handlers[i:j])
		i = j
	}
	return groups
}
