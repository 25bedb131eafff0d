// Package logging provides leveled, component-scoped console logging for
// clienthub. Lines look like:
//
//	INFO  2026-02-05T04:00:00.000Z [rpc] rpc_call method=getClient duration=41µs
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string ("debug", "INFO", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger provides structured logging to stdout.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	traceID   string
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	l := New()
	l.output = io.Discard
	return l
}

// WithComponent returns a new logger with the given component name.
// The child shares the parent's writer and lock.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger that tags every line with trace=<id>.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		traceID:   traceID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if len(fields) > 0 {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	if l.traceID != "" {
		merged["trace"] = l.traceID
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Domain event helpers ---

// ManifestRegistered logs a manifest merge for a service.
func (l *Logger) ManifestRegistered(serviceID string, fields int) {
	l.Info("manifest_registered", map[string]interface{}{
		"service": serviceID,
		"fields":  fields,
	})
}

// ClientCreated logs client creation.
func (l *Logger) ClientCreated(clientID, serviceID string) {
	f := map[string]interface{}{"client": clientID}
	if serviceID != "" {
		f["service"] = serviceID
	}
	l.Info("client_created", f)
}

// ClientUpdated logs an accepted update.
func (l *Logger) ClientUpdated(clientID string, keys []string) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	l.Debug("client_updated", map[string]interface{}{
		"client": clientID,
		"fields": strings.Join(sorted, ","),
	})
}

// ClientDeleted logs client removal.
func (l *Logger) ClientDeleted(clientID string) {
	l.Info("client_deleted", map[string]interface{}{
		"client": clientID,
	})
}

// Readiness logs the outcome of a readiness evaluation.
func (l *Logger) Readiness(clientID, serviceID string, ready bool, missing []string, defaults int) {
	l.Debug("readiness", map[string]interface{}{
		"client":   clientID,
		"service":  serviceID,
		"ready":    ready,
		"missing":  strings.Join(missing, ","),
		"defaults": defaults,
	})
}

// MessageEnqueued logs an enqueue attempt; duplicate=true means it was ignored.
func (l *Logger) MessageEnqueued(serviceID, clientID, messageID string, duplicate bool) {
	l.Debug("message_enqueued", map[string]interface{}{
		"service":   serviceID,
		"client":    clientID,
		"message":   messageID,
		"duplicate": duplicate,
	})
}

// MessageAcked logs an acknowledgment; removed=false means it was a no-op.
func (l *Logger) MessageAcked(serviceID, clientID, messageID string, removed bool) {
	l.Debug("message_acked", map[string]interface{}{
		"service": serviceID,
		"client":  clientID,
		"message": messageID,
		"removed": removed,
	})
}

// RPCCall logs a dispatched RPC method.
func (l *Logger) RPCCall(method string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"method":   method,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("rpc_error", fields)
		return
	}
	l.Debug("rpc_call", fields)
}

// SessionOpened logs a new transport session.
func (l *Logger) SessionOpened(sessionID, remote string) {
	l.Info("session_opened", map[string]interface{}{
		"session": sessionID,
		"remote":  remote,
	})
}

// SessionClosed logs the end of a transport session.
func (l *Logger) SessionClosed(sessionID string, duration time.Duration) {
	l.Info("session_closed", map[string]interface{}{
		"session":  sessionID,
		"duration": duration.String(),
	})
}
