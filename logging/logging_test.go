package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("debug message should be filtered at INFO level")
	}

	logger.Info("info message")
	output := buf.String()
	if !strings.Contains(output, "INFO") {
		t.Error("log should contain INFO level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("log should contain the message")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger = logger.WithComponent("rpc")

	logger.Info("hello world", map[string]interface{}{"b": 2, "a": 1})

	output := buf.String()
	if !strings.HasPrefix(output, "INFO ") {
		t.Errorf("expected line to start with 'INFO ', got: %s", output)
	}
	if !strings.Contains(output, "[rpc]") {
		t.Errorf("expected component [rpc], got: %s", output)
	}
	if !strings.Contains(output, "hello world a=1 b=2") {
		t.Errorf("expected sorted fields, got: %s", output)
	}
}

func TestLogger_WithTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.WithTraceID("req-123").Info("traced")

	if !strings.Contains(buf.String(), "trace=req-123") {
		t.Errorf("expected trace field, got: %s", buf.String())
	}
}

func TestLogger_RPCCall(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)

	logger.RPCCall("getClient", time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Error("successful rpc_call is DEBUG and should be filtered")
	}

	logger.RPCCall("updateClientData", time.Millisecond, errors.New("Field x is not recognized"))
	output := buf.String()
	if !strings.Contains(output, "WARN") || !strings.Contains(output, "rpc_error") {
		t.Errorf("expected WARN rpc_error, got: %s", output)
	}
	if !strings.Contains(output, "method=updateClientData") {
		t.Errorf("expected method field, got: %s", output)
	}
}

func TestLogger_DomainEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetOutput(&buf)
	logger.SetLevel(LevelDebug)

	logger.ManifestRegistered("billing", 2)
	logger.ClientCreated("c-1", "billing")
	logger.ClientUpdated("c-1", []string{"vat", "apiKey"})
	logger.Readiness("c-1", "billing", false, []string{"vat"}, 1)
	logger.MessageEnqueued("billing", "c-1", "m-1", true)
	logger.MessageAcked("billing", "c-1", "m-1", false)

	output := buf.String()
	for _, want := range []string{
		"manifest_registered fields=2 service=billing",
		"client_created client=c-1 service=billing",
		"fields=apiKey,vat",
		"missing=vat",
		"duplicate=true",
		"removed=false",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere observable.
	Nop().Error("dropped")
}
