//go:build integration

package store

import (
	"os"
	"testing"

	"github.com/nats-io/nats.go"
)

// getNATSURL returns the NATS URL from environment or default.
func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

// newTestNATSStore creates a NATSStore for testing.
func newTestNATSStore(t *testing.T, bucket string) *NATSStore {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	s, err := NewNATSStore(NATSStoreConfig{
		Conn:   conn,
		Bucket: bucket,
	})
	if err != nil {
		conn.Close()
		t.Fatalf("NewNATSStore failed: %v", err)
	}

	t.Cleanup(func() {
		for _, k := range mustKeys(t, s) {
			s.Delete(k)
		}
		s.Close()
		conn.Close()
	})

	return s
}

func mustKeys(t *testing.T, s *NATSStore) []string {
	keys, err := s.Keys("*")
	if err != nil {
		t.Logf("Keys failed: %v", err)
		return nil
	}
	return keys
}

func TestNATSStore_Get_NotFound(t *testing.T) {
	s := newTestNATSStore(t, "test-store-notfound")

	_, err := s.Get("nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNATSStore_PutGet(t *testing.T) {
	s := newTestNATSStore(t, "test-store-put-get")

	if err := s.Put("client.user@example.com", []byte("record")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get("client.user@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "record" {
		t.Errorf("expected record, got %s", got)
	}
}

func TestNATSStore_Delete(t *testing.T) {
	s := newTestNATSStore(t, "test-store-delete")

	s.Put("link.c-1", []byte("billing"))
	if err := s.Delete("link.c-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("link.c-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestNATSStore_Keys(t *testing.T) {
	s := newTestNATSStore(t, "test-store-keys")

	s.Put("client.b", []byte("x"))
	s.Put("client.a@x", []byte("x"))
	s.Put("manifest.billing", []byte("x"))

	keys, err := s.Keys("client.*")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "client.a@x" || keys[1] != "client.b" {
		t.Errorf("Keys(client.*) = %v", keys)
	}
}
