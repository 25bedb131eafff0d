package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vinayprograms/clienthub/errors"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/schema"
	"github.com/vinayprograms/clienthub/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return NewRegistry(s, logging.Nop())
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := newTestRegistry(t)

	m, err := r.Get("nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if m == nil || len(m) != 0 {
		t.Errorf("Get(unknown) = %#v, want empty manifest", m)
	}

	_, ok, err := r.Lookup("nobody")
	if err != nil || ok {
		t.Errorf("Lookup(unknown) = ok %v, err %v", ok, err)
	}
}

func TestRegistry_RegisterTwiceIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	fields := []FieldSpec{
		{Name: "apiKey", Required: true, Type: schema.TypeString},
		{Name: "region", Required: true, Type: schema.TypeString, Default: "EU"},
	}

	if _, err := r.Register("auth", fields); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register("auth", fields); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	got, _ := r.Get("auth")
	if diff := cmp.Diff(Manifest(fields), got); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_UpdateMergesByName(t *testing.T) {
	r := newTestRegistry(t)

	r.Register("billing", []FieldSpec{
		{Name: "vat", Required: false, Type: schema.TypeString},
		{Name: "currency", Required: true, Type: schema.TypeString},
	})
	m, err := r.Update("billing", []FieldSpec{
		{Name: "vat", Required: true, Type: schema.TypeString},
		{Name: "limit", Type: schema.TypeNumber},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if diff := cmp.Diff([]string{"vat", "currency", "limit"}, m.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if f, _ := m.Field("vat"); !f.Required {
		t.Error("vat should be required after update (last write wins)")
	}
}

func TestRegistry_RejectsDuplicateInOneCall(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("svc", []FieldSpec{{Name: "a"}})

	_, err := r.Register("svc", []FieldSpec{{Name: "b"}, {Name: "b"}})
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Fatalf("Register err = %v, want INVALID_INPUT", err)
	}

	m, _ := r.Get("svc")
	if diff := cmp.Diff([]string{"a"}, m.Names()); diff != "" {
		t.Errorf("failed registration must not write (-want +got):\n%s", diff)
	}
}

func TestRegistry_RequiresServiceID(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("", []FieldSpec{{Name: "a"}}); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("Register(\"\") err = %v, want INVALID_INPUT", err)
	}
}

func TestRegistry_ServicesAndReset(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("zeta", []FieldSpec{{Name: "a"}})
	r.Register("alpha", []FieldSpec{{Name: "a"}})

	ids, err := r.Services()
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if diff := cmp.Diff([]string{"alpha", "zeta"}, ids); diff != "" {
		t.Errorf("Services mismatch:\n%s", diff)
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	ids, _ = r.Services()
	if len(ids) != 0 {
		t.Errorf("Services after Reset = %v, want none", ids)
	}
}

func TestRegistry_IsolatedServices(t *testing.T) {
	r := newTestRegistry(t)
	r.Register("a", []FieldSpec{{Name: "vat", Required: true}})
	r.Register("b", []FieldSpec{{Name: "vat", Required: false}})

	ma, _ := r.Get("a")
	mb, _ := r.Get("b")
	if fa, _ := ma.Field("vat"); !fa.Required {
		t.Error("service a lost its required flag")
	}
	if fb, _ := mb.Field("vat"); fb.Required {
		t.Error("service b picked up service a's required flag")
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			if _, err := r.Register("svc", []FieldSpec{{Name: name}}); err != nil {
				t.Errorf("Register(%s) failed: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	m, _ := r.Get("svc")
	if len(m) != 20 {
		t.Errorf("len(manifest) = %d, want 20 (no lost merges)", len(m))
	}
}

func TestRegistry_StoredAsJSON(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	r := NewRegistry(s, nil)

	r.Register("auth", []FieldSpec{{Name: "apiKey", Required: true, Type: schema.TypeString}})

	data, err := s.Get("manifest.auth")
	if err != nil {
		t.Fatalf("store Get failed: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("stored manifest is not JSON: %v", err)
	}
	if raw["service"] != "auth" {
		t.Errorf("service = %v, want auth", raw["service"])
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifests.yaml")
	seed := `
services:
  billing:
    - field: vat
      required: true
      type: string
    - field: region
      required: true
      type: string
      default: EU
  auth:
    - field: apiKey
      required: true
      type: string
`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestRegistry(t)
	n, err := r.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if n != 2 {
		t.Errorf("LoadFile registered %d services, want 2", n)
	}

	m, _ := r.Get("billing")
	region, ok := m.Field("region")
	if !ok || region.Default != "EU" || region.Type != schema.TypeString {
		t.Errorf("region = %+v", region)
	}
}

func TestParseSeed_UnknownType(t *testing.T) {
	_, err := ParseSeed([]byte("services:\n  x:\n    - field: when\n      type: date\n"))
	if err == nil {
		t.Error("expected error for unknown field type")
	}
}

func TestJSONSchema(t *testing.T) {
	m := Manifest{
		{Name: "apiKey", Required: true, Type: schema.TypeString},
		{Name: "region", Required: true, Type: schema.TypeString, Default: "EU"},
		{Name: "meta", Type: schema.TypeObject},
		{Name: "note"},
	}

	data, err := json.Marshal(JSONSchema("auth", m))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got["type"] != "object" || got["title"] != "auth" {
		t.Errorf("type/title = %v/%v", got["type"], got["title"])
	}
	if got["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", got["additionalProperties"])
	}
	if diff := cmp.Diff([]interface{}{"apiKey", "region"}, got["required"]); diff != "" {
		t.Errorf("required mismatch:\n%s", diff)
	}

	props := got["properties"].(map[string]interface{})
	region := props["region"].(map[string]interface{})
	if region["type"] != "string" || region["default"] != "EU" {
		t.Errorf("region schema = %v", region)
	}
	if _, ok := props["meta"].(map[string]interface{})["anyOf"]; !ok {
		t.Errorf("object field should allow object, array and null: %v", props["meta"])
	}
}

func TestRegistry_LoadExampleFile(t *testing.T) {
	r := newTestRegistry(t)
	n, err := r.LoadFile(filepath.Join("..", "manifests.example.yaml"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if n != 2 {
		t.Errorf("LoadFile registered %d services, want 2", n)
	}
	m, _ := r.Get("billing")
	if len(m) != 3 {
		t.Errorf("billing has %d fields, want 3", len(m))
	}
}

func TestRegistry_UnusualServiceIDs(t *testing.T) {
	ids := []string{"billing eu", "acme.", "a..b", "svc*", "svc>"}
	r := newTestRegistry(t)

	for _, id := range ids {
		if m, err := r.Get(id); err != nil || len(m) != 0 {
			t.Errorf("Get(%q) before register = %v, %v, want empty", id, m, err)
		}
		if _, err := r.Register(id, []FieldSpec{{Name: "vat", Type: schema.TypeString}}); err != nil {
			t.Fatalf("Register(%q) failed: %v", id, err)
		}
		m, err := r.Get(id)
		if err != nil || len(m) != 1 {
			t.Errorf("Get(%q) = %v, %v, want one field", id, m, err)
		}
	}

	got, err := r.Services()
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	want := []string{"a..b", "acme.", "billing eu", "svc*", "svc>"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Services mismatch:\n%s", diff)
	}

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if got, _ := r.Services(); len(got) != 0 {
		t.Errorf("Services after Reset = %v, want none", got)
	}
}
