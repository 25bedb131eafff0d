package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vinayprograms/clienthub/clients"
	"github.com/vinayprograms/clienthub/logging"
	"github.com/vinayprograms/clienthub/mailbox"
	"github.com/vinayprograms/clienthub/manifest"
	"github.com/vinayprograms/clienthub/readiness"
	"github.com/vinayprograms/clienthub/store"
	"github.com/vinayprograms/clienthub/transport"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })
	reg := manifest.NewRegistry(st, logging.Nop())
	svc := clients.NewService(st, reg, logging.Nop())
	return NewDispatcher(svc, mailbox.New())
}

// call sends one request with id 1 and returns the response.
func call(t *testing.T, d *Dispatcher, method, params string) *transport.Response {
	t.Helper()
	req := &transport.Request{JSONRPC: transport.Version, ID: json.RawMessage("1"), Method: method}
	if params != "" {
		req.Params = json.RawMessage(params)
	}
	resp := d.Handle(context.Background(), req)
	if resp == nil {
		t.Fatalf("%s: nil response", method)
	}
	return resp
}

// mustCall fails the test on an error response and decodes the result
// into out, if given.
func mustCall(t *testing.T, d *Dispatcher, method, params string, out interface{}) {
	t.Helper()
	resp := call(t, d, method, params)
	if resp.Error != nil {
		t.Fatalf("%s(%s) error: %v (data %v)", method, params, resp.Error, resp.Error.Data)
	}
	if out == nil {
		return
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode result %s: %v", data, err)
	}
}

func wantCode(t *testing.T, resp *transport.Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d, want %d (%s)", resp.Error.Code, code, resp.Error.Message)
	}
}

func TestPing(t *testing.T) {
	d := newTestDispatcher(t)
	var got string
	mustCall(t, d, "ping", "", &got)
	if got != "pong" {
		t.Errorf("ping = %q, want pong", got)
	}
}

func TestMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	wantCode(t, call(t, d, "nope", "[]"), transport.MethodNotFound)
}

func TestNotificationGetsNoResponse(t *testing.T) {
	d := newTestDispatcher(t)
	req := &transport.Request{JSONRPC: transport.Version, Method: "ping"}
	if resp := d.Handle(context.Background(), req); resp != nil {
		t.Errorf("notification response = %+v, want nil", resp)
	}
}

func TestMethods(t *testing.T) {
	d := newTestDispatcher(t)
	want := []string{
		"acknowledgeMessage", "createClient", "deleteClient", "describeServiceManifest",
		"enqueueMessage", "getClient", "getClientReadiness", "getPendingMessages",
		"getServiceManifest", "listServiceManifests", "ping", "reconnectService",
		"registerServiceManifest", "sendMessage", "updateClientData", "updateServiceManifest",
	}
	if diff := cmp.Diff(want, d.Methods()); diff != "" {
		t.Errorf("Methods mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateAndGetClient(t *testing.T) {
	d := newTestDispatcher(t)

	var created map[string]interface{}
	mustCall(t, d, "createClient", `{"id":"c-1","name":"Ada","email":"ada@example.com"}`, &created)
	if created["id"] != "c-1" || created["email"] != "ada@example.com" {
		t.Errorf("created = %v", created)
	}
	if created["created"] == nil || created["lastUpdated"] == nil {
		t.Errorf("timestamps missing: %v", created)
	}

	// Positional form wraps the record in a one-element array.
	var generated map[string]interface{}
	mustCall(t, d, "createClient", `[{"email":"bob@example.com"}]`, &generated)
	if id, _ := generated["id"].(string); id == "" {
		t.Errorf("generated id missing: %v", generated)
	}

	var got map[string]interface{}
	mustCall(t, d, "getClient", `["c-1"]`, &got)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("getClient mismatch (-created +got):\n%s", diff)
	}

	resp := call(t, d, "getClient", `{"id":"ghost"}`)
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"jsonrpc":"2.0","id":1,"result":null}` {
		t.Errorf("getClient(ghost) = %s", data)
	}
}

func TestCreateClient_MissingEmail(t *testing.T) {
	d := newTestDispatcher(t)
	resp := call(t, d, "createClient", `{"id":"c-1","name":"Ada"}`)
	wantCode(t, resp, transport.MissingRequiredField)
	if resp.Error.Message != "Missing required field: email" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestCreateClient_NotAnObject(t *testing.T) {
	d := newTestDispatcher(t)
	wantCode(t, call(t, d, "createClient", `["c-1","extra"]`), transport.InvalidParams)
	wantCode(t, call(t, d, "createClient", ``), transport.InvalidParams)
}

func TestManifestValidationFlow(t *testing.T) {
	d := newTestDispatcher(t)

	mustCall(t, d, "registerServiceManifest",
		`["auth", [{"field":"apiKey","required":true,"type":"string"}]]`, nil)
	mustCall(t, d, "createClient",
		`{"id":"c-1","email":"ada@example.com","serviceId":"auth"}`, nil)

	resp := call(t, d, "updateClientData", `["c-1", {"unauthorizedField":"x"}]`)
	wantCode(t, resp, transport.UnrecognizedField)
	if resp.Error.Message != "Field unauthorizedField is not recognized for this client context" {
		t.Errorf("message = %q", resp.Error.Message)
	}

	resp = call(t, d, "updateClientData", `["c-1", {"apiKey":12345}]`)
	wantCode(t, resp, transport.TypeMismatch)
	if resp.Error.Message != "Invalid type for field: apiKey. Expected string" {
		t.Errorf("message = %q", resp.Error.Message)
	}

	var res readiness.Result
	mustCall(t, d, "getClientReadiness", `["c-1"]`, &res)
	if res.Ready || !cmp.Equal(res.MissingFields, []string{"apiKey"}) {
		t.Errorf("readiness before update = %+v", res)
	}

	mustCall(t, d, "updateClientData", `{"id":"c-1","updates":{"apiKey":"k-123"}}`, nil)
	mustCall(t, d, "getClientReadiness", `{"clientId":"c-1"}`, &res)
	if !res.Ready || len(res.MissingFields) != 0 {
		t.Errorf("readiness after update = %+v", res)
	}
}

func TestReadiness_MaterializesDefaults(t *testing.T) {
	d := newTestDispatcher(t)

	mustCall(t, d, "registerServiceManifest",
		`["billing", [{"field":"region","required":true,"type":"string","default":"EU"}]]`, nil)
	mustCall(t, d, "createClient", `{"id":"c-1","email":"ada@example.com"}`, nil)

	var res readiness.Result
	mustCall(t, d, "getClientReadiness", `["c-1","billing"]`, &res)
	want := readiness.Result{
		Ready:         true,
		MissingFields: []string{},
		UsedDefaults:  map[string]interface{}{"region": "EU"},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("readiness mismatch (-want +got):\n%s", diff)
	}

	var rec map[string]interface{}
	mustCall(t, d, "getClient", `["c-1"]`, &rec)
	if rec["region"] != "EU" {
		t.Errorf("region = %v, want EU written back", rec["region"])
	}
}

func TestReadiness_Sentinels(t *testing.T) {
	d := newTestDispatcher(t)

	var res readiness.Result
	mustCall(t, d, "getClientReadiness", `["ghost","billing"]`, &res)
	if !cmp.Equal(res.MissingFields, []string{readiness.ClientNotFound}) {
		t.Errorf("unknown client = %+v", res)
	}

	mustCall(t, d, "createClient", `{"id":"c-1","email":"ada@example.com"}`, nil)
	mustCall(t, d, "getClientReadiness", `["c-1"]`, &res)
	if !cmp.Equal(res.MissingFields, []string{readiness.ServiceIDNotLinked}) {
		t.Errorf("unlinked client = %+v", res)
	}
}

func TestManifestIntrospection(t *testing.T) {
	d := newTestDispatcher(t)

	var m []map[string]interface{}
	mustCall(t, d, "getServiceManifest", `["unknown"]`, &m)
	if len(m) != 0 {
		t.Errorf("unknown manifest = %v, want empty", m)
	}

	mustCall(t, d, "registerServiceManifest", `["auth", [{"field":"apiKey","required":true}]]`, nil)
	mustCall(t, d, "updateServiceManifest", `["auth", [{"field":"scope","required":false,"type":"object"}]]`, &m)
	if len(m) != 2 || m[0]["field"] != "apiKey" || m[1]["field"] != "scope" {
		t.Errorf("merged manifest = %v", m)
	}

	var services []string
	mustCall(t, d, "listServiceManifests", "", &services)
	if diff := cmp.Diff([]string{"auth"}, services); diff != "" {
		t.Errorf("services mismatch (-want +got):\n%s", diff)
	}

	var schemaDoc map[string]interface{}
	mustCall(t, d, "describeServiceManifest", `["auth"]`, &schemaDoc)
	if schemaDoc["additionalProperties"] != false {
		t.Errorf("additionalProperties = %v, want false", schemaDoc["additionalProperties"])
	}
}

func TestRegisterManifest_InvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	wantCode(t, call(t, d, "registerServiceManifest", `["auth", [{"required":true}]]`), transport.InvalidParams)
	wantCode(t, call(t, d, "registerServiceManifest", `[]`), transport.InvalidParams)
	wantCode(t, call(t, d, "registerServiceManifest",
		`["auth", [{"field":"a"},{"field":"a"}]]`), transport.InvalidParams)
}

func TestMailboxFlow(t *testing.T) {
	d := newTestDispatcher(t)

	mustCall(t, d, "enqueueMessage", `["billing","c-1","hello","m-1"]`, nil)
	mustCall(t, d, "enqueueMessage", `["billing","c-1","dup","m-1"]`, nil)
	mustCall(t, d, "enqueueMessage", `{"serviceId":"billing","clientId":"c-1","body":"second","id":"m-2"}`, nil)

	var pending []mailbox.Message
	mustCall(t, d, "getPendingMessages", `["billing","c-1"]`, &pending)
	if len(pending) != 2 || pending[0].Body != "hello" || pending[1].ID != "m-2" {
		t.Fatalf("pending = %+v", pending)
	}

	mustCall(t, d, "acknowledgeMessage", `["billing","c-1","m-1"]`, nil)
	mustCall(t, d, "acknowledgeMessage", `["billing","c-1","m-1"]`, nil)
	mustCall(t, d, "reconnectService", `["billing"]`, nil)

	mustCall(t, d, "getPendingMessages", `["billing","c-1"]`, &pending)
	if len(pending) != 1 || pending[0].ID != "m-2" {
		t.Errorf("pending after ack = %+v", pending)
	}

	resp := call(t, d, "getPendingMessages", `["billing","nobody"]`)
	data, _ := json.Marshal(resp.Result)
	if string(data) != "[]" {
		t.Errorf("empty mailbox = %s, want []", data)
	}
}

func TestMailbox_InvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	wantCode(t, call(t, d, "enqueueMessage", `["billing","c-1","hello",""]`), transport.InvalidParams)
	wantCode(t, call(t, d, "acknowledgeMessage", `["billing"]`), transport.InvalidParams)
	wantCode(t, call(t, d, "getPendingMessages", `["a","b","c"]`), transport.InvalidParams)
}

func TestSendMessage(t *testing.T) {
	d := newTestDispatcher(t)
	mustCall(t, d, "createClient", `{"id":"c-1","email":"ada@example.com","serviceId":"billing"}`, nil)

	var status string
	mustCall(t, d, "sendMessage", `{"clientId":"c-1","message":"Hello"}`, &status)
	if status != "queued" {
		t.Errorf("sendMessage = %q, want queued", status)
	}
	mustCall(t, d, "sendMessage", `[{"clientId":"c-2","message":"Hi"}]`, &status)

	var pending []mailbox.Message
	mustCall(t, d, "getPendingMessages", `["billing","c-1"]`, &pending)
	if len(pending) != 1 || pending[0].Body != "Hello" || pending[0].ID == "" {
		t.Errorf("linked mailbox = %+v", pending)
	}
	mustCall(t, d, "getPendingMessages", `["default","c-2"]`, &pending)
	if len(pending) != 1 || pending[0].Body != "Hi" {
		t.Errorf("default mailbox = %+v", pending)
	}
}

func TestDeleteClient(t *testing.T) {
	d := newTestDispatcher(t)
	mustCall(t, d, "createClient", `{"id":"c-1","email":"ada@example.com","serviceId":"auth"}`, nil)
	mustCall(t, d, "deleteClient", `["c-1"]`, nil)

	var res readiness.Result
	mustCall(t, d, "getClientReadiness", `["c-1"]`, &res)
	if !cmp.Equal(res.MissingFields, []string{readiness.ClientNotFound}) {
		t.Errorf("readiness after delete = %+v", res)
	}
}

func TestErrorDataCarriesStructuredError(t *testing.T) {
	d := newTestDispatcher(t)
	mustCall(t, d, "registerServiceManifest", `["auth", [{"field":"apiKey","type":"string"}]]`, nil)
	mustCall(t, d, "createClient", `{"id":"c-1","email":"a@b.c","serviceId":"auth"}`, nil)

	resp := call(t, d, "updateClientData", `["c-1", {"apiKey":true}]`)
	wantCode(t, resp, transport.TypeMismatch)

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Error struct {
			Data struct {
				Code     string            `json:"code"`
				Metadata map[string]string `json:"metadata"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Error.Data.Code != "TYPE_MISMATCH" {
		t.Errorf("data.code = %q", decoded.Error.Data.Code)
	}
	if decoded.Error.Data.Metadata["field"] != "apiKey" || decoded.Error.Data.Metadata["expected_type"] != "string" {
		t.Errorf("data.metadata = %v", decoded.Error.Data.Metadata)
	}
}
