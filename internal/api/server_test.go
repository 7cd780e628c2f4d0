// File path: internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"formloop/internal/engine"
	"formloop/internal/llm"
	"formloop/internal/registry"
	"formloop/internal/schema"
	"formloop/internal/store"
)

const testTemplate = `{
  "Details in Subscription Booklet": {
    "investorFullLegalName_ID": {"value": ""},
    "emailAddress_ID": {"value": ""},
    "phoneNumber_ID": {"value": ""}
  },
  "Share Class": {
    "class_a": {"value": ""},
    "class_b": {"value": ""}
  }
}`

const testMandatory = `{
  "Type of Investors": {
    "Individual": {
      "Name": "investorFullLegalName_ID",
      "Email": "emailAddress_ID",
      "Share Class": ""
    }
  }
}`

type mockProvider struct {
	chatResponse string
	chatErr      error
	chatCalls    int
}

func (m *mockProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	m.chatCalls++
	if m.chatErr != nil {
		return "", m.chatErr
	}
	return m.chatResponse, nil
}

func (m *mockProvider) Name() string { return "mock" }

func newTestServer(t *testing.T, provider llm.Provider) *Server {
	t.Helper()
	template, err := schema.ParseTree([]byte(testTemplate))
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	mandatory, err := schema.ParseTree([]byte(testMandatory))
	if err != nil {
		t.Fatalf("parse mandatory: %v", err)
	}
	blobs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	eng, err := engine.New(
		engine.Config{Template: template, Mandatory: mandatory},
		provider, blobs, registry.NewMemoryRegistry())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv, err := NewServer(eng)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func doProcess(t *testing.T, srv *Server, payload map[string]interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	var decoded map[string]interface{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, decoded
}

func TestProcessInitAndStatus(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})

	rr, res := doProcess(t, srv, map[string]interface{}{
		"action":        "init",
		"investor_type": "Individual",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("init status %d: %s", rr.Code, rr.Body.String())
	}
	if res["success"] != true || res["action"] != "init" {
		t.Fatalf("unexpected envelope: %+v", res)
	}
	sessionID, _ := res["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in response: %+v", res)
	}

	rr, res = doProcess(t, srv, map[string]interface{}{
		"action":     "get_status",
		"session_id": sessionID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("get_status status %d: %s", rr.Code, rr.Body.String())
	}
	progress, ok := res["progress"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing progress: %+v", res)
	}
	mandatory, ok := progress["mandatory_fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing mandatory progress: %+v", progress)
	}
	// 2 identifiers plus 2 Share Class paths.
	if mandatory["total"].(float64) != 4 {
		t.Fatalf("expected 4 required fields, got %v", mandatory["total"])
	}
}

func TestProcessInitRequiresInvestorType(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	rr, _ := doProcess(t, srv, map[string]interface{}{"action": "init"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProcessInitUnknownCategory(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	rr, _ := doProcess(t, srv, map[string]interface{}{
		"action":        "init",
		"investor_type": "Martian",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProcessUnknownSessionIsNotFound(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	rr, _ := doProcess(t, srv, map[string]interface{}{
		"action":     "get_status",
		"session_id": "nope",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestProcessChatAndFillFlow(t *testing.T) {
	provider := &mockProvider{chatResponse: `{"Details in Subscription Booklet.emailAddress_ID.value": "jane@x.com"}`}
	srv := newTestServer(t, provider)

	_, res := doProcess(t, srv, map[string]interface{}{
		"action":        "init",
		"investor_type": "Individual",
	})
	sessionID := res["session_id"].(string)

	rr, res := doProcess(t, srv, map[string]interface{}{
		"action":     "chat",
		"session_id": sessionID,
		"user_input": "my email is jane@x.com",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("chat status %d: %s", rr.Code, rr.Body.String())
	}
	extracted, ok := res["extracted_fields"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing extracted_fields: %+v", res)
	}
	if extracted["Details in Subscription Booklet.emailAddress_ID.value"] != "jane@x.com" {
		t.Fatalf("email not extracted: %+v", extracted)
	}

	rr, res = doProcess(t, srv, map[string]interface{}{
		"action":      "fill_text",
		"session_id":  sessionID,
		"field_key":   "Details in Subscription Booklet.investorFullLegalName_ID.value",
		"field_value": "Jane Doe",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("fill_text status %d: %s", rr.Code, rr.Body.String())
	}

	rr, res = doProcess(t, srv, map[string]interface{}{
		"action":           "fill_boolean",
		"session_id":       sessionID,
		"group_name":       "Share Class",
		"selected_indices": []int{2},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("fill_boolean status %d: %s", rr.Code, rr.Body.String())
	}
	progress := res["progress"].(map[string]interface{})
	mandatory := progress["mandatory_fields"].(map[string]interface{})
	if mandatory["missing"].(float64) != 0 {
		t.Fatalf("expected all mandatory filled, got %+v", mandatory)
	}

	rr, res = doProcess(t, srv, map[string]interface{}{
		"action":     "complete",
		"session_id": sessionID,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status %d: %s", rr.Code, rr.Body.String())
	}
	form, ok := res["form_data"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing form_data: %+v", res)
	}
	section := form["Share Class"].(map[string]interface{})
	classB := section["class_b"].(map[string]interface{})
	if classB["value"] != true {
		t.Fatalf("boolean selection lost: %+v", section)
	}
}

func TestProcessFillTextInvalidField(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	_, res := doProcess(t, srv, map[string]interface{}{
		"action":        "init",
		"investor_type": "Individual",
	})
	sessionID := res["session_id"].(string)

	rr, _ := doProcess(t, srv, map[string]interface{}{
		"action":      "fill_text",
		"session_id":  sessionID,
		"field_key":   "Not.A.Field",
		"field_value": "x",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProcessInvalidAction(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	rr, _ := doProcess(t, srv, map[string]interface{}{"action": "destroy"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAvailableInvestorTypes(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	req := httptest.NewRequest(http.MethodGet, "/available_investor_types", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var res map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	types, ok := res["investor_types"].([]interface{})
	if !ok || len(types) != 1 || types[0] != "Individual" {
		t.Fatalf("unexpected types: %+v", res)
	}
}

func TestSessionDelete(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	_, res := doProcess(t, srv, map[string]interface{}{
		"action":        "init",
		"investor_type": "Individual",
	})
	sessionID := res["session_id"].(string)

	req := httptest.NewRequest(http.MethodDelete, "/session/"+sessionID, nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status %d: %s", rr.Code, rr.Body.String())
	}

	rr2, _ := doProcess(t, srv, map[string]interface{}{
		"action":     "get_status",
		"session_id": sessionID,
	})
	if rr2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr2.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &mockProvider{chatErr: errors.New("offline")})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}
