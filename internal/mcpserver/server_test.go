package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oscillatelabsllc/memoria/internal/conversation"
	"github.com/oscillatelabsllc/memoria/internal/objectstore"
	"github.com/oscillatelabsllc/memoria/internal/reflection"
	"github.com/oscillatelabsllc/memoria/internal/reminder"
	"github.com/oscillatelabsllc/memoria/internal/sandbox"
)

const testToken = "test-token"

type fakeEmbedder struct{ updated map[string]string }

func (f *fakeEmbedder) Update(_ context.Context, path, content string) error {
	f.updated[path] = content
	return nil
}
func (f *fakeEmbedder) Delete(_ context.Context, path string) error { return nil }

func newTestServer(t *testing.T) (*Server, objectstore.Store) {
	t.Helper()
	store, err := objectstore.NewDuckDBStore(t.TempDir() + "/store.duckdb")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := &fakeEmbedder{updated: map[string]string{}}
	convIdx := conversation.NewIndexer(store, embedder)
	reminders := reminder.NewScheduler(store)
	sb := sandbox.New(sandbox.NewStoreMemory(store))
	staging := reflection.NewStaging(store)

	s := NewServer(Deps{
		Store:         store,
		Reminders:     reminders,
		Conversations: convIdx,
		Sandbox:       sb,
		Staging:       staging,
		AuthToken:     testToken,
	})
	return s, store
}

func doRPC(t *testing.T, s *Server, method string, params interface{}, token string) rpcResponse {
	t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(data))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response (status %d): %v, body=%s", rec.Code, err, rec.Body.String())
	}
	return resp
}

func TestHealthRequiresNoAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMCPRejectsMissingAuth(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeAuthFailed {
		t.Fatalf("expected -32001 error, got %+v", resp.Error)
	}
}

func TestMCPRejectsWrongToken(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRPC(t, s, "tools/list", nil, "wrong-token")
	if resp.Error == nil || resp.Error.Code != codeAuthFailed {
		t.Fatalf("expected -32001 error, got %+v", resp.Error)
	}
}

func TestToolsListReturnsAllTools(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRPC(t, s, "tools/list", nil, testToken)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var payload struct {
		Tools []map[string]interface{} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal tools: %v", err)
	}
	if len(payload.Tools) != 18 {
		t.Fatalf("expected 18 tools, got %d", len(payload.Tools))
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRPC(t, s, "bogus/method", nil, testToken)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected -32601 error, got %+v", resp.Error)
	}
}

func TestUnknownToolReturnsInvalidParams(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRPC(t, s, "tools/call", map[string]interface{}{"name": "bogus_tool", "arguments": map[string]interface{}{}}, testToken)
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected -32602 error, got %+v", resp.Error)
	}
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(`{not json`)))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Fatalf("expected -32700 error, got %+v", resp.Error)
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	s, _ := newTestServer(t)
	writeResp := doRPC(t, s, "tools/call", map[string]interface{}{
		"name":      "write",
		"arguments": map[string]interface{}{"path": "memory/note.md", "content": "hello world"},
	}, testToken)
	if writeResp.Error != nil {
		t.Fatalf("write: unexpected error %+v", writeResp.Error)
	}

	readResp := doRPC(t, s, "tools/call", map[string]interface{}{
		"name":      "read",
		"arguments": map[string]interface{}{"path": "memory/note.md"},
	}, testToken)
	if readResp.Error != nil {
		t.Fatalf("read: unexpected error %+v", readResp.Error)
	}

	raw, _ := json.Marshal(readResp.Result)
	var result toolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal tool result: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %+v", result)
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(result.Content))
	}
	var file objectstore.File
	if err := json.Unmarshal([]byte(result.Content[0].Text), &file); err != nil {
		t.Fatalf("unmarshal file: %v", err)
	}
	if file.Content != "hello world" {
		t.Fatalf("expected round-tripped content, got %q", file.Content)
	}
}

func TestScheduleAndListReminders(t *testing.T) {
	s, _ := newTestServer(t)
	scheduleResp := doRPC(t, s, "tools/call", map[string]interface{}{
		"name": "schedule_reminder",
		"arguments": map[string]interface{}{
			"type":        "once",
			"expression":  "2026-03-06T09:00:00Z",
			"description": "check on deploy",
		},
	}, testToken)
	if scheduleResp.Error != nil {
		t.Fatalf("schedule: unexpected error %+v", scheduleResp.Error)
	}

	listResp := doRPC(t, s, "tools/call", map[string]interface{}{"name": "list_reminders", "arguments": map[string]interface{}{}}, testToken)
	if listResp.Error != nil {
		t.Fatalf("list: unexpected error %+v", listResp.Error)
	}
	raw, _ := json.Marshal(listResp.Result)
	var result toolCallResult
	json.Unmarshal(raw, &result)
	var reminders []map[string]interface{}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &reminders); err != nil {
		t.Fatalf("unmarshal reminders: %v", err)
	}
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(reminders))
	}
}

func TestExecuteSandboxErrorIsNotAnRPCError(t *testing.T) {
	s, _ := newTestServer(t)
	resp := doRPC(t, s, "tools/call", map[string]interface{}{
		"name":      "execute",
		"arguments": map[string]interface{}{"code": "package main\nimport \"os\"\nfunc Run() {}\n"},
	}, testToken)
	if resp.Error != nil {
		t.Fatalf("expected tool-level error, not RPC error, got %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var result toolCallResult
	json.Unmarshal(raw, &result)
	if result.IsError {
		t.Fatalf("execute tool result should not set isError for a sandbox failure, got %+v", result)
	}
}

func TestOptionsPreflightAllowsExpectedMethods(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "http://localhost")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK && rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight success, got %d", rec.Code)
	}
}
