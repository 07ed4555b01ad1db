// Package mcpserver implements the JSON-RPC 2.0 boundary (spec §6, C10):
// a single /mcp endpoint fanning out to every other component, plus
// /health and /reflect. The wire vocabulary (mcp.Tool,
// mcp.ToolInputSchema) is reused from mark3labs/mcp-go, but the
// dispatcher itself is hand-rolled so the exact JSON-RPC error codes and
// auth contract in spec §6/§7 are met precisely.
package mcpserver

import "encoding/json"

const (
	codeParseError     = -32700
	codeInvalidParams  = -32602
	codeMethodNotFound = -32601
	codeAuthFailed     = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

func newError(id interface{}, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func newResult(id interface{}, result interface{}) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// contentBlock is the {type:"text", text:...} shape every tool result is
// wrapped in, per spec §6.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func textResult(value interface{}) toolCallResult {
	data, err := json.Marshal(value)
	if err != nil {
		return toolCallResult{
			Content: []contentBlock{{Type: "text", Text: `{"error":"Execution failed","details":"failed to encode result"}`}},
			IsError: true,
		}
	}
	return toolCallResult{Content: []contentBlock{{Type: "text", Text: string(data)}}}
}

func errorResult(message string, err error) toolCallResult {
	payload := map[string]string{"error": message, "details": err.Error()}
	data, _ := json.Marshal(payload)
	return toolCallResult{Content: []contentBlock{{Type: "text", Text: string(data)}}, IsError: true}
}
