// Package mcp holds the JSON-RPC 2.0 envelope used on the control plane
// and the table of department data servers.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the only accepted JSON-RPC version.
const Version = "2.0"

// JSON-RPC error codes.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Supported methods.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
)

var supportedMethods = map[string]struct{}{
	MethodInitialize:    {},
	MethodPing:          {},
	MethodToolsList:     {},
	MethodToolsCall:     {},
	MethodResourcesList: {},
	MethodResourcesRead: {},
	MethodPromptsList:   {},
	MethodPromptsGet:    {},
}

// IsSupportedMethod reports whether method may be forwarded.
func IsSupportedMethod(method string) bool {
	_, ok := supportedMethods[method]
	return ok
}

// ErrInvalidEnvelope is wrapped by every decoding failure.
var ErrInvalidEnvelope = errors.New("invalid JSON-RPC request")

// Request is a JSON-RPC request. ID keeps its original encoding so it is
// echoed back unchanged.
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      json.RawMessage        `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// DecodeRequest parses and validates an envelope. On error the returned
// request may still carry the id, so the caller can echo it.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	if req.JSONRPC != Version {
		return &req, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidEnvelope, Version)
	}
	if !validID(req.ID) {
		return &req, fmt.Errorf("%w: id must be a string or number", ErrInvalidEnvelope)
	}
	if req.Method == "" {
		return &req, fmt.Errorf("%w: method is required", ErrInvalidEnvelope)
	}
	return &req, nil
}

func validID(id json.RawMessage) bool {
	id = bytes.TrimSpace(id)
	if len(id) == 0 {
		return false
	}
	switch c := id[0]; {
	case c == '"':
		var s string
		return json.Unmarshal(id, &s) == nil
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		return json.Unmarshal(id, &n) == nil
	default:
		return false
	}
}

// Department returns params.department, falling back to
// params.server_type. Non-string values are ignored.
func (r *Request) Department() string {
	for _, key := range []string{"department", "server_type"} {
		if v, ok := r.Params[key].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Response is a JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewErrorResponse builds an error response for id. A missing id is
// encoded as null.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	if len(bytes.TrimSpace(id)) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// MethodNotFound builds the -32601 response for method.
func MethodNotFound(id json.RawMessage, method string) *Response {
	return NewErrorResponse(id, CodeMethodNotFound, "Method not found: "+method)
}
