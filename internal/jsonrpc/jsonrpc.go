// Package jsonrpc carries the JSON-RPC 2.0 wire types shared by the
// stdio and HTTP transports.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the supported JSON-RPC protocol version.
const Version = "2.0"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// CodeParseError indicates invalid JSON was received by the server.
	CodeParseError ErrorCode = -32700
	// CodeInvalidRequest indicates the JSON sent is not a valid Request object.
	CodeInvalidRequest ErrorCode = -32600
	// CodeMethodNotFound indicates the method does not exist / is not available.
	CodeMethodNotFound ErrorCode = -32601
	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams ErrorCode = -32602
	// CodeInternalError indicates an internal JSON-RPC error.
	CodeInternalError ErrorCode = -32603
	// CodeToolError is the server-defined code for failed tool executions.
	CodeToolError ErrorCode = -32000
)

// Request is an incoming JSON-RPC request or notification. A request
// with a nil ID is a notification and must not receive a response body.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool { return r.ID.IsNil() }

// Response is an outgoing JSON-RPC response.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

// NewResultResponse builds a successful response, marshaling result.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{JSONRPCVersion: Version, Result: b, ID: id}, nil
}

// NewErrorResponse builds an error response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string) *Response {
	return &Response{
		JSONRPCVersion: Version,
		Error:          &Error{Code: code, Message: message},
		ID:             id,
	}
}

// UnmarshalJSON validates JSON-RPC 2.0 framing while decoding.
func (r *Request) UnmarshalJSON(data []byte) error {
	type raw Request
	var rr raw
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if rr.JSONRPCVersion != Version {
		return fmt.Errorf("invalid JSON-RPC version: expected %q, got %q", Version, rr.JSONRPCVersion)
	}
	if rr.Method == "" {
		return fmt.Errorf("request message must have a method")
	}
	*r = Request(rr)
	return nil
}
