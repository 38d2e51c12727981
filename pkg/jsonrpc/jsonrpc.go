// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonrpc implements newline-delimited JSON-RPC 2.0 framing for
// stdio-based MCP tool servers.
//
// The package handles message encoding and decoding only. Request/response
// correlation, retries, reconnection, and health tracking belong to the
// connection and pool layers in pkg/pool.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version sent on every frame.
const Version = "2.0"

// Request represents a JSON-RPC request or notification.
// A notification carries no ID and expects no response.
type Request struct {
	// JSONRPC is always "2.0"
	JSONRPC string `json:"jsonrpc"`

	// ID correlates the request with its response. Zero means notification.
	ID int64 `json:"id,omitempty"`

	// Method is the RPC method name (e.g. "tools/call")
	Method string `json:"method"`

	// Params carries the method parameters
	Params any `json:"params,omitempty"`
}

// Response represents a JSON-RPC response frame.
type Response struct {
	// JSONRPC is always "2.0"
	JSONRPC string `json:"jsonrpc"`

	// ID matches the originating request's ID
	ID int64 `json:"id"`

	// Result holds the method result on success
	Result json.RawMessage `json:"result,omitempty"`

	// Error holds the server-reported error on failure
	Error *ErrorObject `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error object carried in a failed response.
type ErrorObject struct {
	// Code is the JSON-RPC error code
	Code int `json:"code"`

	// Message describes the error
	Message string `json:"message"`

	// Data contains additional error details
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *ErrorObject) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	// CodeParse indicates a JSON parsing error
	CodeParse = -32700

	// CodeInvalidRequest indicates an invalid JSON-RPC request
	CodeInvalidRequest = -32600

	// CodeMethodNotFound indicates the method doesn't exist
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates invalid method parameters
	CodeInvalidParams = -32602

	// CodeInternal indicates an internal server error
	CodeInternal = -32603
)

// NewRequest builds a request frame for the given method and parameters.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// NewNotification builds a notification frame (no ID, no response expected).
func NewNotification(method string, params any) *Request {
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}
