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

package pool

import (
	"errors"
	"fmt"
	"time"

	"github.com/tombee/mcpool/pkg/jsonrpc"
)

// ErrorCode represents a category of pool error.
type ErrorCode string

const (
	// ErrorCodeConfigNotFound indicates no configuration is registered under the name.
	ErrorCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	// ErrorCodeMiss indicates no usable connection exists for the name.
	ErrorCodeMiss ErrorCode = "MISS"
	// ErrorCodeSpawnFailed indicates the server process could not be started.
	ErrorCodeSpawnFailed ErrorCode = "SPAWN_FAILED"
	// ErrorCodeHandshakeTimeout indicates the initialize exchange did not complete in time.
	ErrorCodeHandshakeTimeout ErrorCode = "HANDSHAKE_TIMEOUT"
	// ErrorCodeProtocol indicates a malformed frame or a server-reported error response.
	ErrorCodeProtocol ErrorCode = "PROTOCOL"
	// ErrorCodeRequestTimeout indicates a single request exceeded its deadline.
	ErrorCodeRequestTimeout ErrorCode = "REQUEST_TIMEOUT"
	// ErrorCodeProcessExited indicates the server process exited or its pipe broke.
	ErrorCodeProcessExited ErrorCode = "PROCESS_EXITED"
	// ErrorCodeToolNotFound indicates the server does not expose the requested tool.
	ErrorCodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeInvalidArguments indicates the tool rejected the supplied arguments.
	ErrorCodeInvalidArguments ErrorCode = "INVALID_ARGUMENTS"
	// ErrorCodeShutdownInProgress indicates the pool is shutting down.
	ErrorCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"
	// ErrorCodeValidation indicates an invalid configuration value.
	ErrorCodeValidation ErrorCode = "VALIDATION"
)

// PoolError is the typed error returned by all pool operations.
type PoolError struct {
	// Code is the error category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error {
	return e.Cause
}

// NewPoolError creates a new PoolError.
func NewPoolError(code ErrorCode, message string) *PoolError {
	return &PoolError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *PoolError) WithDetail(detail string) *PoolError {
	e.Detail = detail
	return e
}

// WithCause adds an underlying cause to the error.
func (e *PoolError) WithCause(cause error) *PoolError {
	e.Cause = cause
	return e
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the chain
// contains no PoolError.
func CodeOf(err error) ErrorCode {
	var pe *PoolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsMiss reports whether err indicates a missing or unrecoverable connection.
func IsMiss(err error) bool {
	return CodeOf(err) == ErrorCodeMiss
}

// IsRequestTimeout reports whether err indicates a timed-out request.
func IsRequestTimeout(err error) bool {
	return CodeOf(err) == ErrorCodeRequestTimeout
}

// ErrConfigNotFound creates an error for an unregistered server name.
func ErrConfigNotFound(namespace, name string) *PoolError {
	return NewPoolError(ErrorCodeConfigNotFound,
		fmt.Sprintf("no configuration registered for server %q in namespace %q", name, namespace))
}

// ErrMiss creates an error for a missing or unrecoverable connection.
func ErrMiss(namespace, name string) *PoolError {
	return NewPoolError(ErrorCodeMiss,
		fmt.Sprintf("no usable connection for server %q in namespace %q", name, namespace))
}

// ErrSpawnFailed creates an error for a failed process spawn.
func ErrSpawnFailed(name string, cause error) *PoolError {
	return NewPoolError(ErrorCodeSpawnFailed,
		fmt.Sprintf("failed to spawn server %q", name)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrHandshakeTimeout creates an error for a handshake that did not complete.
func ErrHandshakeTimeout(name string, timeout time.Duration, cause error) *PoolError {
	e := NewPoolError(ErrorCodeHandshakeTimeout,
		fmt.Sprintf("server %q did not complete handshake within %s", name, timeout))
	if cause != nil {
		e = e.WithDetail(cause.Error()).WithCause(cause)
	}
	return e
}

// ErrProtocol creates an error for a server-reported JSON-RPC error.
func ErrProtocol(name string, obj *jsonrpc.ErrorObject) *PoolError {
	return NewPoolError(ErrorCodeProtocol,
		fmt.Sprintf("server %q reported error %d: %s", name, obj.Code, obj.Message)).
		WithCause(obj)
}

// ErrMalformedFrame creates an error for an undecodable inbound frame.
func ErrMalformedFrame(name string, cause error) *PoolError {
	return NewPoolError(ErrorCodeProtocol,
		fmt.Sprintf("server %q sent a malformed frame", name)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrRequestTimeout creates an error for a request that exceeded its deadline.
func ErrRequestTimeout(name, method string, timeout time.Duration) *PoolError {
	return NewPoolError(ErrorCodeRequestTimeout,
		fmt.Sprintf("request %q to server %q timed out after %s", method, name, timeout))
}

// ErrProcessExited creates an error for a broken transport.
func ErrProcessExited(name string, cause error) *PoolError {
	e := NewPoolError(ErrorCodeProcessExited,
		fmt.Sprintf("server %q process exited or pipe closed", name))
	if cause != nil {
		e = e.WithDetail(cause.Error()).WithCause(cause)
	}
	return e
}

// ErrToolNotFound creates an error for an unknown tool name.
func ErrToolNotFound(server, tool string) *PoolError {
	return NewPoolError(ErrorCodeToolNotFound,
		fmt.Sprintf("server %q does not expose tool %q", server, tool))
}

// ErrInvalidArguments creates an error for rejected tool arguments.
func ErrInvalidArguments(server, tool string, cause error) *PoolError {
	e := NewPoolError(ErrorCodeInvalidArguments,
		fmt.Sprintf("tool %q on server %q rejected arguments", tool, server))
	if cause != nil {
		e = e.WithDetail(cause.Error()).WithCause(cause)
	}
	return e
}

// ErrShutdownInProgress creates an error for operations on a closed pool.
func ErrShutdownInProgress() *PoolError {
	return NewPoolError(ErrorCodeShutdownInProgress, "pool is shutting down")
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *PoolError {
	return NewPoolError(ErrorCodeValidation, "invalid server configuration").
		WithDetail(detail)
}
