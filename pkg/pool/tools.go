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
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/mcpool/pkg/jsonrpc"
)

// Invoker is the discovery and invocation surface on top of the pool. It
// resolves connections through Get, so callers see the pool's error taxonomy
// (MISS on cold slots, CONFIG_NOT_FOUND on unknown servers) rather than raw
// transport failures.
type Invoker struct {
	pool   *Pool
	tracer trace.Tracer
}

// NewInvoker creates an invoker backed by the pool.
func NewInvoker(p *Pool) *Invoker {
	return &Invoker{
		pool:   p,
		tracer: otel.Tracer("mcpool"),
	}
}

// ListTools returns the tools exposed by a server.
func (inv *Invoker) ListTools(ctx context.Context, namespace, server string) ([]ToolDescriptor, error) {
	ctx, span := inv.tracer.Start(ctx, "mcp.tools.list", trace.WithAttributes(
		attribute.String("mcp.namespace", namespace),
		attribute.String("mcp.server", server),
	))
	defer span.End()

	conn, err := inv.pool.Get(ctx, namespace, server)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	result, err := conn.Send(ctx, "tools/list", nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	var parsed struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, recordSpanError(span, ErrMalformedFrame(server, err))
	}

	span.SetAttributes(attribute.Int("mcp.tool_count", len(parsed.Tools)))
	return parsed.Tools, nil
}

// CallTool invokes a tool on a server. A tool-level failure is not an
// error: the server reports it inside the result with IsError set, and the
// caller inspects the content. Errors are reserved for the pool and
// protocol layers (unknown tool, rejected arguments, broken connection).
func (inv *Invoker) CallTool(ctx context.Context, namespace, server, tool string, args map[string]any) (*ToolResult, error) {
	ctx, span := inv.tracer.Start(ctx, "mcp.tools.call", trace.WithAttributes(
		attribute.String("mcp.namespace", namespace),
		attribute.String("mcp.server", server),
		attribute.String("mcp.tool", tool),
	))
	defer span.End()

	conn, err := inv.pool.Get(ctx, namespace, server)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	params := callToolParams{Name: tool, Arguments: args}
	result, err := conn.Send(ctx, "tools/call", params)
	if err != nil {
		return nil, recordSpanError(span, mapToolCallError(server, tool, err))
	}

	var parsed ToolResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, recordSpanError(span, ErrMalformedFrame(server, err))
	}

	if parsed.IsError {
		span.SetAttributes(attribute.Bool("mcp.tool_error", true))
	}
	return &parsed, nil
}

// ListResources returns the resources exposed by a server.
func (inv *Invoker) ListResources(ctx context.Context, namespace, server string) ([]ResourceDescriptor, error) {
	ctx, span := inv.tracer.Start(ctx, "mcp.resources.list", trace.WithAttributes(
		attribute.String("mcp.namespace", namespace),
		attribute.String("mcp.server", server),
	))
	defer span.End()

	conn, err := inv.pool.Get(ctx, namespace, server)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	result, err := conn.Send(ctx, "resources/list", nil)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	var parsed struct {
		Resources []ResourceDescriptor `json:"resources"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, recordSpanError(span, ErrMalformedFrame(server, err))
	}
	return parsed.Resources, nil
}

// ReadResource reads the content of a resource by URI.
func (inv *Invoker) ReadResource(ctx context.Context, namespace, server, uri string) ([]ResourceContent, error) {
	ctx, span := inv.tracer.Start(ctx, "mcp.resources.read", trace.WithAttributes(
		attribute.String("mcp.namespace", namespace),
		attribute.String("mcp.server", server),
		attribute.String("mcp.resource_uri", uri),
	))
	defer span.End()

	conn, err := inv.pool.Get(ctx, namespace, server)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	result, err := conn.Send(ctx, "resources/read", readResourceParams{URI: uri})
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	var parsed struct {
		Contents []ResourceContent `json:"contents"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, recordSpanError(span, ErrMalformedFrame(server, err))
	}
	return parsed.Contents, nil
}

// mapToolCallError refines a server-reported JSON-RPC error into the tool
// taxonomy. Method-not-found means the server has no tools/call at all;
// invalid-params covers both unknown tool names and rejected arguments, so
// the message is inspected to tell them apart the way common servers phrase
// it.
func mapToolCallError(server, tool string, err error) error {
	var pe *PoolError
	if !errors.As(err, &pe) || pe.Code != ErrorCodeProtocol {
		return err
	}
	var obj *jsonrpc.ErrorObject
	if !errors.As(pe.Cause, &obj) {
		return err
	}

	switch obj.Code {
	case jsonrpc.CodeMethodNotFound:
		return ErrToolNotFound(server, tool).WithCause(obj)
	case jsonrpc.CodeInvalidParams:
		if strings.Contains(strings.ToLower(obj.Message), "unknown tool") {
			return ErrToolNotFound(server, tool).WithCause(obj)
		}
		return ErrInvalidArguments(server, tool, obj)
	default:
		return err
	}
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(CodeOf(err)))
	return err
}
