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

// Package pooltest provides a mock pool.ToolProvider for testing code that
// invokes tools without spawning real server processes.
package pooltest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tombee/mcpool/pkg/pool"
)

// MockServer configures one mock server within a MockProvider.
type MockServer struct {
	Namespace string
	Name      string
	Tools     []pool.ToolDescriptor
	Resources []pool.ResourceDescriptor

	// CallHandler, if set, handles every CallTool. When nil the mock
	// returns a text item naming the tool.
	CallHandler func(ctx context.Context, tool string, args map[string]any) (*pool.ToolResult, error)
}

// MockProvider implements pool.ToolProvider for testing. Servers are added
// with AddServer; operations against unknown servers return MISS the way the
// real pool does for cold slots.
type MockProvider struct {
	mu        sync.RWMutex
	servers   map[string]MockServer
	callDelay time.Duration
}

var _ pool.ToolProvider = (*MockProvider)(nil)

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		servers: make(map[string]MockServer),
	}
}

// AddServer registers a mock server.
func (m *MockProvider) AddServer(server MockServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[server.Namespace+"/"+server.Name] = server
}

// RemoveServer drops a mock server, so subsequent operations miss.
func (m *MockProvider) RemoveServer(namespace, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, namespace+"/"+name)
}

// WithCallDelay delays every CallTool by d.
func (m *MockProvider) WithCallDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callDelay = d
	return m
}

func (m *MockProvider) lookup(namespace, name string) (MockServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	server, ok := m.servers[namespace+"/"+name]
	if !ok {
		return MockServer{}, pool.ErrMiss(namespace, name)
	}
	return server, nil
}

// ListTools returns the configured tools.
func (m *MockProvider) ListTools(ctx context.Context, namespace, name string) ([]pool.ToolDescriptor, error) {
	server, err := m.lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	tools := make([]pool.ToolDescriptor, len(server.Tools))
	copy(tools, server.Tools)
	return tools, nil
}

// CallTool invokes the configured handler, or echoes the tool name.
func (m *MockProvider) CallTool(ctx context.Context, namespace, name, tool string, args map[string]any) (*pool.ToolResult, error) {
	server, err := m.lookup(namespace, name)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	delay := m.callDelay
	m.mu.RUnlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	known := false
	for _, desc := range server.Tools {
		if desc.Name == tool {
			known = true
			break
		}
	}
	if !known {
		return nil, pool.ErrToolNotFound(name, tool)
	}

	if server.CallHandler != nil {
		return server.CallHandler(ctx, tool, args)
	}
	return &pool.ToolResult{
		Content: []pool.ContentItem{
			{Type: "text", Text: fmt.Sprintf("mock response for %s", tool)},
		},
	}, nil
}

// ListResources returns the configured resources.
func (m *MockProvider) ListResources(ctx context.Context, namespace, name string) ([]pool.ResourceDescriptor, error) {
	server, err := m.lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	resources := make([]pool.ResourceDescriptor, len(server.Resources))
	copy(resources, server.Resources)
	return resources, nil
}

// ReadResource returns a text body for any configured resource URI.
func (m *MockProvider) ReadResource(ctx context.Context, namespace, name, uri string) ([]pool.ResourceContent, error) {
	server, err := m.lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	for _, desc := range server.Resources {
		if desc.URI == uri {
			return []pool.ResourceContent{
				{URI: uri, MimeType: desc.MimeType, Text: "mock content for " + uri},
			}, nil
		}
	}
	return nil, pool.NewPoolError(pool.ErrorCodeProtocol,
		fmt.Sprintf("server %q has no resource %q", name, uri))
}
