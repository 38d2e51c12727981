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

import "context"

// ToolProvider defines the discovery and invocation surface consumers depend
// on. This interface enables dependency injection and testing with mock
// implementations; see pkg/pool/pooltest.
type ToolProvider interface {
	// ListTools retrieves the tools exposed by a server.
	ListTools(ctx context.Context, namespace, server string) ([]ToolDescriptor, error)

	// CallTool invokes a tool with the given arguments.
	CallTool(ctx context.Context, namespace, server, tool string, args map[string]any) (*ToolResult, error)

	// ListResources retrieves the resources exposed by a server.
	ListResources(ctx context.Context, namespace, server string) ([]ResourceDescriptor, error)

	// ReadResource reads the content of a resource by URI.
	ReadResource(ctx context.Context, namespace, server, uri string) ([]ResourceContent, error)
}

var _ ToolProvider = (*Invoker)(nil)
