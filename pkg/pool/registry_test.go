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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register("ns", "echo", ServerConfig{Name: "echo", Command: "echo-server"})

	config, ok := r.Lookup("ns", "echo")
	require.True(t, ok)
	assert.Equal(t, "echo-server", config.Command)

	_, ok = r.Lookup("ns", "ghost")
	assert.False(t, ok)
	_, ok = r.Lookup("other", "echo")
	assert.False(t, ok)
}

func TestRegistryReplaceSupersedes(t *testing.T) {
	r := NewRegistry()
	r.Register("ns", "echo", ServerConfig{Name: "echo", Command: "v1"})
	r.Register("ns", "echo", ServerConfig{Name: "echo", Command: "v2"})

	config, ok := r.Lookup("ns", "echo")
	require.True(t, ok)
	assert.Equal(t, "v2", config.Command)
	assert.Equal(t, []string{"echo"}, r.Names("ns"))
}

func TestRegistryLookupReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register("ns", "echo", ServerConfig{
		Name:    "echo",
		Command: "echo-server",
		Env:     map[string]string{"KEY": "value"},
	})

	config, ok := r.Lookup("ns", "echo")
	require.True(t, ok)
	config.Env["KEY"] = "mutated"

	again, _ := r.Lookup("ns", "echo")
	assert.Equal(t, "value", again.Env["KEY"])
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	r.Register("ns", "echo", ServerConfig{Name: "echo", Command: "echo-server"})
	r.Remove("ns", "echo")

	_, ok := r.Lookup("ns", "echo")
	assert.False(t, ok)
	assert.Empty(t, r.Namespaces())

	// Removing a missing entry is a no-op
	r.Remove("ns", "echo")
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register("ns", name, ServerConfig{Name: name, Command: "cmd"})
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names("ns"))
}
