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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateServerName(t *testing.T) {
	valid := []string{"a", "filesystem", "my-server", "my_server", "Server2"}
	for _, name := range valid {
		assert.NoError(t, ValidateServerName(name), name)
	}

	invalid := []string{"", "2server", "-server", "_server", "my server", "my/server", strings.Repeat("a", 65)}
	for _, name := range invalid {
		assert.Error(t, ValidateServerName(name), name)
	}
}

func TestServerConfigValidate(t *testing.T) {
	config := ServerConfig{Name: "echo", Command: "echo-server", Timeout: time.Second}
	require.NoError(t, config.Validate())

	config.Command = ""
	require.Error(t, config.Validate())

	config.Command = "echo-server"
	config.Timeout = -1
	require.Error(t, config.Validate())
}

func TestServerConfigCloneIsDeep(t *testing.T) {
	original := ServerConfig{
		Name:    "echo",
		Command: "echo-server",
		Args:    []string{"--verbose"},
		Env:     map[string]string{"KEY": "value"},
	}

	copied := original.clone()
	copied.Args[0] = "--quiet"
	copied.Env["KEY"] = "changed"

	assert.Equal(t, "--verbose", original.Args[0])
	assert.Equal(t, "value", original.Env["KEY"])
}
