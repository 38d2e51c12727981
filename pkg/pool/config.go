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
	"fmt"
	"regexp"
	"time"
)

// Default timeouts and grace periods. Each can be overridden per pool via
// Config, and per server via ServerConfig.Timeout.
const (
	// DefaultHandshakeTimeout bounds spawn plus initialize exchange.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds a single request/response round trip.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultShutdownGrace is how long a process gets to exit after a
	// graceful termination signal before it is forcibly killed.
	DefaultShutdownGrace = 5 * time.Second

	// DefaultRecoveryCooldown is the initial minimum interval between
	// recovery attempts for the same server after a failed recovery.
	DefaultRecoveryCooldown = 5 * time.Second
)

// ServerNameRegex defines valid server names: start with a letter, then
// letters, numbers, hyphens, and underscores, at most 64 characters total.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ServerConfig describes one tool-provider process. Values are copied at
// registration time and never mutated in place; re-registering under the
// same name supersedes the previous config without touching a live
// connection (explicit re-warmup picks up the new config).
type ServerConfig struct {
	// Name is the unique identifier for this server within a namespace
	Name string

	// Command is the executable to run
	Command string

	// Args are the command-line arguments
	Args []string

	// Env are environment variable overrides applied on top of the
	// parent environment
	Env map[string]string

	// Timeout bounds both the handshake and individual requests
	// (defaults to the pool's configured values when zero)
	Timeout time.Duration
}

// Validate checks that the configuration is complete and well-formed.
func (c ServerConfig) Validate() error {
	if err := ValidateServerName(c.Name); err != nil {
		return err
	}
	if c.Command == "" {
		return ErrInvalidConfig("command is required")
	}
	if c.Timeout < 0 {
		return ErrInvalidConfig(fmt.Sprintf("timeout must not be negative, got %s", c.Timeout))
	}
	return nil
}

// ValidateServerName validates a server name.
func ValidateServerName(name string) error {
	if name == "" {
		return ErrInvalidConfig("server name is required")
	}
	if len(name) > 64 {
		return ErrInvalidConfig("server name exceeds 64 character limit")
	}
	if !ServerNameRegex.MatchString(name) {
		return ErrInvalidConfig("server name must start with a letter and contain only letters, numbers, hyphens, and underscores")
	}
	return nil
}

// clone returns a deep copy so registered configs cannot be mutated by the
// caller after registration.
func (c ServerConfig) clone() ServerConfig {
	out := c
	if c.Args != nil {
		out.Args = make([]string, len(c.Args))
		copy(out.Args, c.Args)
	}
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}
