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
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/tombee/mcpool/internal/echoserver"
)

// TestMain re-execs the test binary as an MCP echo server when the marker
// env var is set. This lets every test spawn a real subprocess speaking the
// real protocol without building a separate fixture binary.
func TestMain(m *testing.M) {
	if os.Getenv("MCPOOL_TEST_SERVER") == "1" {
		if os.Getenv("MCPOOL_TEST_IGNORE_TERM") == "1" {
			signal.Ignore(syscall.SIGTERM)
		}
		opts := echoserver.Options{
			ServerName:         os.Getenv("MCPOOL_TEST_NAME"),
			HangHandshake:      os.Getenv("MCPOOL_TEST_HANG") == "1",
			DuplicateResponses: os.Getenv("MCPOOL_TEST_DUPLICATE") == "1",
			EmitStaleID:        os.Getenv("MCPOOL_TEST_STALE") == "1",
			LingerOnEOF:        os.Getenv("MCPOOL_TEST_LINGER") == "1",
		}
		if ms, _ := strconv.Atoi(os.Getenv("MCPOOL_TEST_DELAY_MS")); ms > 0 {
			opts.ResponseDelay = time.Duration(ms) * time.Millisecond
		}
		opts.ExitAfter, _ = strconv.Atoi(os.Getenv("MCPOOL_TEST_EXIT_AFTER"))

		if err := echoserver.Run(os.Stdin, os.Stdout, opts); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// testServerConfig builds a config that re-execs this test binary as an
// echo server, with optional fault-injection env overrides.
func testServerConfig(name string, env map[string]string) ServerConfig {
	merged := map[string]string{
		"MCPOOL_TEST_SERVER": "1",
		"MCPOOL_TEST_NAME":   name,
	}
	for k, v := range env {
		merged[k] = v
	}
	return ServerConfig{
		Name:    name,
		Command: os.Args[0],
		Env:     merged,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPool creates a pool with fast timeouts and guaranteed teardown.
func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 2 * time.Second
	}
	if cfg.RecoveryCooldown == 0 {
		cfg.RecoveryCooldown = 100 * time.Millisecond
	}
	p := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func testDeps() connDeps {
	logger := testLogger()
	return connDeps{
		logger:           logger,
		events:           NewEventEmitter(logger, nil),
		capture:          NewLogCapture(100),
		handshakeTimeout: 5 * time.Second,
		requestTimeout:   5 * time.Second,
	}
}

// processAlive reports whether the pid refers to a live (or zombie)
// process. A reaped process yields ESRCH.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
