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
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialHandshake(t *testing.T) {
	conn, err := dial(context.Background(), "test", testServerConfig("echo", nil), 1, testDeps())
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	assert.Equal(t, ConnReady, conn.State())
	assert.Equal(t, "echo", conn.Name())
	assert.Equal(t, "test", conn.Namespace())
	assert.Equal(t, uint64(1), conn.Generation())
	assert.Greater(t, conn.Pid(), 0)
	assert.Equal(t, "echo", conn.ServerInfo().Name)

	caps := conn.Capabilities()
	require.NotNil(t, caps)
	assert.NotNil(t, caps.Tools)
}

func TestDialSpawnFailure(t *testing.T) {
	config := ServerConfig{Name: "broken", Command: "/nonexistent-mcpool-binary"}
	_, err := dial(context.Background(), "test", config, 1, testDeps())
	require.Error(t, err)
	assert.Equal(t, ErrorCodeSpawnFailed, CodeOf(err))
}

func TestDialHandshakeTimeout(t *testing.T) {
	deps := testDeps()
	deps.handshakeTimeout = 300 * time.Millisecond

	config := testServerConfig("hung", map[string]string{"MCPOOL_TEST_HANG": "1"})
	_, err := dial(context.Background(), "test", config, 1, deps)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeHandshakeTimeout, CodeOf(err))
}

func TestDialRejectsStaleHandshakeResponse(t *testing.T) {
	deps := testDeps()
	deps.handshakeTimeout = 300 * time.Millisecond

	// The server answers with a fabricated id, so the initialize response
	// never matches the pending request and the handshake times out.
	config := testServerConfig("stale", map[string]string{"MCPOOL_TEST_STALE": "1"})
	_, err := dial(context.Background(), "test", config, 1, deps)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeHandshakeTimeout, CodeOf(err))
}

func TestSendRoundTrip(t *testing.T) {
	conn, err := dial(context.Background(), "test", testServerConfig("echo", nil), 1, testDeps())
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	result, err := conn.Send(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(result))
}

func TestSendServerError(t *testing.T) {
	conn, err := dial(context.Background(), "test", testServerConfig("echo", nil), 1, testDeps())
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	_, err = conn.Send(context.Background(), "no/such/method", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProtocol, CodeOf(err))

	// A server-reported error is not a transport fault
	assert.Equal(t, ConnReady, conn.State())
}

func TestSendTimeoutDoesNotDegrade(t *testing.T) {
	deps := testDeps()
	deps.requestTimeout = 150 * time.Millisecond

	config := testServerConfig("slow", map[string]string{"MCPOOL_TEST_DELAY_MS": "600"})
	conn, err := dial(context.Background(), "test", config, 1, deps)
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	_, err = conn.Send(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.True(t, IsRequestTimeout(err))

	// Slow is not broken: the connection stays ready, and the late
	// response is dropped without being misdelivered.
	assert.Equal(t, ConnReady, conn.State())
}

func TestDuplicateResponsesDropped(t *testing.T) {
	config := testServerConfig("dup", map[string]string{"MCPOOL_TEST_DUPLICATE": "1"})
	conn, err := dial(context.Background(), "test", config, 1, testDeps())
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	// Each duplicate is dropped because the pending entry is removed on
	// first delivery; subsequent requests still correlate correctly.
	for i := 0; i < 3; i++ {
		result, err := conn.Send(context.Background(), "ping", nil)
		require.NoError(t, err)
		assert.JSONEq(t, "{}", string(result))
	}
	assert.Equal(t, ConnReady, conn.State())
}

func TestExternalKillDegrades(t *testing.T) {
	conn, err := dial(context.Background(), "test", testServerConfig("victim", nil), 1, testDeps())
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	require.NoError(t, syscall.Kill(conn.Pid(), syscall.SIGKILL))

	require.Eventually(t, func() bool {
		return conn.State() == ConnDegraded
	}, 5*time.Second, 10*time.Millisecond)

	_, err = conn.Send(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProcessExited, CodeOf(err))
}

func TestProcessExitFailsInflightRequest(t *testing.T) {
	// The server exits after answering the handshake, so the next request
	// observes the broken pipe instead of blocking until its deadline.
	config := testServerConfig("quitter", map[string]string{"MCPOOL_TEST_EXIT_AFTER": "1"})
	conn, err := dial(context.Background(), "test", config, 1, testDeps())
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	start := time.Now()
	_, err = conn.Send(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProcessExited, CodeOf(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCloseIsIdempotentAndReaps(t *testing.T) {
	conn, err := dial(context.Background(), "test", testServerConfig("echo", nil), 1, testDeps())
	require.NoError(t, err)

	pid := conn.Pid()
	require.NoError(t, conn.Close(2*time.Second))
	require.NoError(t, conn.Close(2*time.Second))

	assert.Equal(t, ConnClosed, conn.State())
	assert.False(t, processAlive(pid))

	_, err = conn.Send(context.Background(), "ping", nil)
	require.Error(t, err)
	assert.Equal(t, ErrorCodeProcessExited, CodeOf(err))
}

func TestCloseForceKillsStubbornProcess(t *testing.T) {
	config := testServerConfig("stubborn", map[string]string{
		"MCPOOL_TEST_IGNORE_TERM": "1",
		"MCPOOL_TEST_LINGER":      "1",
	})
	conn, err := dial(context.Background(), "test", config, 1, testDeps())
	require.NoError(t, err)

	pid := conn.Pid()

	// The server survives both EOF and SIGTERM, so teardown must escalate
	// to SIGKILL after the grace period and still reap the process.
	require.NoError(t, conn.Close(200*time.Millisecond))
	assert.False(t, processAlive(pid))
}

func TestStderrCaptured(t *testing.T) {
	deps := testDeps()
	conn, err := dial(context.Background(), "test", testServerConfig("noisy", nil), 3, deps)
	require.NoError(t, err)
	defer conn.Close(2 * time.Second)

	require.Eventually(t, func() bool {
		entries := deps.capture.Last("test", "noisy", 0)
		for _, e := range entries {
			if e.Generation == 3 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
