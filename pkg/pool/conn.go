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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/mcpool/pkg/jsonrpc"
)

// ProtocolVersion is the MCP protocol version sent during the handshake.
const ProtocolVersion = "2024-11-05"

// clientVersion identifies this client implementation to servers.
const clientVersion = "0.1.0"

// ConnState represents the lifecycle state of a connection.
type ConnState string

const (
	// ConnStarting indicates the process is spawned and handshaking.
	ConnStarting ConnState = "starting"
	// ConnReady indicates the connection accepts requests.
	ConnReady ConnState = "ready"
	// ConnDegraded indicates a transport fault was observed; the connection
	// is never handed to callers and awaits exactly one recovery attempt.
	ConnDegraded ConnState = "degraded"
	// ConnClosed is terminal; the process has been asked to exit and
	// resources are released.
	ConnClosed ConnState = "closed"
)

// connDeps carries pool-level collaborators into a connection.
type connDeps struct {
	logger           *slog.Logger
	events           *EventEmitter
	capture          *LogCapture
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
}

// Conn owns one tool-provider subprocess and its protocol session. The
// process handle is exclusively owned by the Conn; no other component
// touches it. Requests are strictly serialized: one in-flight request at a
// time, because a stdio channel gives no multiplexing guarantees.
type Conn struct {
	// id correlates log lines and events for this process instance
	id string

	namespace  string
	name       string
	config     ServerConfig
	generation uint64

	logger  *slog.Logger
	events  *EventEmitter
	capture *LogCapture

	requestTimeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	framer *jsonrpc.Framer

	// sendMu serializes the full write+await of a request
	sendMu sync.Mutex

	// mu guards state, degradedReason, pending, and nextID
	mu             sync.Mutex
	state          ConnState
	degradedReason string
	pending        map[int64]chan *jsonrpc.Message
	nextID         int64

	capabilities *ServerCapabilities
	serverInfo   ServerInfo

	closeOnce  sync.Once
	closeErr   error
	readerDone chan struct{}
}

// initializeParams is the client half of the handshake.
type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      ServerInfo `json:"clientInfo"`
}

// callToolParams is the body of a tools/call request.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// readResourceParams is the body of a resources/read request.
type readResourceParams struct {
	URI string `json:"uri"`
}

// dial spawns the server process and performs the initialize/initialized
// handshake. On any failure the process is torn down before returning; a
// half-initialized connection is never handed back.
func dial(ctx context.Context, namespace string, config ServerConfig, generation uint64, deps connDeps) (*Conn, error) {
	cmd := exec.Command(config.Command, config.Args...)
	cmd.Env = buildEnv(config.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, ErrSpawnFailed(config.Name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ErrSpawnFailed(config.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, ErrSpawnFailed(config.Name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, ErrSpawnFailed(config.Name, err)
	}

	requestTimeout := config.Timeout
	if requestTimeout == 0 {
		requestTimeout = deps.requestTimeout
	}

	c := &Conn{
		id:             uuid.NewString(),
		namespace:      namespace,
		name:           config.Name,
		config:         config,
		generation:     generation,
		logger:         deps.logger,
		events:         deps.events,
		capture:        deps.capture,
		requestTimeout: requestTimeout,
		cmd:            cmd,
		stdin:          stdin,
		framer:         jsonrpc.NewFramer(stdout, stdin),
		state:          ConnStarting,
		pending:        make(map[int64]chan *jsonrpc.Message),
		readerDone:     make(chan struct{}),
	}

	go c.readLoop()
	go c.captureStderr(stderr)

	handshakeTimeout := config.Timeout
	if handshakeTimeout == 0 {
		handshakeTimeout = deps.handshakeTimeout
	}

	if err := c.handshake(ctx, handshakeTimeout); err != nil {
		// Guaranteed teardown on every handshake exit path, including
		// cancellation: pipe closed, process reaped.
		_ = c.Close(time.Second)
		return nil, err
	}

	c.mu.Lock()
	c.state = ConnReady
	c.mu.Unlock()

	c.events.Emit(Event{
		Type:       EventReady,
		Namespace:  namespace,
		Server:     config.Name,
		Generation: generation,
		Details:    map[string]any{"conn_id": c.id, "pid": cmd.Process.Pid},
	})

	return c, nil
}

// buildEnv applies overrides on top of the parent environment, in sorted
// order for deterministic process invocations.
func buildEnv(overrides map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// handshake performs the initialize request and the initialized notification.
func (c *Conn) handshake(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ServerInfo{Name: "mcpool", Version: clientVersion},
	}

	result, err := c.send(ctx, "initialize", params, timeout)
	if err != nil {
		if IsRequestTimeout(err) {
			return ErrHandshakeTimeout(c.name, timeout, err)
		}
		return err
	}

	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return ErrMalformedFrame(c.name, fmt.Errorf("invalid initialize result: %w", err))
	}

	c.capabilities = &init.Capabilities
	c.serverInfo = init.ServerInfo

	if err := c.notify("notifications/initialized", nil); err != nil {
		return err
	}

	c.logger.Debug("mcp handshake complete",
		"namespace", c.namespace,
		"server", c.name,
		"generation", c.generation,
		"protocol_version", init.ProtocolVersion,
		"server_info", init.ServerInfo.Name,
	)

	return nil
}

// Send encodes a request, writes the frame, and awaits the correlated
// response or the per-request deadline. A timeout fails only the in-flight
// call; a transport-level write or read failure marks the connection
// Degraded.
func (c *Conn) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.send(ctx, method, params, c.requestTimeout)
}

func (c *Conn) send(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case ConnClosed:
		c.mu.Unlock()
		recordRequest(method, false)
		return nil, ErrProcessExited(c.name, nil).WithDetail("connection closed")
	case ConnDegraded:
		reason := c.degradedReason
		c.mu.Unlock()
		recordRequest(method, false)
		return nil, ErrProcessExited(c.name, nil).WithDetail("connection degraded: " + reason)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *jsonrpc.Message, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.framer.WriteMessage(jsonrpc.NewRequest(id, method, params)); err != nil {
		c.removePending(id)
		c.markDegraded("write failed: " + err.Error())
		recordRequest(method, false)
		return nil, ErrProcessExited(c.name, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			recordRequest(method, false)
			return nil, ErrProcessExited(c.name, nil).WithDetail("pipe closed while awaiting response")
		}
		if msg.Error != nil {
			recordRequest(method, false)
			return nil, ErrProtocol(c.name, msg.Error)
		}
		recordRequest(method, true)
		return msg.Result, nil

	case <-timer.C:
		// Slow is not broken: the pending entry is removed so a late
		// response gets dropped, but health is untouched.
		c.removePending(id)
		recordRequest(method, false)
		return nil, ErrRequestTimeout(c.name, method, timeout)

	case <-ctx.Done():
		c.removePending(id)
		recordRequest(method, false)
		return nil, ErrRequestTimeout(c.name, method, timeout).
			WithDetail("cancelled").
			WithCause(ctx.Err())
	}
}

// notify writes a notification frame (no response expected).
func (c *Conn) notify(method string, params any) error {
	c.mu.Lock()
	if c.state == ConnClosed {
		c.mu.Unlock()
		return ErrProcessExited(c.name, nil).WithDetail("connection closed")
	}
	c.mu.Unlock()

	if err := c.framer.WriteMessage(jsonrpc.NewNotification(method, params)); err != nil {
		c.markDegraded("write failed: " + err.Error())
		return ErrProcessExited(c.name, err)
	}
	return nil
}

// readLoop reads frames until the stream fails, delivering responses to
// their pending requests. Responses with no matching pending entry (stale,
// duplicate, or from a timed-out request) are dropped and logged, never
// misdelivered.
func (c *Conn) readLoop() {
	defer close(c.readerDone)

	for {
		msg, err := c.framer.ReadMessage()
		if err != nil {
			var parseErr *jsonrpc.ParseError
			if errors.As(err, &parseErr) {
				c.logger.Warn("malformed frame from mcp server",
					"namespace", c.namespace,
					"server", c.name,
					"generation", c.generation,
					"line", parseErr.Line,
					"error", parseErr.Cause,
				)
				c.markDegraded("malformed frame")
				c.failPending()
				return
			}

			c.mu.Lock()
			closed := c.state == ConnClosed
			c.mu.Unlock()
			if !closed {
				c.markDegraded("read failed: " + err.Error())
			}
			c.failPending()
			return
		}

		if !msg.IsResponse() {
			// Server-initiated requests and notifications are not part of
			// the supported surface; drop them visibly.
			c.logger.Debug("dropping server-initiated message",
				"server", c.name,
				"method", msg.Method,
			)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		if ok {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Warn("dropping response with no pending request",
				"namespace", c.namespace,
				"server", c.name,
				"generation", c.generation,
				"id", msg.ID,
			)
			recordStaleResponse()
			continue
		}

		ch <- msg
	}
}

// captureStderr drains the child's stderr into the log capture buffer.
func (c *Conn) captureStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.capture.Add(c.namespace, c.name, c.generation, scanner.Text())
	}
}

// removePending drops a pending entry, typically after timeout or cancel.
func (c *Conn) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending closes every pending response channel so waiters observe the
// transport failure instead of blocking until their deadlines.
func (c *Conn) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan *jsonrpc.Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// markDegraded transitions the connection to Degraded. The transition is
// one-way: only recovery (replacement) or Close moves the connection on.
func (c *Conn) markDegraded(reason string) {
	c.mu.Lock()
	if c.state == ConnClosed || c.state == ConnDegraded {
		c.mu.Unlock()
		return
	}
	c.state = ConnDegraded
	c.degradedReason = reason
	c.mu.Unlock()

	c.events.Emit(Event{
		Type:       EventDegraded,
		Namespace:  c.namespace,
		Server:     c.name,
		Generation: c.generation,
		Message:    reason,
	})
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Name returns the server name this connection belongs to.
func (c *Conn) Name() string {
	return c.name
}

// Namespace returns the namespace this connection belongs to.
func (c *Conn) Namespace() string {
	return c.namespace
}

// Generation returns the process generation behind this connection.
func (c *Conn) Generation() uint64 {
	return c.generation
}

// Pid returns the OS process id of the server process.
func (c *Conn) Pid() int {
	return c.cmd.Process.Pid
}

// Capabilities returns the capabilities reported during the handshake.
func (c *Conn) Capabilities() *ServerCapabilities {
	return c.capabilities
}

// ServerInfo returns the server identity reported during the handshake.
func (c *Conn) ServerInfo() ServerInfo {
	return c.serverInfo
}

// Ping checks that the server still responds on its pipe.
func (c *Conn) Ping(ctx context.Context) error {
	_, err := c.Send(ctx, "ping", nil)
	return err
}

// Close shuts the connection down: stdin is closed, the process receives a
// graceful termination signal, and after the grace period it is forcibly
// killed and reaped. Idempotent and safe to call from multiple call sites;
// every teardown step that fails is logged, never silently discarded.
func (c *Conn) Close(grace time.Duration) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.teardown(grace)
	})
	return c.closeErr
}

func (c *Conn) teardown(grace time.Duration) error {
	c.mu.Lock()
	c.state = ConnClosed
	c.mu.Unlock()

	log := c.logger.With(
		"namespace", c.namespace,
		"server", c.name,
		"generation", c.generation,
		"pid", c.cmd.Process.Pid,
	)

	if err := c.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Warn("failed to close server stdin", "error", err)
	}

	if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn("failed to signal server process", "error", err)
	}

	// Reap the process; cmd.Wait also closes the stdout pipe, which unblocks
	// the read loop if it has not already observed EOF.
	waitCh := make(chan error, 1)
	go func() { waitCh <- c.cmd.Wait() }()

	var killErr error
	select {
	case err := <-waitCh:
		if err != nil {
			log.Debug("server process exited", "error", err)
		}
	case <-time.After(grace):
		log.Warn("server did not exit within grace period, killing", "grace", grace)
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Error("failed to kill server process", "error", err)
			killErr = fmt.Errorf("failed to kill server %q (pid %d): %w", c.name, c.cmd.Process.Pid, err)
		}
		if err := <-waitCh; err != nil {
			log.Debug("server process exited after kill", "error", err)
		}
	}

	<-c.readerDone
	c.failPending()

	c.events.Emit(Event{
		Type:       EventClosed,
		Namespace:  c.namespace,
		Server:     c.name,
		Generation: c.generation,
	})

	return killErr
}
