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
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

// slotKey identifies one (namespace, server) slot. Server names cannot
// contain slashes, so the key is unambiguous.
func slotKey(namespace, name string) string {
	return namespace + "/" + name
}

// Config configures a Pool. The zero value is usable; every field has a
// default.
type Config struct {
	// Logger receives structured pool and connection logs.
	Logger *slog.Logger

	// HandshakeTimeout bounds spawn plus initialize exchange.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds a single request/response round trip.
	RequestTimeout time.Duration

	// ShutdownGrace is how long a process gets between the graceful
	// termination signal and the forced kill.
	ShutdownGrace time.Duration

	// RecoveryCooldown is the initial interval between recovery attempts
	// for the same server after a failed recovery. Subsequent failures
	// back off exponentially.
	RecoveryCooldown time.Duration

	// LogLines is how many stderr lines to retain per server.
	LogLines int

	// EventSink, if set, receives every connection lifecycle event.
	EventSink func(Event)
}

// cooldownState tracks the recovery backoff for one slot. It survives slot
// removal so repeated failing recoveries keep backing off; a successful
// warmup or recovery discards it.
type cooldownState struct {
	until   time.Time
	backoff backoff.BackOff
}

func newCooldownState(initial time.Duration) *cooldownState {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &cooldownState{backoff: bo}
}

// Pool manages tool-provider connections keyed by (namespace, server name).
// At most one live process exists per slot at any moment: replacement always
// closes the old process before the new connection becomes visible, and all
// spawn work for a slot is serialized through a singleflight group so
// concurrent warmups or recoveries collapse into one attempt.
type Pool struct {
	logger  *slog.Logger
	events  *EventEmitter
	capture *LogCapture

	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	shutdownGrace    time.Duration
	recoveryCooldown time.Duration

	// flight serializes spawn work per slot key
	flight singleflight.Group

	// mu guards registry, conns, gens, cooldowns, and closed
	mu        sync.Mutex
	registry  *Registry
	conns     map[string]map[string]*Conn
	gens      map[string]uint64
	cooldowns map[string]*cooldownState
	closed    bool
}

// New creates a pool with an empty registry.
func New(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.RecoveryCooldown == 0 {
		cfg.RecoveryCooldown = DefaultRecoveryCooldown
	}

	return &Pool{
		logger:           logger,
		events:           NewEventEmitter(logger, cfg.EventSink),
		capture:          NewLogCapture(cfg.LogLines),
		handshakeTimeout: cfg.HandshakeTimeout,
		requestTimeout:   cfg.RequestTimeout,
		shutdownGrace:    cfg.ShutdownGrace,
		recoveryCooldown: cfg.RecoveryCooldown,
		registry:         NewRegistry(),
		conns:            make(map[string]map[string]*Conn),
		gens:             make(map[string]uint64),
		cooldowns:        make(map[string]*cooldownState),
	}
}

func (p *Pool) connDeps() connDeps {
	return connDeps{
		logger:           p.logger,
		events:           p.events,
		capture:          p.capture,
		handshakeTimeout: p.handshakeTimeout,
		requestTimeout:   p.requestTimeout,
	}
}

// Register validates and stores a server config under the namespace.
// Registering is cheap and spawns nothing; a live connection under the same
// name keeps running on its old config until the next warmup.
func (p *Pool) Register(namespace string, config ServerConfig) error {
	if namespace == "" {
		return ErrInvalidConfig("namespace is required")
	}
	if err := config.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutdownInProgress()
	}
	p.registry.Register(namespace, config.Name, config)
	return nil
}

// Unregister removes a server config. A live connection keeps serving until
// it degrades; its recovery will then fail with CONFIG_NOT_FOUND.
func (p *Pool) Unregister(namespace, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.Remove(namespace, name)
}

// Warmup spawns and handshakes the named servers concurrently, returning a
// per-name outcome (nil on success). With no names, every server registered
// in the namespace is warmed. Warming an already-live server closes the old
// process first and replaces it with a fresh generation. A failed warmup
// leaves no connection behind: the next Get reports a Miss.
func (p *Pool) Warmup(ctx context.Context, namespace string, names ...string) map[string]error {
	if len(names) == 0 {
		p.mu.Lock()
		names = p.registry.Names(namespace)
		p.mu.Unlock()
	}

	results := make(map[string]error, len(names))
	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err, _ := p.flight.Do(slotKey(namespace, name), func() (any, error) {
				return p.warmupSlot(ctx, namespace, name)
			})
			resMu.Lock()
			results[name] = err
			resMu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

func (p *Pool) warmupSlot(ctx context.Context, namespace, name string) (*Conn, error) {
	key := slotKey(namespace, name)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdownInProgress()
	}
	config, registered := p.registry.Lookup(namespace, name)
	if !registered {
		p.mu.Unlock()
		return nil, ErrConfigNotFound(namespace, name)
	}
	old := p.lookupConnLocked(namespace, name)
	if old != nil {
		p.removeConnLocked(namespace, name)
	}
	p.gens[key]++
	gen := p.gens[key]
	p.mu.Unlock()

	// The old process is fully closed before its replacement spawns, so a
	// slot never holds two live processes.
	if old != nil {
		_ = old.Close(p.shutdownGrace)
	}

	conn, err := dial(ctx, namespace, config, gen, p.connDeps())
	if err != nil {
		recordWarmup(namespace, false)
		p.events.Emit(Event{
			Type:       EventWarmupFailed,
			Namespace:  namespace,
			Server:     name,
			Generation: gen,
			Message:    err.Error(),
		})
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close(p.shutdownGrace)
		return nil, ErrShutdownInProgress()
	}
	p.storeConnLocked(namespace, name, conn)
	delete(p.cooldowns, key)
	p.mu.Unlock()

	recordWarmup(namespace, true)
	return conn, nil
}

// Get returns the live connection for the named server. Get never spawns a
// cold slot: a server that was never warmed (or whose warmup failed) yields
// a MISS error, and the caller decides whether to warm up. A degraded
// connection triggers at most one recovery attempt, shared by all concurrent
// callers; while a failed recovery's cooldown is in effect, Get misses
// immediately without touching the process table.
func (p *Pool) Get(ctx context.Context, namespace, name string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdownInProgress()
	}
	_, registered := p.registry.Lookup(namespace, name)
	conn := p.lookupConnLocked(namespace, name)
	var cooldownUntil time.Time
	if cd, ok := p.cooldowns[slotKey(namespace, name)]; ok {
		cooldownUntil = cd.until
	}
	p.mu.Unlock()

	if conn == nil {
		if !registered {
			return nil, ErrConfigNotFound(namespace, name)
		}
		return nil, ErrMiss(namespace, name)
	}

	if conn.State() == ConnReady {
		return conn, nil
	}

	if time.Now().Before(cooldownUntil) {
		return nil, ErrMiss(namespace, name).
			WithDetail("recovery cooldown until " + cooldownUntil.Format(time.RFC3339))
	}

	v, err, _ := p.flight.Do(slotKey(namespace, name), func() (any, error) {
		return p.recoverSlot(ctx, namespace, name, conn)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// recoverSlot replaces a degraded connection with a fresh generation. On
// failure the slot is removed and a cooldown recorded, so subsequent Gets
// miss cheaply instead of respawning in a tight loop.
func (p *Pool) recoverSlot(ctx context.Context, namespace, name string, old *Conn) (*Conn, error) {
	key := slotKey(namespace, name)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrShutdownInProgress()
	}
	cur := p.lookupConnLocked(namespace, name)
	if cur != old {
		// Another caller already replaced or removed this connection.
		p.mu.Unlock()
		if cur != nil && cur.State() == ConnReady {
			return cur, nil
		}
		return nil, ErrMiss(namespace, name)
	}
	p.removeConnLocked(namespace, name)
	config, registered := p.registry.Lookup(namespace, name)
	p.gens[key]++
	gen := p.gens[key]
	p.mu.Unlock()

	p.logger.Info("recovering mcp server",
		"namespace", namespace,
		"server", name,
		"generation", gen,
	)

	_ = old.Close(p.shutdownGrace)

	if !registered {
		recordRecovery(namespace, false)
		return nil, ErrConfigNotFound(namespace, name)
	}

	conn, err := dial(ctx, namespace, config, gen, p.connDeps())
	if err != nil {
		p.mu.Lock()
		cd, ok := p.cooldowns[key]
		if !ok {
			cd = newCooldownState(p.recoveryCooldown)
			p.cooldowns[key] = cd
		}
		cd.until = time.Now().Add(cd.backoff.NextBackOff())
		p.mu.Unlock()

		recordRecovery(namespace, false)
		p.events.Emit(Event{
			Type:       EventRecoveryFailed,
			Namespace:  namespace,
			Server:     name,
			Generation: gen,
			Message:    err.Error(),
		})
		return nil, ErrMiss(namespace, name).
			WithDetail("recovery failed").
			WithCause(err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close(p.shutdownGrace)
		return nil, ErrShutdownInProgress()
	}
	p.storeConnLocked(namespace, name, conn)
	delete(p.cooldowns, key)
	p.mu.Unlock()

	recordRecovery(namespace, true)
	p.events.Emit(Event{
		Type:       EventRecovered,
		Namespace:  namespace,
		Server:     name,
		Generation: gen,
	})
	return conn, nil
}

// Stats returns a snapshot of one namespace.
func (p *Pool) Stats(namespace string) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Registered:  p.registry.Names(namespace),
		Health:      make(map[string]ConnState),
		Generations: make(map[string]uint64),
	}

	active := make([]string, 0, len(p.conns[namespace]))
	for name, conn := range p.conns[namespace] {
		active = append(active, name)
		st.Health[name] = conn.State()
		st.Generations[name] = conn.Generation()
	}
	sort.Strings(active)
	st.Active = active
	return st
}

// Namespaces returns the sorted namespaces with at least one registration.
func (p *Pool) Namespaces() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.Namespaces()
}

// Logs returns the last n captured stderr lines for a server, oldest first.
func (p *Pool) Logs(namespace, name string, n int) []LogEntry {
	return p.capture.Last(namespace, name, n)
}

// Shutdown closes connections concurrently, giving each process the grace
// period before force-killing it, and reaps every child. With no namespaces
// given the whole pool shuts down and rejects further operations with
// SHUTDOWN_IN_PROGRESS; with namespaces given only those are drained and the
// pool stays open. The context bounds how long Shutdown waits, but teardown
// of every process completes regardless.
func (p *Pool) Shutdown(ctx context.Context, namespaces ...string) error {
	p.mu.Lock()
	if len(namespaces) == 0 {
		p.closed = true
		for ns := range p.conns {
			namespaces = append(namespaces, ns)
		}
	}
	var victims []*Conn
	for _, ns := range namespaces {
		for name := range p.conns[ns] {
			victims = append(victims, p.conns[ns][name])
		}
		for name := range p.conns[ns] {
			p.removeConnLocked(ns, name)
		}
	}
	p.mu.Unlock()

	p.logger.Info("shutting down mcp connections", "count", len(victims))

	var wg sync.WaitGroup
	for _, conn := range victims {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			_ = c.Close(p.shutdownGrace)
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) lookupConnLocked(namespace, name string) *Conn {
	return p.conns[namespace][name]
}

func (p *Pool) storeConnLocked(namespace, name string, conn *Conn) {
	servers, ok := p.conns[namespace]
	if !ok {
		servers = make(map[string]*Conn)
		p.conns[namespace] = servers
	}
	servers[name] = conn
	poolActiveConnections.WithLabelValues(namespace).Inc()
}

func (p *Pool) removeConnLocked(namespace, name string) {
	servers, ok := p.conns[namespace]
	if !ok {
		return
	}
	if _, ok := servers[name]; !ok {
		return
	}
	delete(servers, name)
	if len(servers) == 0 {
		delete(p.conns, namespace)
	}
	poolActiveConnections.WithLabelValues(namespace).Dec()
}
