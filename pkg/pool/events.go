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
	"log/slog"
	"time"
)

// EventType represents the type of connection event.
type EventType string

const (
	// EventReady indicates a connection completed its handshake.
	EventReady EventType = "ready"
	// EventDegraded indicates a connection observed a transport fault.
	EventDegraded EventType = "degraded"
	// EventRecovered indicates a degraded connection was replaced successfully.
	EventRecovered EventType = "recovered"
	// EventRecoveryFailed indicates a recovery attempt failed and the slot was removed.
	EventRecoveryFailed EventType = "recovery_failed"
	// EventClosed indicates a connection was closed and its process reaped.
	EventClosed EventType = "closed"
	// EventWarmupFailed indicates a warmup attempt failed for a server.
	EventWarmupFailed EventType = "warmup_failed"
)

// Event describes a connection lifecycle transition.
type Event struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// Namespace is the isolation key of the connection.
	Namespace string `json:"namespace"`

	// Server is the server name.
	Server string `json:"server"`

	// Generation identifies the process instance, when applicable.
	Generation uint64 `json:"generation,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// Details contains additional event-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// EventEmitter emits connection events through structured logging. An
// optional sink receives every event for callers that want to forward them.
type EventEmitter struct {
	logger *slog.Logger
	sink   func(Event)
}

// NewEventEmitter creates a new event emitter. The sink may be nil.
func NewEventEmitter(logger *slog.Logger, sink func(Event)) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger, sink: sink}
}

// Emit logs an event and forwards it to the sink, if any.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		"namespace", event.Namespace,
		"server", event.Server,
		"type", string(event.Type),
	}
	if event.Generation > 0 {
		attrs = append(attrs, "generation", event.Generation)
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	e.logger.Info("mcp connection event", attrs...)

	if e.sink != nil {
		e.sink(event)
	}
}
