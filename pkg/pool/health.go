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
	"time"
)

// DefaultProbeInterval is how often the background prober pings servers.
const DefaultProbeInterval = 30 * time.Second

// StartProber launches a background loop that periodically pings every
// ready connection. A ping that times out is only logged; a ping that hits
// a broken pipe degrades the connection through the normal transport path,
// so the next Get triggers recovery instead of a caller eating the failure.
// The loop stops when ctx is cancelled.
func (p *Pool) StartProber(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	go p.probeLoop(ctx, interval)
}

func (p *Pool) probeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx)
		}
	}
}

func (p *Pool) probeOnce(ctx context.Context) {
	p.mu.Lock()
	var targets []*Conn
	for _, servers := range p.conns {
		for _, conn := range servers {
			if conn.State() == ConnReady {
				targets = append(targets, conn)
			}
		}
	}
	p.mu.Unlock()

	for _, conn := range targets {
		pingCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		err := conn.Ping(pingCtx)
		cancel()
		if err != nil {
			p.logger.Warn("mcp server failed health probe",
				"namespace", conn.Namespace(),
				"server", conn.Name(),
				"generation", conn.Generation(),
				"error", err,
			)
		}
	}
}
