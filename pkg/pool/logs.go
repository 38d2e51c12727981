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
	"sync"
	"time"
)

// LogEntry is one captured stderr line from a tool-provider process.
type LogEntry struct {
	// Timestamp is when the line was read.
	Timestamp time.Time `json:"timestamp"`

	// Generation identifies which process instance emitted the line.
	Generation uint64 `json:"generation"`

	// Line is the raw stderr line.
	Line string `json:"line"`
}

// ringBuffer is a fixed-size circular buffer of log entries.
type ringBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int
	tail    int
	size    int
	count   int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ringBuffer{
		entries: make([]LogEntry, capacity),
		size:    capacity,
	}
}

// add appends an entry, evicting the oldest when full.
func (rb *ringBuffer) add(entry LogEntry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.tail] = entry
	rb.tail = (rb.tail + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.size
	}
}

// last returns the last n entries, oldest first. n <= 0 returns everything.
func (rb *ringBuffer) last(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}

	result := make([]LogEntry, n)
	start := rb.count - n
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(rb.head+start+i)%rb.size]
	}
	return result
}

// LogCapture retains recent stderr output per (namespace, server) so that a
// crashed or misbehaving tool server can be diagnosed after the fact. Lines
// are captured even across recoveries; the generation field tells process
// instances apart.
type LogCapture struct {
	mu      sync.Mutex
	buffers map[string]*ringBuffer
	maxSize int
}

// NewLogCapture creates a log capture retaining up to maxLines per server.
func NewLogCapture(maxLines int) *LogCapture {
	if maxLines <= 0 {
		maxLines = 1000
	}
	return &LogCapture{
		buffers: make(map[string]*ringBuffer),
		maxSize: maxLines,
	}
}

func (lc *LogCapture) buffer(key string) *ringBuffer {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if buf, ok := lc.buffers[key]; ok {
		return buf
	}
	buf := newRingBuffer(lc.maxSize)
	lc.buffers[key] = buf
	return buf
}

// Add records one stderr line for a server.
func (lc *LogCapture) Add(namespace, name string, generation uint64, line string) {
	lc.buffer(slotKey(namespace, name)).add(LogEntry{
		Timestamp:  time.Now(),
		Generation: generation,
		Line:       line,
	})
}

// Last returns the last n captured lines for a server, oldest first.
func (lc *LogCapture) Last(namespace, name string, n int) []LogEntry {
	lc.mu.Lock()
	buf, ok := lc.buffers[slotKey(namespace, name)]
	lc.mu.Unlock()

	if !ok {
		return nil
	}
	return buf.last(n)
}

// Remove drops the buffer for a server.
func (lc *LogCapture) Remove(namespace, name string) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	delete(lc.buffers, slotKey(namespace, name))
}
