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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferEviction(t *testing.T) {
	rb := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.add(LogEntry{Line: fmt.Sprintf("line-%d", i)})
	}

	entries := rb.last(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "line-2", entries[0].Line)
	assert.Equal(t, "line-4", entries[2].Line)
}

func TestRingBufferLastN(t *testing.T) {
	rb := newRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.add(LogEntry{Line: fmt.Sprintf("line-%d", i)})
	}

	entries := rb.last(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "line-3", entries[0].Line)
	assert.Equal(t, "line-4", entries[1].Line)

	// Asking for more than available returns everything
	assert.Len(t, rb.last(100), 5)
}

func TestLogCapturePerServer(t *testing.T) {
	lc := NewLogCapture(10)
	lc.Add("ns", "alpha", 1, "from alpha")
	lc.Add("ns", "beta", 1, "from beta")
	lc.Add("other", "alpha", 2, "other namespace")

	entries := lc.Last("ns", "alpha", 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "from alpha", entries[0].Line)
	assert.Equal(t, uint64(1), entries[0].Generation)

	assert.Len(t, lc.Last("other", "alpha", 0), 1)
	assert.Empty(t, lc.Last("ns", "ghost", 0))
}

func TestLogCaptureSurvivesGenerations(t *testing.T) {
	lc := NewLogCapture(10)
	lc.Add("ns", "echo", 1, "first life")
	lc.Add("ns", "echo", 2, "second life")

	entries := lc.Last("ns", "echo", 0)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Generation)
	assert.Equal(t, uint64(2), entries[1].Generation)
}

func TestLogCaptureRemove(t *testing.T) {
	lc := NewLogCapture(10)
	lc.Add("ns", "echo", 1, "line")
	lc.Remove("ns", "echo")
	assert.Empty(t, lc.Last("ns", "echo", 0))
}
