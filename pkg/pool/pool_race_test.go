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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPoolConcurrentMixedOperations hammers one pool with overlapping
// warmups, gets, stats, and log reads. Correctness assertions are light;
// the value is running under the race detector.
func TestPoolConcurrentMixedOperations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	p := newTestPool(t, Config{})
	names := []string{"alpha", "beta", "gamma"}
	for _, name := range names {
		require.NoError(t, p.Register("stress", testServerConfig(name, nil)))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			name := names[i%len(names)]
			for j := 0; j < 3; j++ {
				p.Warmup(context.Background(), "stress", name)
			}
		}(i)
	}

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			name := names[i%len(names)]
			for j := 0; j < 10; j++ {
				conn, err := p.Get(context.Background(), "stress", name)
				if err == nil {
					_, _ = conn.Send(context.Background(), "ping", nil)
				}
				time.Sleep(5 * time.Millisecond)
			}
		}(i)
	}

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < 20; j++ {
				p.Stats("stress")
				p.Logs("stress", names[i%len(names)], 10)
				time.Sleep(2 * time.Millisecond)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	// Exactly one live connection per slot survives the churn
	st := p.Stats("stress")
	assert.LessOrEqual(t, len(st.Active), len(names))

	var pids []int
	for _, name := range st.Active {
		conn, err := p.Get(context.Background(), "stress", name)
		if err == nil {
			pids = append(pids, conn.Pid())
		}
	}

	require.NoError(t, p.Shutdown(context.Background()))
	for _, pid := range pids {
		assert.False(t, processAlive(pid))
	}
}
