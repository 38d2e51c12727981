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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// poolWarmups tracks warmup attempts by result
	poolWarmups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpool_warmups_total",
			Help: "Total warmup attempts by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	// poolRecoveries tracks recovery attempts by result
	poolRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpool_recoveries_total",
			Help: "Total recovery attempts by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	// poolRequests tracks requests sent to tool servers by result
	poolRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpool_requests_total",
			Help: "Total requests to tool servers by method and result",
		},
		[]string{"method", "result"},
	)

	// poolActiveConnections tracks live connections per namespace
	poolActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mcpool_active_connections",
			Help: "Number of live tool server connections per namespace",
		},
		[]string{"namespace"},
	)

	// poolStaleResponses tracks dropped responses with no pending request
	poolStaleResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mcpool_stale_responses_dropped_total",
			Help: "Total responses dropped because no pending request matched their id",
		},
	)
)

// recordWarmup increments the warmup counter
func recordWarmup(namespace string, ok bool) {
	poolWarmups.WithLabelValues(namespace, resultLabel(ok)).Inc()
}

// recordRecovery increments the recovery counter
func recordRecovery(namespace string, ok bool) {
	poolRecoveries.WithLabelValues(namespace, resultLabel(ok)).Inc()
}

// recordRequest increments the request counter
func recordRequest(method string, ok bool) {
	poolRequests.WithLabelValues(method, resultLabel(ok)).Inc()
}

// recordStaleResponse increments the stale response counter
func recordStaleResponse() {
	poolStaleResponses.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
