// Copyright 2025 walteh LLC
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

package netmgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	// queued tracks operations waiting for a slot, by pool
	queued *prometheus.GaugeVec
	// running tracks started operations that have not finished, by pool
	running *prometheus.GaugeVec
	// submitted counts every accepted submission, by pool
	submitted *prometheus.CounterVec
	// completed counts callbacks delivered, by pool
	completed *prometheus.CounterVec
	// cancelled counts operations cancelled through the manager, by pool
	cancelled *prometheus.CounterVec
	// transfers tracks in-flight transfer-pool operations
	transfers prometheus.Gauge
}

// newMetrics registers the manager's collectors on reg. A nil reg leaves them
// unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		queued: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "photonet_pool_queued_operations",
				Help: "Operations waiting for a pool slot by pool",
			},
			[]string{"pool"},
		),
		running: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "photonet_pool_running_operations",
				Help: "Operations started and not yet finished by pool",
			},
			[]string{"pool"},
		),
		submitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photonet_operations_submitted_total",
				Help: "Total operations submitted by pool",
			},
			[]string{"pool"},
		),
		completed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photonet_operations_completed_total",
				Help: "Total completion callbacks delivered by pool",
			},
			[]string{"pool"},
		),
		cancelled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photonet_operations_cancelled_total",
				Help: "Total operations cancelled through the manager by pool",
			},
			[]string{"pool"},
		),
		transfers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "photonet_transfers_in_flight",
				Help: "Number of transfer operations currently running",
			},
		),
	}
}
