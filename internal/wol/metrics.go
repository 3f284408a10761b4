/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wol

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// RequestsTotal counts protocol requests by type and result
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wol_requests_total",
			Help: "Number of protocol requests handled, by request type and result",
		},
		[]string{"type", "result"},
	)

	// WOLPacketsSentTotal counts the number of magic packets transmitted
	WOLPacketsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wol_packets_sent_total",
			Help: "Number of Wake-on-LAN magic packets sent",
		},
	)

	// ErrorsTotal counts the number of errors during WOL handling
	ErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wol_errors_total",
			Help: "Number of errors during WOL handling",
		},
	)

	// RegisteredMachines is a gauge for the number of machines in the registry
	RegisteredMachines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wol_registered_machines",
			Help: "Number of machines currently registered",
		},
	)
)

func init() {
	// Register metrics with controller-runtime's registry
	metrics.Registry.MustRegister(
		RequestsTotal,
		WOLPacketsSentTotal,
		ErrorsTotal,
		RegisteredMachines,
	)
}
