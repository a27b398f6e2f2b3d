// Copyright 2025 Edgeo SCADA
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

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the device's request counters and latency histogram,
// registered against a private prometheus.Registry so multiple Devices in
// one process don't collide on metric names.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsReceived prometheus.Counter
	WhoIsReceived    prometheus.Counter
	ErrorsSent       prometheus.Counter
	RejectsSent      prometheus.Counter
	DecodeErrors     prometheus.Counter
	RequestLatency   prometheus.Histogram
}

// NewMetrics builds a Metrics set registered on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacnet_server_requests_received_total",
			Help: "Confirmed-service requests received.",
		}),
		WhoIsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacnet_server_whois_received_total",
			Help: "Who-Is requests received.",
		}),
		ErrorsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacnet_server_errors_sent_total",
			Help: "BACnet-Error responses sent.",
		}),
		RejectsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacnet_server_rejects_sent_total",
			Help: "Reject-PDU responses sent.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bacnet_server_decode_errors_total",
			Help: "Inbound packets dropped for BVLC/NPDU/APDU decode failure.",
		}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bacnet_server_request_duration_seconds",
			Help:    "Time spent servicing a confirmed request out of storage.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.RequestsReceived, m.WhoIsReceived, m.ErrorsSent, m.RejectsSent, m.DecodeErrors, m.RequestLatency)
	return m
}
