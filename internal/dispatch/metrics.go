// File: internal/dispatch/metrics.go
package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drover",
		Name:      "calls_started_total",
		Help:      "Protocol calls issued to the driver.",
	})
	metricCallsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drover",
		Name:      "calls_resolved_total",
		Help:      "Protocol calls that completed successfully.",
	})
	metricCallsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drover",
		Name:      "calls_rejected_total",
		Help:      "Protocol calls that failed, by failure kind.",
	}, []string{"kind"})
	metricProtocolViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drover",
		Name:      "protocol_violations_total",
		Help:      "Envelopes that violated the client/driver contract.",
	})
	metricEventsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drover",
		Name:      "events_dispatched_total",
		Help:      "Server-initiated events delivered to local listeners.",
	})
	metricObjectsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "drover",
		Name:      "objects_live_total",
		Help:      "Remote-object proxies currently registered.",
	})
)

// Rejection kinds for metricCallsRejected.
const (
	rejectKindRemote  = "remote_error"
	rejectKindTimeout = "timeout"
	rejectKindClosed  = "connection_closed"
)
