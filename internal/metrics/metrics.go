// Package metrics exposes the node's Prometheus series (spec §4.14): the
// counters and gauges SessionStore/SessionKeyStore/CheckpointManager/
// VectorLoader report through. Promoted from an indirect teacher
// dependency (prometheus/client_golang only reached transitively via other
// deps before) to a direct one, used the same register-once-at-init-then-
// Set/Inc way every prometheus-instrumented Go service uses it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hostnode",
		Name:      "active_sessions",
		Help:      "Number of live WebSocket sessions.",
	})

	TotalKeysStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hostnode",
		Name:      "total_keys_stored",
		Help:      "Total AEAD session keys installed since startup.",
	})

	TokensPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hostnode",
		Name:      "tokens_pending",
		Help:      "Sum of pending (unconfirmed) tokens across all active jobs.",
	})

	CheckpointsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostnode",
		Name:      "checkpoints_submitted_total",
		Help:      "Checkpoint submissions by outcome.",
	}, []string{"outcome"}) // outcome: ok|already_finalized|fatal

	VectorLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostnode",
		Name:      "vector_loads_total",
		Help:      "VectorLoader.Load calls by outcome.",
	}, []string{"outcome"}) // outcome: ok|error

	InferenceTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hostnode",
		Name:      "inference_tokens_total",
		Help:      "Tokens generated, by kind.",
	}, []string{"kind"}) // kind: completion|vlm

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hostnode",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP gateway request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})
)
