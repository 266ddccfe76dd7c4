// Package metrics holds the Prometheus collectors of the engine. They register on the
// default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "arch_engine"

var (
	// TurnsTotal counts executed turns. Labels: step, outcome (ok, degraded, error).
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Run turns executed, by step and outcome.",
	}, []string{"step", "outcome"})

	// GenerationSeconds measures text-generation calls. Labels: outcome (ok, error).
	GenerationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Latency of text-generation calls.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	}, []string{"outcome"})

	// PatchesTotal tracks patch lifecycle. Labels: result (proposed, dropped, applied, rejected).
	PatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "patches_total",
		Help:      "Patches by lifecycle result.",
	}, []string{"result"})

	SceneConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scene_conflicts_total",
		Help:      "Approvals that lost a version race and were retried.",
	})

	// Notifications counts published events. Labels: event, delivered (true, false).
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Published run events and whether any listener received them.",
	}, []string{"event", "delivered"})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_subscribers",
		Help:      "Open event stream subscriptions.",
	})

	// HTTPDuration labels: method, route, status.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
