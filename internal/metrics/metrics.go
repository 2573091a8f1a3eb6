/*
Copyright 2025 Jordi Gil.

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

// Package metrics declares the detector's Prometheus instrumentation as
// package-level collectors paired with small RecordX/SetX helpers, the same
// shape the teacher's pkg/metrics package uses (AlertsProcessedTotal,
// ActionsExecutedTotal, SLMAnalysisDuration alongside RecordAlert/
// RecordAction/RecordSLMAnalysis). Registration happens at package init via
// promauto against the default registry, which internal/api already exposes
// on GET /metrics via promhttp.Handler().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WindowsSealedTotal counts windows sealed by the Window Aggregator
	// (C2), labeled by mode (LIVE/SIM).
	WindowsSealedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apisentinel_windows_sealed_total",
		Help: "Total number of windows sealed, by mode.",
	}, []string{"mode"})

	// DetectionsScoredTotal counts Detections produced by the Orchestrator
	// (C13), labeled by mode and priority band.
	DetectionsScoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apisentinel_detections_scored_total",
		Help: "Total number of Detections scored, by mode and priority.",
	}, []string{"mode", "priority"})

	// ScoringLatencySeconds observes the wall-clock time spent scoring a
	// single sealed window (§5's per-window scoring deadline).
	ScoringLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apisentinel_scoring_latency_seconds",
		Help:    "Time spent scoring one sealed window, from feature extraction through Detection assembly.",
		Buckets: prometheus.DefBuckets,
	})

	// BusDroppedDetectionsTotal counts detections evicted from a
	// subscriber's bounded queue on overflow (C12, spec.md §4.12/§8
	// scenario 6), labeled by subscriber id.
	BusDroppedDetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apisentinel_bus_dropped_detections_total",
		Help: "Total number of detections dropped from a subscriber's queue due to overflow, by subscriber.",
	}, []string{"subscriber"})

	// BusSubscriberQueueDepth gauges the current number of buffered
	// detections in a subscriber's delivery queue.
	BusSubscriberQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "apisentinel_bus_subscriber_queue_depth",
		Help: "Current number of detections buffered in a subscriber's delivery queue.",
	}, []string{"subscriber"})
)

// RecordWindowSealed increments the sealed-window counter for mode.
func RecordWindowSealed(mode string) {
	WindowsSealedTotal.WithLabelValues(mode).Inc()
}

// RecordDetectionScored increments the scored-detection counter for
// (mode, priority).
func RecordDetectionScored(mode, priority string) {
	DetectionsScoredTotal.WithLabelValues(mode, priority).Inc()
}

// RecordScoringLatency observes one window's scoring duration.
func RecordScoringLatency(d time.Duration) {
	ScoringLatencySeconds.Observe(d.Seconds())
}

// RecordBusDrop increments the drop counter for subscriber.
func RecordBusDrop(subscriber string) {
	BusDroppedDetectionsTotal.WithLabelValues(subscriber).Inc()
}

// SetBusQueueDepth sets subscriber's current queue depth gauge.
func SetBusQueueDepth(subscriber string, depth int) {
	BusSubscriberQueueDepth.WithLabelValues(subscriber).Set(float64(depth))
}
