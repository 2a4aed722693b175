// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Completion Client
// =============================================================================

var (
	// completionCallsTotal counts completion API round trips.
	// Labels: model, status (success, http_<code>, transport_error, ...)
	completionCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchside",
		Subsystem: "llm",
		Name:      "completion_calls_total",
		Help:      "Completion API round trips by model and status",
	}, []string{"model", "status"})

	// completionLatencySeconds measures completion API round-trip latency.
	// Labels: model
	completionLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pitchside",
		Subsystem: "llm",
		Name:      "completion_latency_seconds",
		Help:      "Completion API round-trip latency",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	// completionFallbacksTotal counts failovers to the fallback model.
	// Labels: from, to
	completionFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchside",
		Subsystem: "llm",
		Name:      "completion_fallbacks_total",
		Help:      "Failovers from the primary to the fallback model",
	}, []string{"from", "to"})
)

// recordCompletionCall records one wire round trip.
func recordCompletionCall(model, status string, duration time.Duration) {
	completionCallsTotal.WithLabelValues(model, status).Inc()
	completionLatencySeconds.WithLabelValues(model).Observe(duration.Seconds())
}

// recordFallback records a failover to the fallback model.
func recordFallback(from, to string) {
	completionFallbacksTotal.WithLabelValues(from, to).Inc()
}
