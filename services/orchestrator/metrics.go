// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pitchside",
		Subsystem: "orchestrator",
		Name:      "tool_rounds",
		Help:      "Completion rounds consumed per tool loop.",
		Buckets:   prometheus.LinearBuckets(0, 1, 8),
	})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchside",
		Subsystem: "orchestrator",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and outcome.",
	}, []string{"tool", "status"})

	renders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchside",
		Subsystem: "orchestrator",
		Name:      "renders_total",
		Help:      "Chart render attempts by chart type and outcome.",
	}, []string{"chart_type", "status"})

	sqlRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pitchside",
		Subsystem: "orchestrator",
		Name:      "sql_repairs_total",
		Help:      "Query rewrites by repair stage.",
	}, []string{"stage"})
)
