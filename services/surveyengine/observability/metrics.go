// Copyright (C) 2025 Survey Sensei Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the survey engine.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "sensei"

// Subsystem for survey metrics
const surveySubsystem = "survey"

// SurveyMetrics holds all Prometheus metrics for survey operations.
// Initialize once at startup via NewSurveyMetrics().
type SurveyMetrics struct {
	// SessionsStarted counts started sessions by outcome.
	// Labels: status (success, error)
	SessionsStarted *prometheus.CounterVec

	// TurnsTotal counts processed survey events.
	// Labels: event (answer, skip, edit), status (success, policy_rejected, error)
	TurnsTotal *prometheus.CounterVec

	// ReviewsGenerated counts review generation runs by sentiment band.
	// Labels: band (good, okay, bad), status (success, error)
	ReviewsGenerated *prometheus.CounterVec

	// ReviewsSelected counts terminal review selections.
	ReviewsSelected prometheus.Counter

	// TurnDurationSeconds measures end-to-end event handling latency,
	// including any supplier calls the turn triggered.
	// Labels: event (answer, skip, edit)
	TurnDurationSeconds *prometheus.HistogramVec

	// SupplierErrors counts upstream generation failures.
	// Labels: operation (questions, reviews)
	SupplierErrors *prometheus.CounterVec
}

// NewSurveyMetrics creates and registers all survey metrics with the
// default registry. Call exactly once; duplicate registration panics.
func NewSurveyMetrics() *SurveyMetrics {
	return newSurveyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSurveyMetricsForTesting registers against a private registry so tests
// can create metrics repeatedly.
func NewSurveyMetricsForTesting() *SurveyMetrics {
	return newSurveyMetricsWithRegisterer(prometheus.NewRegistry())
}

func newSurveyMetricsWithRegisterer(reg prometheus.Registerer) *SurveyMetrics {
	factory := promauto.With(reg)

	return &SurveyMetrics{
		SessionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: surveySubsystem,
				Name:      "sessions_started_total",
				Help:      "Number of survey sessions started, by outcome.",
			},
			[]string{"status"},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: surveySubsystem,
				Name:      "turns_total",
				Help:      "Number of survey events processed, by event type and outcome.",
			},
			[]string{"event", "status"},
		),
		ReviewsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: surveySubsystem,
				Name:      "reviews_generated_total",
				Help:      "Number of review generation runs, by sentiment band and outcome.",
			},
			[]string{"band", "status"},
		),
		ReviewsSelected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: surveySubsystem,
				Name:      "reviews_selected_total",
				Help:      "Number of review selections.",
			},
		),
		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: surveySubsystem,
				Name:      "turn_duration_seconds",
				Help:      "End-to-end event handling latency including supplier calls.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"event"},
		),
		SupplierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: surveySubsystem,
				Name:      "supplier_errors_total",
				Help:      "Upstream generation failures, by operation.",
			},
			[]string{"operation"},
		),
	}
}
