// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloudstack"

// Metrics collects lifecycle counters on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	remoteCalls   *prometheus.CounterVec
	deleteRetries *prometheus.CounterVec
	transitions   *prometheus.CounterVec
}

// NewMetrics creates a new metrics collector with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "CloudStack API calls issued by the lifecycle controller.",
			},
			[]string{"kind", "operation", "result"},
		),
		deleteRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delete_retries_total",
				Help:      "Deletes deferred because the remote object was still in use.",
			},
			[]string{"kind"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Descriptor lifecycle state transitions.",
			},
			[]string{"kind", "from", "to"},
		),
	}

	m.registry.MustRegister(m.remoteCalls, m.deleteRetries, m.transitions)
	return m
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide collector.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// RecordRemoteCall counts one API call and its outcome.
func (m *Metrics) RecordRemoteCall(kind, operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.remoteCalls.WithLabelValues(kind, operation, result).Inc()
}

// RecordDeleteRetry counts a delete deferred on a conflict.
func (m *Metrics) RecordDeleteRetry(kind string) {
	if m == nil {
		return
	}
	m.deleteRetries.WithLabelValues(kind).Inc()
}

// RecordTransition counts a lifecycle state change.
func (m *Metrics) RecordTransition(kind, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, from, to).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves /metrics on addr until ctx is cancelled.
func StartMetricsServer(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
