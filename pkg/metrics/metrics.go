package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics is the process-wide metrics registry. It is created once at agent
// bootstrap and never mutated afterwards.
type Metrics struct {
	registry *prometheus.Registry

	// UpdatesIndexed counts signed updates ingested per network.
	UpdatesIndexed *prometheus.CounterVec
	// MessagesIndexed counts dispatch events ingested per network.
	MessagesIndexed *prometheus.CounterVec
	// ProofsComputed counts frozen proofs persisted per network.
	ProofsComputed *prometheus.CounterVec
	// TxSubmitted counts dispatched transactions per network and backend.
	TxSubmitted *prometheus.CounterVec
	// TxConfirmed counts confirmed transactions per network.
	TxConfirmed *prometheus.CounterVec
	// TxDropped counts dropped dispatches per network.
	TxDropped *prometheus.CounterVec
	// FraudNotifications counts signed failure notifications broadcast.
	FraudNotifications *prometheus.CounterVec
	// SpanDuration observes processing-step latency per agent and step.
	SpanDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewMetrics builds the registry and registers every collector.
func NewMetrics(agent string, logger *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"agent": agent}

	m := &Metrics{
		registry: registry,
		UpdatesIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_updates_indexed_total", Help: "Signed updates ingested from chain.",
			ConstLabels: constLabels,
		}, []string{"network"}),
		MessagesIndexed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_messages_indexed_total", Help: "Dispatch events ingested from chain.",
			ConstLabels: constLabels,
		}, []string{"network"}),
		ProofsComputed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_proofs_computed_total", Help: "Frozen merkle proofs persisted.",
			ConstLabels: constLabels,
		}, []string{"network"}),
		TxSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_tx_submitted_total", Help: "Transactions dispatched to chain.",
			ConstLabels: constLabels,
		}, []string{"network", "backend"}),
		TxConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_tx_confirmed_total", Help: "Transactions confirmed on chain.",
			ConstLabels: constLabels,
		}, []string{"network"}),
		TxDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_tx_dropped_total", Help: "Transactions dropped from the mempool or relay.",
			ConstLabels: constLabels,
		}, []string{"network"}),
		FraudNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nomad_fraud_notifications_total", Help: "Signed failure notifications broadcast.",
			ConstLabels: constLabels,
		}, []string{"network"}),
		SpanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "nomad_span_duration_seconds", Help: "Processing-step latency.",
			Buckets:     []float64{.005, .025, .1, .5, 1, 5, 30, 120},
			ConstLabels: constLabels,
		}, []string{"step"}),
		logger: logger,
	}

	registry.MustRegister(
		m.UpdatesIndexed, m.MessagesIndexed, m.ProofsComputed,
		m.TxSubmitted, m.TxConfirmed, m.TxDropped,
		m.FraudNotifications, m.SpanDuration,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSpan records the duration of a step that began at start.
func (m *Metrics) ObserveSpan(step string, start time.Time) {
	m.SpanDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
}

// ServeHTTP exposes /metrics on the given port until the context ends.
func (m *Metrics) ServeHTTP(ctx context.Context, port uint16) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Sugar().Errorw("Metrics server failed", "error", err)
		}
	}()
}
