// Package metrics exposes Prometheus counters for the injection lifecycle.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Injection results.
const (
	InjectInjected       = "injected"
	InjectToolbarMissing = "toolbar_missing"
	InjectError          = "error"
)

// Generation outcomes.
const (
	OutcomeInserted       = "inserted"
	OutcomeRequestFailed  = "request_failed"
	OutcomeComposeMissing = "compose_missing"
	OutcomeDiscarded      = "discarded"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	detections  prometheus.Counter
	injections  *prometheus.CounterVec
	activations *prometheus.CounterVec
	generations *prometheus.CounterVec
	latency     prometheus.Histogram
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailreply_compose_detections_total",
			Help: "Qualifying mutation batches that scheduled an injection.",
		}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailreply_injections_total",
			Help: "Injector runs by result.",
		}, []string{"result"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailreply_activations_total",
			Help: "Control activations by whether a generation started.",
		}, []string{"accepted"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailreply_generations_total",
			Help: "Completed reply generations by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailreply_generation_duration_seconds",
			Help:    "Round trip to the generation service.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		}),
	}
	m.registry.MustRegister(m.detections, m.injections, m.activations, m.generations, m.latency)
	return m
}

// Detected counts a qualifying mutation batch.
func (m *Metrics) Detected() {
	if m == nil {
		return
	}
	m.detections.Inc()
}

// Injected counts an injector run.
func (m *Metrics) Injected(result string) {
	if m == nil {
		return
	}
	m.injections.WithLabelValues(result).Inc()
}

// Activated counts a click delivered to the agent.
func (m *Metrics) Activated(accepted bool) {
	if m == nil {
		return
	}
	label := "false"
	if accepted {
		label = "true"
	}
	m.activations.WithLabelValues(label).Inc()
}

// Generated counts a finished generation and its request latency.
func (m *Metrics) Generated(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(outcome).Inc()
	m.latency.Observe(took.Seconds())
}

// Handler serves /metrics and, when status is set, /healthz with its JSON.
func (m *Metrics) Handler(status func() any) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var body any = map[string]string{"status": "ok"}
		if status != nil {
			body = status()
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return r
}

// Serve runs h on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
