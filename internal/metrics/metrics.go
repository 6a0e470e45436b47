// Package metrics exposes run counters and a small observability endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the instrument set for the retry pipeline.
type Collectors struct {
	RunsTotal          *prometheus.CounterVec
	ValidationAttempts prometheus.Counter
	SessionDuration    prometheus.Histogram
}

// NewCollectors builds and registers the collectors on reg.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkloop_runs_total",
				Help: "Completed task runs by outcome",
			},
			[]string{"outcome"},
		),
		ValidationAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "checkloop_validation_attempts_total",
				Help: "Validation script executions",
			},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "checkloop_session_duration_seconds",
				Help:    "Wall time of agent session waits",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
	reg.MustRegister(c.RunsTotal, c.ValidationAttempts, c.SessionDuration)
	return c
}

// ObserveRun records one finished run.
func (c *Collectors) ObserveRun(success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.RunsTotal.WithLabelValues(outcome).Inc()
	c.SessionDuration.Observe(duration.Seconds())
}

// Server serves /metrics and /healthz while a run is in flight.
type Server struct {
	log  *slog.Logger
	http *http.Server
}

// NewServer creates the endpoint bound to addr, e.g. ":2112".
func NewServer(log *slog.Logger, addr string, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	return &Server{
		log:  log,
		http: &http.Server{Addr: addr, Handler: r},
	}
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics endpoint listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warn("metrics endpoint stopped", "err", err)
		}
	}()
}

// Stop shuts the endpoint down gracefully.
func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn("metrics shutdown", "err", err)
	}
}
