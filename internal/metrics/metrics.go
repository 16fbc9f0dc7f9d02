// Package metrics exposes Prometheus collectors for scans, matches, drafts
// and deliveries.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	sourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_source_requests_total",
		Help: "HTTP requests made to content sources.",
	}, []string{"source", "status"})

	sourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scout_source_request_duration_seconds",
		Help:    "Duration of HTTP requests to content sources.",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_scans_total",
		Help: "Target scans by outcome.",
	}, []string{"source", "outcome"})

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scout_sweep_duration_seconds",
		Help:    "Duration of a full scheduler sweep.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	matchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_matches_total",
		Help: "Recorded matches by outcome.",
	}, []string{"source", "outcome"})

	draftsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_drafts_total",
		Help: "Draft generation attempts by status.",
	}, []string{"status"})

	draftDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scout_draft_duration_seconds",
		Help:    "Duration of draft generation calls.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scout_deliveries_total",
		Help: "Alert deliveries by operation and status.",
	}, []string{"op", "status"})
)

// MustRegister registers the package collectors with registerer once.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			sourceRequestsTotal,
			sourceRequestDuration,
			scansTotal,
			sweepDuration,
			matchesTotal,
			draftsTotal,
			draftDuration,
			deliveriesTotal,
		)
	})
}

// StartServer serves /metrics on addr until ctx is cancelled.
func StartServer(ctx context.Context, log *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server shutdown", "error", err)
		}
	}()

	go func() {
		log.Info("metrics server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
}

// ObserveSourceRequest records one HTTP call to a source. A zero status
// means the request failed before a response arrived.
func ObserveSourceRequest(source string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	sourceRequestsTotal.WithLabelValues(source, label).Inc()
	sourceRequestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveScan records the outcome of one target scan.
func ObserveScan(source, outcome string) {
	scansTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveSweep records the duration of a sweep.
func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

// ObserveMatch records a RecordIfNew outcome.
func ObserveMatch(source, outcome string) {
	matchesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveDraft records one draft generation call.
func ObserveDraft(status string, d time.Duration) {
	draftsTotal.WithLabelValues(status).Inc()
	draftDuration.Observe(d.Seconds())
}

// ObserveDelivery records a send or edit towards the notification channel.
func ObserveDelivery(op, status string) {
	deliveriesTotal.WithLabelValues(op, status).Inc()
}
