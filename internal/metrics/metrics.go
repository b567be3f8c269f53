package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_fetch_requests_total",
			Help: "Total number of page fetches executed by the scanner",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailmark_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_fetch_bytes_total",
			Help: "Total bytes downloaded across all fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_events_total",
			Help: "Observed navigation, request and form events",
		},
		[]string{"kind", "matched"},
	)

	EmailsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_emails_captured_total",
			Help: "Emails recorded against a domain, by detection method",
		},
		[]string{"method", "new"},
	)

	ValidatorRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_validator_rejections_total",
			Help: "Candidate emails rejected by the heuristic validator",
		},
		[]string{"reason"},
	)

	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailmark_storage_op_duration_seconds",
			Help:    "Latency of key-value storage operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op", "outcome"},
	)

	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailmark_sync_total",
			Help: "Sync rounds by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)
)

// Fetch describes one completed page fetch.
type Fetch struct {
	Domain       string
	StatusCode   int
	Failed       bool
	DetectedBot  bool
	DetectionSrc string
	Bytes        int
	Duration     time.Duration
}

// RecordFetch updates the fetch metrics.
func RecordFetch(f Fetch) {
	statusStr := strconv.Itoa(f.StatusCode)
	if f.Failed {
		statusStr = "error"
	}

	FetchRequestsTotal.WithLabelValues(f.Domain, statusStr, strconv.FormatBool(f.DetectedBot), f.DetectionSrc).Inc()
	FetchDuration.WithLabelValues(f.Domain).Observe(f.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(f.Domain).Add(float64(f.Bytes))
}

// RecordEvent counts an observed event.
func RecordEvent(kind string, matched bool) {
	EventsTotal.WithLabelValues(kind, strconv.FormatBool(matched)).Inc()
}

// RecordCapture counts a recorded email.
func RecordCapture(method string, isNew bool) {
	EmailsCaptured.WithLabelValues(method, strconv.FormatBool(isNew)).Inc()
}

// RecordRejection counts a validator rejection.
func RecordRejection(reason string) {
	ValidatorRejections.WithLabelValues(reason).Inc()
}

// RecordSync counts a sync round.
func RecordSync(strategy string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	SyncTotal.WithLabelValues(strategy, outcome).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server exposes /metrics on its own listener.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start binds addr (":9090", "127.0.0.1:0") and serves /metrics in the
// background. Bind errors are returned; serve errors are logged.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", ln.Addr().String(), "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", ln.Addr().String())
	return s, nil
}

// Addr is the bound listener address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Stop shuts the server down, waiting at most five seconds for scrapes in flight.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
