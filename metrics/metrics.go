// Package metrics exposes the Prometheus collectors of the registry server
// and the HTTP server that serves them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "esim_registry"

// Outcome labels shared by the coordinators.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeError   = "error"
)

var (
	Registry = prometheus.NewRegistry()

	registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Device registrations by outcome.",
	}, []string{"outcome"})

	operatorChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operator_changes_total",
		Help:      "Operator change requests by outcome.",
	}, []string{"outcome"})

	ledgerSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_submissions_total",
		Help:      "Ledger transaction submissions by operation and result.",
	}, []string{"operation", "result"})

	ledgerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_submission_seconds",
		Help:      "Time from nonce allocation to transaction acceptance.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		registrations,
		operatorChanges,
		ledgerSubmissions,
		ledgerLatency,
	)
}

func RecordRegistration(outcome string) {
	registrations.WithLabelValues(outcome).Inc()
}

func RecordOperatorChange(outcome string) {
	operatorChanges.WithLabelValues(outcome).Inc()
}

// RecordLedgerSubmission records one submission attempt. result is "ok",
// "rejected" or "unavailable".
func RecordLedgerSubmission(operation, result string, took time.Duration) {
	ledgerSubmissions.WithLabelValues(operation, result).Inc()
	ledgerLatency.WithLabelValues(operation).Observe(took.Seconds())
}

type MetricsServer struct {
	srv *http.Server
}

// New creates the metrics server listening on listenAddr.
func New(listenAddr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
