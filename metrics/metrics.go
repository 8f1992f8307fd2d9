// Package metrics holds the Prometheus collectors of the gateway and serves them over HTTP.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/pod-consent-gateway/common"
)

var (
	decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "authorize_decisions_total",
		Help:      "Authorization decisions by outcome and reason.",
	}, []string{"outcome", "reason"})

	walletsProvisioned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "wallets_provisioned_total",
		Help:      "Wallets created.",
	})

	tokenDeployments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "token_deployments_total",
		Help:      "Consent-token deployments by result.",
	}, []string{"result"})

	txSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "tx_submissions_total",
		Help:      "Ledger transaction submissions by kind and result.",
	}, []string{"kind", "result"})

	revocations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: common.PackageName,
		Name:      "grant_revocations_total",
		Help:      "ACL grants removed after consent was withdrawn.",
	})
)

// RecordDecision counts an authorization decision.
func RecordDecision(outcome, reason string) {
	decisions.WithLabelValues(outcome, reason).Inc()
}

// RecordWalletProvisioned counts a created wallet.
func RecordWalletProvisioned() {
	walletsProvisioned.Inc()
}

// RecordTokenDeployment counts a deployment attempt with its result.
func RecordTokenDeployment(result string) {
	tokenDeployments.WithLabelValues(result).Inc()
}

// RecordTxSubmission counts a transaction submission.
func RecordTxSubmission(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	txSubmissions.WithLabelValues(kind, result).Inc()
}

// RecordRevocation counts a removed grant.
func RecordRevocation() {
	revocations.Inc()
}

// NewRegistry returns a registry with the gateway, process and Go runtime collectors.
func NewRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		decisions,
		walletsProvisioned,
		tokenDeployments,
		txSubmissions,
		revocations,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// MetricsServer serves /metrics on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) (*MetricsServer, error) {
	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

// Handler returns the HTTP handler of the server.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

// ListenAndServe starts serving until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
