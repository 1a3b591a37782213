package observability

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DeploymentsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployments_submitted_total",
		Help: "The total number of submitted deployments",
	})

	BuildsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "builds_processed_total",
		Help: "The total number of processed build messages",
	}, []string{"outcome"}) // outcome: deployed, error, malformed

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "build_duration_seconds",
		Help:    "Duration of one build invocation.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	PushesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "status_pushes_total",
		Help: "The total number of status push attempts",
	}, []string{"result"}) // result: ok, gone, failed, unbound
)

// NewLogger creates a new structured logger.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// StartMetricsServer runs an HTTP server to expose Prometheus metrics.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}
