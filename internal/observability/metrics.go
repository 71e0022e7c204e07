// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "stepwright"

var (
	executionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "executions_started_total",
		Help:      "Number of script executions started.",
	})

	executionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executions_finished_total",
			Help:      "Number of script executions that reached a terminal status.",
		},
		[]string{"status"},
	)

	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "steps_total",
			Help:      "Number of steps attempted, by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	screenshotFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "screenshot_fallbacks_total",
			Help:      "Screenshots stored by a strategy other than the primary data store.",
		},
		[]string{"strategy"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time spent executing a single step.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"action"},
	)
)

// RecordExecutionStarted counts a newly started execution.
func RecordExecutionStarted() {
	executionsStarted.Inc()
}

// RecordExecutionFinished counts an execution reaching the given terminal status.
func RecordExecutionFinished(status string) {
	executionsFinished.WithLabelValues(status).Inc()
}

// RecordStep counts one attempted step and observes how long it took.
func RecordStep(action string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	stepsTotal.WithLabelValues(action, outcome).Inc()
	stepDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// RecordScreenshotFallback counts a capture that landed in a secondary strategy.
func RecordScreenshotFallback(strategy string) {
	screenshotFallbacks.WithLabelValues(strategy).Inc()
}

// ServeMetrics exposes the default registry on addr until ctx is cancelled.
// It returns once the listener is bound so callers can proceed with their work.
func ServeMetrics(ctx context.Context, addr string, logger *zap.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics listener stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}
