// Package metrics records scan activity for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/blackbox/internal/oracle"
)

// Recorder owns its own registry so tests and multiple runs do not collide.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry           *prometheus.Registry
	runs               *prometheus.CounterVec
	oracleCalls        prometheus.Counter
	oracleErrors       prometheus.Counter
	oracleSeconds      prometheus.Histogram
	windowsDone        prometheus.Gauge
	annotationFailures prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "runs_total",
			Help:      "Evaluation runs by outcome.",
		}, []string{"status"}),
		oracleCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "oracle_calls_total",
			Help:      "Batched prediction calls.",
		}),
		oracleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "oracle_errors_total",
			Help:      "Failed prediction calls.",
		}),
		oracleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blackbox",
			Name:      "oracle_call_seconds",
			Help:      "Latency of one batched prediction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		windowsDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blackbox",
			Name:      "windows_done",
			Help:      "Windows completed in the current scan.",
		}),
		annotationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackbox",
			Name:      "annotation_failures_total",
			Help:      "Reference overlays that could not be fetched.",
		}),
	}
	r.registry.MustRegister(r.runs, r.oracleCalls, r.oracleErrors, r.oracleSeconds, r.windowsDone, r.annotationFailures)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RunFinished(status string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
}

func (r *Recorder) ObserveOracle(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.oracleCalls.Inc()
	r.oracleSeconds.Observe(d.Seconds())
	if err != nil {
		r.oracleErrors.Inc()
	}
}

func (r *Recorder) WindowsDone(n int) {
	if r == nil {
		return
	}
	r.windowsDone.Set(float64(n))
}

func (r *Recorder) AnnotationFailed() {
	if r == nil {
		return
	}
	r.annotationFailures.Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Instrument times every Predict call of o. Reentrancy of o is preserved.
func (r *Recorder) Instrument(o oracle.Oracle) oracle.Oracle {
	if r == nil {
		return o
	}
	return &instrumented{inner: o, rec: r, reentrant: oracle.IsReentrant(o)}
}

type instrumented struct {
	inner     oracle.Oracle
	rec       *Recorder
	reentrant bool
}

func (i *instrumented) Predict(ctx context.Context, batch *mat.Dense) (*mat.Dense, error) {
	start := time.Now()
	out, err := i.inner.Predict(ctx, batch)
	i.rec.ObserveOracle(time.Since(start), err)
	return out, err
}

func (i *instrumented) Reentrant() bool { return i.reentrant }
