// Exposes on the configured address:
//
//	#cryptosignal_ingestion_total
//	#cryptosignal_feature_batches_total
//	#cryptosignal_feature_z / cryptosignal_feature_half_life_seconds
//	#go_* and process_* system metrics
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptosignal/logger"
)

var (
	registryOnce sync.Once
	registry     = prometheus.NewRegistry()

	featureBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cryptosignal",
			Name:      "feature_batches_total",
			Help:      "Feature batches produced per pair",
		},
		[]string{"pair", "degraded"},
	)
	featureZ = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cryptosignal",
			Name:      "feature_z",
			Help:      "Latest cross-venue spread z-score per pair",
		},
		[]string{"pair"},
	)
	featureHalfLife = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cryptosignal",
			Name:      "feature_half_life_seconds",
			Help:      "Latest predicted spread half-life per pair",
		},
		[]string{"pair"},
	)
)

// Registry returns the registry holding every collector of this package.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry.MustRegister(ingestionTotal, featureBatches, featureZ, featureHalfLife)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// ObserveFeatureBatch records the headline values of a produced batch.
func ObserveFeatureBatch(pair string, z, halfLife float64, degraded bool) {
	d := "false"
	if degraded {
		d = "true"
	}
	featureBatches.WithLabelValues(pair, d).Inc()
	featureZ.WithLabelValues(pair).Set(z)
	featureHalfLife.WithLabelValues(pair).Set(halfLife)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"address": addr}).Info("serving prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
