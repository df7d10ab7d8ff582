// Package metrics exposes keyrelay's Prometheus instrumentation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeRequestsTotal   *prometheus.CounterVec
	storeRequestDuration *prometheus.HistogramVec
	cacheRecords         prometheus.Gauge
	cacheLoadedRecords   prometheus.Gauge
	dispatchTotal        *prometheus.CounterVec
	dispatchDuration     prometheus.Histogram

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
	mu                sync.RWMutex
)

// Init registers all metrics with the default Prometheus registerer.
// Recording functions are no-ops until Init has run.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers all metrics with reg. Only the first call has effect.
func InitWith(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		factory := promauto.With(reg)

		storeRequestsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrelay_store_requests_total",
				Help: "Total number of secret store requests",
			},
			[]string{"store", "op", "outcome"},
		)

		storeRequestDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyrelay_store_request_duration_seconds",
				Help:    "Duration of secret store requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"store", "op"},
		)

		cacheRecords = factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyrelay_cache_records",
			Help: "Number of credential records in the cache",
		})

		cacheLoadedRecords = factory.NewGauge(prometheus.GaugeOpts{
			Name: "keyrelay_cache_loaded_records",
			Help: "Number of cached credential records whose payload has been loaded",
		})

		dispatchTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyrelay_dispatch_total",
				Help: "Total number of device send operations by outcome",
			},
			[]string{"outcome"},
		)

		dispatchDuration = factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keyrelay_dispatch_duration_seconds",
			Help:    "Duration of device send operations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		})

		mu.Lock()
		metricsRegistered = true
		mu.Unlock()
	})
}

func registered() bool {
	mu.RLock()
	defer mu.RUnlock()
	return metricsRegistered
}

// RecordStoreRequest records one store call.
func RecordStoreRequest(store, op, outcome string, durationSeconds float64) {
	if !registered() {
		return
	}
	storeRequestsTotal.WithLabelValues(store, op, outcome).Inc()
	storeRequestDuration.WithLabelValues(store, op).Observe(durationSeconds)
}

// SetCacheSize publishes the cache population.
func SetCacheSize(total, loaded int) {
	if !registered() {
		return
	}
	cacheRecords.Set(float64(total))
	cacheLoadedRecords.Set(float64(loaded))
}

// RecordDispatch records the outcome of a send.
func RecordDispatch(outcome string, durationSeconds float64) {
	if !registered() {
		return
	}
	dispatchTotal.WithLabelValues(outcome).Inc()
	dispatchDuration.Observe(durationSeconds)
}

// StoreRequestsTotal returns the store request counter for testing.
func StoreRequestsTotal() *prometheus.CounterVec {
	return storeRequestsTotal
}

// CacheRecords returns the cache size gauge for testing.
func CacheRecords() prometheus.Gauge {
	return cacheRecords
}

// DispatchTotal returns the dispatch counter for testing.
func DispatchTotal() *prometheus.CounterVec {
	return dispatchTotal
}
