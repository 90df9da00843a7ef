// Package metrics exposes campaign progress as Prometheus metrics.
//
// A Collector owns its registry, so several collectors (one per test, for
// instance) never clash on registration.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records page, unit and cache activity.
type Collector struct {
	registry *prometheus.Registry

	unitsStarted  prometheus.Counter
	unitsFinished *prometheus.CounterVec
	unitsInFlight prometheus.Gauge

	pages          prometheus.Counter
	itemsProcessed prometheus.Counter
	itemsFailed    prometheus.Counter
	pageLatency    prometheus.Histogram

	cacheLookups *prometheus.CounterVec
}

// NewCollector creates a collector registered on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		unitsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reprocessor_units_started_total",
			Help: "Total number of units handed to a worker",
		}),
		unitsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reprocessor_units_finished_total",
			Help: "Total number of units finished, by final status",
		}, []string{"status"}),
		unitsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reprocessor_units_in_flight",
			Help: "Current number of units being processed",
		}),
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reprocessor_pages_total",
			Help: "Total number of pages checkpointed",
		}),
		itemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reprocessor_items_processed_total",
			Help: "Total number of items consumed",
		}),
		itemsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reprocessor_items_failed_total",
			Help: "Total number of items that failed processing",
		}),
		pageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reprocessor_page_latency_seconds",
			Help:    "Time to fetch, process and checkpoint one page",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reprocessor_cache_lookups_total",
			Help: "Derived data cache lookups, by result",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.unitsStarted,
		c.unitsFinished,
		c.unitsInFlight,
		c.pages,
		c.itemsProcessed,
		c.itemsFailed,
		c.pageLatency,
		c.cacheLookups,
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// UnitStarted records a unit entering a worker slot.
func (c *Collector) UnitStarted() {
	c.unitsStarted.Inc()
	c.unitsInFlight.Inc()
}

// UnitFinished records a unit leaving its worker slot.
func (c *Collector) UnitFinished(status string) {
	c.unitsFinished.WithLabelValues(status).Inc()
	c.unitsInFlight.Dec()
}

// PageDone records one checkpointed page.
func (c *Collector) PageDone(items, failed int, elapsed time.Duration) {
	c.pages.Inc()
	c.itemsProcessed.Add(float64(items))
	c.itemsFailed.Add(float64(failed))
	c.pageLatency.Observe(elapsed.Seconds())
}

// CacheLookup records a derived data cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
