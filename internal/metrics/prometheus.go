package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Request metrics
	requestsTotal    *prometheus.CounterVec
	requestsInFlight prometheus.Gauge
	requestDuration  *prometheus.HistogramVec

	// Pool metrics
	poolAcquiresTotal *prometheus.CounterVec
	poolInUse         prometheus.Gauge
	poolRetiresTotal  *prometheus.CounterVec
	probeFailures     prometheus.Counter

	// Cache metrics
	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec
	cacheEvictsTotal *prometheus.CounterVec

	// Admission metrics
	rateLimitDenials prometheus.Counter
	overloadDenials  prometheus.Counter

	// Lifecycle metrics
	stateTransitions *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_requests_total",
			Help: "Total number of JSON-RPC requests received.",
		}, []string{"method"}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outlook_mcp_requests_in_flight",
			Help: "Number of requests currently being processed.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outlook_mcp_request_duration_seconds",
			Help:    "Request processing time by method and outcome.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "outcome"}),

		poolAcquiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_pool_acquires_total",
			Help: "Total number of pool handle acquisitions.",
		}, []string{"waited"}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outlook_mcp_pool_in_use",
			Help: "Number of pool handles currently borrowed.",
		}),
		poolRetiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_pool_retires_total",
			Help: "Total number of pool handles retired.",
		}, []string{"reason"}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outlook_mcp_probe_failures_total",
			Help: "Total number of failed store health probes.",
		}),

		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_cache_hits_total",
			Help: "Total number of cache hits.",
		}, []string{"tier"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_cache_misses_total",
			Help: "Total number of cache misses.",
		}, []string{"tier"}),
		cacheEvictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_cache_evictions_total",
			Help: "Total number of cache entries evicted.",
		}, []string{"tier"}),

		rateLimitDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outlook_mcp_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter.",
		}),
		overloadDenials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outlook_mcp_overload_denials_total",
			Help: "Total number of requests denied by the admission gate.",
		}),

		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlook_mcp_state_transitions_total",
			Help: "Total number of server lifecycle state transitions.",
		}, []string{"state"}),
	}

	// Register all metrics
	reg.MustRegister(
		c.requestsTotal,
		c.requestsInFlight,
		c.requestDuration,
		c.poolAcquiresTotal,
		c.poolInUse,
		c.poolRetiresTotal,
		c.probeFailures,
		c.cacheHitsTotal,
		c.cacheMissesTotal,
		c.cacheEvictsTotal,
		c.rateLimitDenials,
		c.overloadDenials,
		c.stateTransitions,
	)

	return c
}

// RequestReceived increments the request counter and in-flight gauge.
func (c *PrometheusCollector) RequestReceived(method string) {
	c.requestsTotal.WithLabelValues(method).Inc()
	c.requestsInFlight.Inc()
}

// RequestCompleted observes the request duration and decrements in-flight.
func (c *PrometheusCollector) RequestCompleted(method, outcome string, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, outcome).Observe(duration.Seconds())
	c.requestsInFlight.Dec()
}

// PoolAcquire increments the acquire counter and in-use gauge.
func (c *PrometheusCollector) PoolAcquire(waited bool) {
	label := "false"
	if waited {
		label = "true"
	}
	c.poolAcquiresTotal.WithLabelValues(label).Inc()
	c.poolInUse.Inc()
}

// PoolRelease decrements the in-use gauge.
func (c *PrometheusCollector) PoolRelease() {
	c.poolInUse.Dec()
}

// PoolRetire increments the retirement counter.
func (c *PrometheusCollector) PoolRetire(reason string) {
	c.poolRetiresTotal.WithLabelValues(reason).Inc()
}

// ProbeFailure increments the probe failure counter.
func (c *PrometheusCollector) ProbeFailure() {
	c.probeFailures.Inc()
}

// CacheHit increments the cache hit counter.
func (c *PrometheusCollector) CacheHit(tier string) {
	c.cacheHitsTotal.WithLabelValues(tier).Inc()
}

// CacheMiss increments the cache miss counter.
func (c *PrometheusCollector) CacheMiss(tier string) {
	c.cacheMissesTotal.WithLabelValues(tier).Inc()
}

// CacheEvict adds to the eviction counter.
func (c *PrometheusCollector) CacheEvict(tier string, count int) {
	c.cacheEvictsTotal.WithLabelValues(tier).Add(float64(count))
}

// RateLimitDenied increments the rate limit denial counter.
func (c *PrometheusCollector) RateLimitDenied() {
	c.rateLimitDenials.Inc()
}

// Overloaded increments the overload denial counter.
func (c *PrometheusCollector) Overloaded() {
	c.overloadDenials.Inc()
}

// StateTransition increments the lifecycle transition counter.
func (c *PrometheusCollector) StateTransition(state string) {
	c.stateTransitions.WithLabelValues(state).Inc()
}

// PrometheusServer serves the metrics registry over HTTP.
type PrometheusServer struct {
	srv *http.Server
}

// NewPrometheusServer creates a metrics server exposing the given
// registry at the given address and path.
func NewPrometheusServer(address, path string, reg *prometheus.Registry) *PrometheusServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &PrometheusServer{
		srv: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving metrics. It blocks until the context is canceled
// or the listener fails.
func (s *PrometheusServer) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully stops the metrics server.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
