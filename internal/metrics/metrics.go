// Package metrics provides interfaces and implementations for collecting
// bridge server metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import (
	"context"
	"time"
)

// Collector defines the interface for recording bridge server metrics.
// Implementations must be safe for concurrent use.
type Collector interface {
	// Request metrics
	RequestReceived(method string)
	RequestCompleted(method, outcome string, duration time.Duration)

	// Pool metrics
	PoolAcquire(waited bool)
	PoolRelease()
	PoolRetire(reason string)
	ProbeFailure()

	// Cache metrics
	CacheHit(tier string)
	CacheMiss(tier string)
	CacheEvict(tier string, count int)

	// Admission metrics
	RateLimitDenied()
	Overloaded()

	// Lifecycle metrics
	StateTransition(state string)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
