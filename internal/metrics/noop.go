package metrics

import "time"

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// RequestReceived is a no-op.
func (n *NoopCollector) RequestReceived(method string) {}

// RequestCompleted is a no-op.
func (n *NoopCollector) RequestCompleted(method, outcome string, duration time.Duration) {}

// PoolAcquire is a no-op.
func (n *NoopCollector) PoolAcquire(waited bool) {}

// PoolRelease is a no-op.
func (n *NoopCollector) PoolRelease() {}

// PoolRetire is a no-op.
func (n *NoopCollector) PoolRetire(reason string) {}

// ProbeFailure is a no-op.
func (n *NoopCollector) ProbeFailure() {}

// CacheHit is a no-op.
func (n *NoopCollector) CacheHit(tier string) {}

// CacheMiss is a no-op.
func (n *NoopCollector) CacheMiss(tier string) {}

// CacheEvict is a no-op.
func (n *NoopCollector) CacheEvict(tier string, count int) {}

// RateLimitDenied is a no-op.
func (n *NoopCollector) RateLimitDenied() {}

// Overloaded is a no-op.
func (n *NoopCollector) Overloaded() {}

// StateTransition is a no-op.
func (n *NoopCollector) StateTransition(state string) {}
