package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/outlook-mcp/internal/cache"
	"github.com/infodancer/outlook-mcp/internal/mailstore"
	"github.com/infodancer/outlook-mcp/internal/pool"
)

// Health status values reported by the HTTP health endpoint.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthSnapshot is the health probe payload.
type HealthSnapshot struct {
	State            string      `json:"state"`
	OutlookConnected bool        `json:"outlook_connected"`
	PoolStats        pool.Stats  `json:"pool_stats"`
	CacheStats       cache.Stats `json:"cache_stats"`
	UptimeSeconds    float64     `json:"uptime_seconds"`
}

// healthMonitor periodically probes the store through the pool and
// records whether the backend is reachable.
type healthMonitor struct {
	server    *Server
	interval  time.Duration
	connected atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newHealthMonitor(s *Server, interval time.Duration) *healthMonitor {
	return &healthMonitor{server: s, interval: interval, stopCh: make(chan struct{})}
}

func (m *healthMonitor) start() {
	m.probe()
	if m.interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
}

func (m *healthMonitor) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// probe borrows a handle briefly and pings the store.
func (m *healthMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.server.cfg.ConnectionTimeoutDuration())
	defer cancel()

	err := m.server.guard.Do(ctx, func(store mailstore.Store) error {
		return store.Probe(ctx)
	})
	if err != nil {
		m.server.logger.Warn("health probe failed", "error", err.Error())
	}
	m.connected.Store(err == nil)
}

// Health returns the probe payload for the health endpoint.
func (s *Server) Health() HealthSnapshot {
	s.mu.Lock()
	state := s.state
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime float64
	if !startedAt.IsZero() {
		uptime = s.clk.Now().Sub(startedAt).Seconds()
	}
	return HealthSnapshot{
		State:            state.String(),
		OutlookConnected: s.health.connected.Load(),
		PoolStats:        s.pool.Stats(),
		CacheStats:       s.cache.Stats(),
		UptimeSeconds:    uptime,
	}
}

// HealthStatus maps the snapshot onto the three-way wire status.
func (s *Server) HealthStatus() string {
	snap := s.Health()
	switch {
	case snap.State != StateRunning.String():
		return StatusUnhealthy
	case !snap.OutlookConnected, s.guard.Open():
		return StatusDegraded
	case snap.PoolStats.Size < s.cfg.Pool.MinConnections:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// ServerInfo describes the build for the health endpoint.
func ServerInfo() map[string]string {
	return map[string]string{
		"name":    serverName,
		"version": serverVersion,
	}
}
