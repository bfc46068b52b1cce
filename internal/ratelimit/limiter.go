// Package ratelimit gates request admission with a token bucket plus
// fixed per-minute and per-hour windows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"golang.org/x/time/rate"

	"github.com/infodancer/outlook-mcp/internal/metrics"
)

// Config holds limiter settings. Zero PerMinute or PerHour disables that
// window.
type Config struct {
	RPS       float64
	Burst     int
	PerMinute int
	PerHour   int
}

// Decision is the outcome of an admission check.
type Decision struct {
	OK bool

	// RetryAfter is how long the caller should wait before retrying.
	// Only meaningful when OK is false.
	RetryAfter time.Duration
}

// window counts events in fixed intervals of the given length.
type window struct {
	length time.Duration
	limit  int
	start  time.Time
	count  int
}

// tick resets the window if now has moved past it, then reports whether
// another event fits. It does not record the event.
func (w *window) tick(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}
	if now.Sub(w.start) >= w.length {
		w.start = now.Truncate(w.length)
		w.count = 0
	}
	return w.count < w.limit
}

// retryAfter reports the time until the window rolls over.
func (w *window) retryAfter(now time.Time) time.Duration {
	return w.start.Add(w.length).Sub(now)
}

// Limiter admits requests subject to a token bucket and the configured
// windows. Safe for concurrent use.
type Limiter struct {
	bucket    *rate.Limiter
	clk       clock.Clock
	collector metrics.Collector

	mu     sync.Mutex
	minute window
	hour   window
}

// New creates a limiter. A nil clock means wall time.
func New(cfg Config, clk clock.Clock, collector metrics.Collector) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	now := clk.Now()
	return &Limiter{
		bucket:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		clk:       clk,
		collector: collector,
		minute:    window{length: time.Minute, limit: cfg.PerMinute, start: now.Truncate(time.Minute)},
		hour:      window{length: time.Hour, limit: cfg.PerHour, start: now.Truncate(time.Hour)},
	}
}

// Allow checks all three limits without waiting. On denial the decision
// carries the retry hint from the strictest limit.
func (l *Limiter) Allow() Decision {
	now := l.clk.Now()

	l.mu.Lock()
	if !l.minute.tick(now) {
		d := Decision{RetryAfter: l.minute.retryAfter(now)}
		l.mu.Unlock()
		l.collector.RateLimitDenied()
		return d
	}
	if !l.hour.tick(now) {
		d := Decision{RetryAfter: l.hour.retryAfter(now)}
		l.mu.Unlock()
		l.collector.RateLimitDenied()
		return d
	}

	res := l.bucket.ReserveN(now, 1)
	if !res.OK() {
		l.mu.Unlock()
		l.collector.RateLimitDenied()
		return Decision{RetryAfter: time.Second}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		l.mu.Unlock()
		l.collector.RateLimitDenied()
		return Decision{RetryAfter: delay}
	}

	l.minute.count++
	l.hour.count++
	l.mu.Unlock()
	return Decision{OK: true}
}

// Admit waits for a token within the context deadline. Window limits
// never wait: once a window is exhausted the request is denied outright,
// since the rollover is typically further away than any request deadline.
func (l *Limiter) Admit(ctx context.Context) Decision {
	d := l.Allow()
	if d.OK {
		return d
	}

	deadline, ok := ctx.Deadline()
	if !ok || d.RetryAfter > deadline.Sub(l.clk.Now()) {
		return d
	}

	select {
	case <-l.clk.After(d.RetryAfter):
		return l.Allow()
	case <-ctx.Done():
		return d
	}
}
