// Package pool manages a bounded set of live mail store connections.
// Callers borrow a handle for the duration of one operation and must
// return it; the pool owns every handle exclusively.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
	"github.com/infodancer/outlook-mcp/internal/metrics"
)

// Outcome reports how the borrower's operation went, so the pool can
// decide whether the handle is still trustworthy.
type Outcome int

const (
	// OutcomeOK means the operation completed; the handle is reusable.
	OutcomeOK Outcome = iota

	// OutcomeFailure means the operation hit a transport-level failure;
	// the handle is retired and replaced.
	OutcomeFailure

	// OutcomeTimeout means the operation was abandoned on deadline; the
	// handle may still be mid-call, so it is retired.
	OutcomeTimeout
)

// ErrClosed is returned by Acquire after the pool has shut down.
var ErrClosed = errors.New("pool is closed")

// Config holds pool sizing and maintenance settings.
type Config struct {
	MinConnections int
	MaxConnections int
	MaxIdle        time.Duration
	MaxAge         time.Duration
	ProbeInterval  time.Duration
	DialTimeout    time.Duration
}

// Handle wraps one live store connection. A handle belongs to at most
// one borrower at a time.
type Handle struct {
	id        string
	store     mailstore.Store
	createdAt time.Time
	lastUsed  time.Time
}

// ID returns the handle's identifier, used only for logging.
func (h *Handle) ID() string { return h.id }

// Store returns the underlying mail store connection.
func (h *Handle) Store() mailstore.Store { return h.store }

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Size    int `json:"size"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Waiters int `json:"waiters"`
}

// Pool is a bounded set of store handles with FIFO waiting and
// background maintenance. Safe for concurrent use.
type Pool struct {
	cfg       Config
	dialer    mailstore.Dialer
	clk       clock.Clock
	logger    *slog.Logger
	collector metrics.Collector

	mu      sync.Mutex
	idle    []*Handle
	waiters []chan *Handle
	size    int
	closed  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a pool. No connections are opened until Start or the
// first Acquire.
func New(cfg Config, dialer mailstore.Dialer, clk clock.Clock, logger *slog.Logger, collector metrics.Collector) *Pool {
	if clk == nil {
		clk = clock.New()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Pool{
		cfg:       cfg,
		dialer:    dialer,
		clk:       clk,
		logger:    logger,
		collector: collector,
		stopCh:    make(chan struct{}),
	}
}

// Start opens MinConnections handles and launches the maintenance loop.
// When strict is true the first dial failure is returned; otherwise dial
// failures are logged and the pool fills lazily.
func (p *Pool) Start(ctx context.Context, strict bool) error {
	for i := 0; i < p.cfg.MinConnections; i++ {
		h, err := p.dial(ctx)
		if err != nil {
			if strict {
				return err
			}
			p.logger.Warn("startup dial failed, pool will fill lazily", "error", err.Error())
			break
		}
		p.mu.Lock()
		p.size++
		p.idle = append(p.idle, h)
		p.mu.Unlock()
	}

	p.wg.Add(1)
	go p.maintain()
	return nil
}

// Acquire borrows a handle, waiting until one is available or the
// context expires. The caller must Release the handle exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.collector.PoolAcquire(false)
		return h, nil
	}

	if p.size < p.cfg.MaxConnections {
		p.size++
		p.mu.Unlock()

		h, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return nil, err
		}
		p.collector.PoolAcquire(false)
		return h, nil
	}

	// At capacity: join the FIFO wait queue.
	ch := make(chan *Handle, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case h := <-ch:
		if h == nil {
			return nil, ErrClosed
		}
		p.collector.PoolAcquire(true)
		return h, nil
	case <-ctx.Done():
		p.mu.Lock()
		for i, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				break
			}
		}
		p.mu.Unlock()
		// A handle may have been delivered between Done and removal.
		select {
		case h := <-ch:
			if h != nil {
				p.Release(h, OutcomeOK)
			}
		default:
		}
		return nil, mailstore.NewError(mailstore.KindTimeout, "pool.acquire", ctx.Err())
	}
}

// Release returns a borrowed handle. A failure or timeout outcome
// retires the handle and triggers an asynchronous replacement up to
// MinConnections.
func (p *Pool) Release(h *Handle, outcome Outcome) {
	p.collector.PoolRelease()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.retire(h, "pool_closed")
		return
	}

	switch outcome {
	case OutcomeFailure, OutcomeTimeout:
		reason := "transport_failure"
		if outcome == OutcomeTimeout {
			reason = "timeout"
		}
		p.mu.Unlock()
		p.retire(h, reason)
		p.replenish()
		return
	}

	h.lastUsed = p.clk.Now()
	if n := len(p.waiters); n > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- h
		return
	}
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:    p.size,
		Idle:    len(p.idle),
		InUse:   p.size - len(p.idle),
		Waiters: len(p.waiters),
	}
}

// Close stops maintenance, fails pending waiters, and closes every idle
// handle. Handles still borrowed are retired as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.stopCh)
	for _, ch := range waiters {
		ch <- nil
	}
	for _, h := range idle {
		p.retire(h, "pool_closed")
	}
	p.wg.Wait()
}

// dial opens and probes one new handle.
func (p *Pool) dial(ctx context.Context) (*Handle, error) {
	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}

	store, err := p.dialer.Dial(ctx)
	if err != nil {
		return nil, mailstore.NewError(mailstore.KindUnavailable, "pool.dial", err)
	}
	if err := store.Probe(ctx); err != nil {
		_ = store.Close()
		return nil, mailstore.NewError(mailstore.KindUnavailable, "pool.dial", err)
	}

	now := p.clk.Now()
	h := &Handle{
		id:        uuid.NewString(),
		store:     store,
		createdAt: now,
		lastUsed:  now,
	}
	p.logger.Debug("pool handle created", "handle_id", h.id)
	return h, nil
}

// retire closes a handle and frees its slot.
func (p *Pool) retire(h *Handle, reason string) {
	p.collector.PoolRetire(reason)
	p.logger.Debug("pool handle retired", "handle_id", h.id, "reason", reason)

	if err := h.store.Close(); err != nil {
		p.logger.Warn("error closing store handle", "handle_id", h.id, "error", err.Error())
	}

	p.mu.Lock()
	p.size--
	p.mu.Unlock()
}

// replenish asynchronously rebuilds handles up to MinConnections.
func (p *Pool) replenish() {
	p.mu.Lock()
	if p.closed || p.size >= p.cfg.MinConnections {
		p.mu.Unlock()
		return
	}
	p.size++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
		defer cancel()
		h, err := p.dial(ctx)
		if err != nil {
			p.logger.Warn("pool replenish failed", "error", err.Error())
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return
		}
		p.deliver(h)
	}()
}

// deliver hands a fresh handle to a waiter or parks it idle.
func (p *Pool) deliver(h *Handle) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.retire(h, "pool_closed")
		return
	}
	if n := len(p.waiters); n > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		ch <- h
		return
	}
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// maintain runs the periodic idle/age sweep and health probes.
func (p *Pool) maintain() {
	defer p.wg.Done()

	if p.cfg.ProbeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep retires idle handles past MaxIdle (keeping MinConnections) or
// past MaxAge, probes the survivors, and refills to the minimum.
func (p *Pool) sweep() {
	now := p.clk.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	idle := p.idle
	p.idle = nil
	size := p.size
	p.mu.Unlock()

	var keep []*Handle
	for _, h := range idle {
		switch {
		case p.cfg.MaxAge > 0 && now.Sub(h.createdAt) > p.cfg.MaxAge:
			p.retire(h, "max_age")
			size--
		case p.cfg.MaxIdle > 0 && now.Sub(h.lastUsed) > p.cfg.MaxIdle && size > p.cfg.MinConnections:
			p.retire(h, "max_idle")
			size--
		default:
			keep = append(keep, h)
		}
	}

	for _, h := range keep {
		probeCtx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
		err := h.store.Probe(probeCtx)
		cancel()
		if err != nil {
			p.collector.ProbeFailure()
			p.logger.Warn("pool handle failed probe", "handle_id", h.id, "error", err.Error())
			p.retire(h, "probe_failure")
			continue
		}
		p.deliver(h)
	}

	// Single-shot reconnect attempt back up to the minimum.
	for {
		p.mu.Lock()
		if p.closed || p.size >= p.cfg.MinConnections {
			p.mu.Unlock()
			return
		}
		p.size++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DialTimeout)
		h, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.logger.Warn("pool refill failed", "error", err.Error())
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return
		}
		p.deliver(h)
	}
}
