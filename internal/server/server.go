// Package server contains the request core: lifecycle management,
// admission control, method routing, and the operation handlers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"github.com/infodancer/outlook-mcp/internal/cache"
	"github.com/infodancer/outlook-mcp/internal/config"
	"github.com/infodancer/outlook-mcp/internal/metrics"
	"github.com/infodancer/outlook-mcp/internal/pool"
	"github.com/infodancer/outlook-mcp/internal/ratelimit"
	"github.com/infodancer/outlook-mcp/internal/rpc"
)

const (
	serverName    = "outlook-mcp"
	serverVersion = "1.0.0"

	// admissionWait is how long a request may queue for an admission
	// slot before it is rejected as overloaded.
	admissionWait = 250 * time.Millisecond
)

// State tracks the server through its lifecycle.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String returns the state name for logging and the health endpoint.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server is the transport-independent request core.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	collector metrics.Collector
	clk       clock.Clock

	pool    *pool.Pool
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	guard   *Guard

	sem       chan struct{}
	startedAt time.Time
	inflight  sync.WaitGroup

	mu      sync.Mutex
	state   State
	inboxID string

	health *healthMonitor
}

// New wires the core together. Start must be called before requests are
// dispatched.
func New(cfg config.Config, p *pool.Pool, c *cache.Cache, l *ratelimit.Limiter, clk clock.Clock, logger *slog.Logger, collector metrics.Collector) *Server {
	if clk == nil {
		clk = clock.New()
	}
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: collector,
		clk:       clk,
		pool:      p,
		cache:     c,
		limiter:   l,
		guard:     NewGuard(p, logger),
		sem:       make(chan struct{}, cfg.MaxConcurrentRequests),
		state:     StateInitializing,
	}
	s.health = newHealthMonitor(s, cfg.Pool.ProbeIntervalDuration())
	return s
}

// Start transitions the server to running and launches the health
// monitor.
func (s *Server) Start() {
	s.mu.Lock()
	s.state = StateRunning
	s.startedAt = s.clk.Now()
	s.mu.Unlock()

	s.collector.StateTransition(StateRunning.String())
	s.logger.Info("server state transition", "state", StateRunning.String())
	s.health.start()
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Shutdown drains in-flight requests within the grace period, then
// flushes the cache and closes the pool.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateDraining
	s.mu.Unlock()
	s.collector.StateTransition(StateDraining.String())
	s.logger.Info("server state transition", "state", StateDraining.String())

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown grace expired with requests in flight")
	}

	s.health.stop()
	s.cache.InvalidateAll()
	s.cache.Close()
	s.pool.Close()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.collector.StateTransition(StateStopped.String())
	s.logger.Info("server state transition", "state", StateStopped.String())
}

// HandleFrame processes one raw frame from a transport and returns the
// response to write, or nil when the frame was a notification.
func (s *Server) HandleFrame(ctx context.Context, sess *rpc.Session, frame []byte) *rpc.Response {
	req, parseErr := rpc.Parse(frame)
	if parseErr != nil {
		s.logger.Warn("rejected malformed frame", "session_id", sess.ID(), "details", parseErr.Data.Details)
		return rpc.NewErrorResponse(nil, parseErr)
	}
	return s.Handle(ctx, sess, req)
}

// Handle runs one decoded request through admission, the session gate,
// and its handler.
func (s *Server) Handle(ctx context.Context, sess *rpc.Session, req *rpc.Request) *rpc.Response {
	start := s.clk.Now()
	logger := s.logger.With("session_id", sess.ID(), "method", req.Method, "request_id", idForLog(req))
	s.collector.RequestReceived(req.Method)

	// Notifications only execute for send_email; everything else is
	// dropped after the observability event.
	if req.IsNotification() && req.Method != "send_email" {
		logger.Warn("dropped notification", "reason", "method requires a response")
		s.collector.RequestCompleted(req.Method, "dropped", s.clk.Now().Sub(start))
		return nil
	}

	resp, outcome := s.dispatch(ctx, sess, req, logger)
	s.collector.RequestCompleted(req.Method, outcome, s.clk.Now().Sub(start))
	logger.Info("request completed", "outcome", outcome, "duration_ms", s.clk.Now().Sub(start).Milliseconds())

	if req.IsNotification() {
		return nil
	}
	return resp
}

// dispatch applies the lifecycle, session, and admission gates, then
// invokes the routed handler under the request deadline.
func (s *Server) dispatch(ctx context.Context, sess *rpc.Session, req *rpc.Request, logger *slog.Logger) (*rpc.Response, string) {
	if s.State() != StateRunning {
		return rpc.NewErrorResponse(req.ID, rpc.Unavailable("server is not accepting requests")), "unavailable"
	}

	if req.Method != "initialize" {
		if eo := sess.RequireReady(); eo != nil {
			return rpc.NewErrorResponse(req.ID, eo), "session_error"
		}
	}

	// Per-request deadline before admission so queue time counts
	// against the caller's budget.
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeoutDuration())
	defer cancel()

	if d := s.limiter.Admit(ctx); !d.OK {
		return rpc.NewErrorResponse(req.ID, rpc.RateLimited(d.RetryAfter)), "rate_limited"
	}

	select {
	case s.sem <- struct{}{}:
	case <-s.clk.After(admissionWait):
		s.collector.Overloaded()
		return rpc.NewErrorResponse(req.ID, rpc.Overloaded()), "overloaded"
	case <-ctx.Done():
		s.collector.Overloaded()
		return rpc.NewErrorResponse(req.ID, rpc.Overloaded()), "overloaded"
	}
	defer func() { <-s.sem }()

	s.inflight.Add(1)
	defer s.inflight.Done()

	result, eo := s.route(ctx, sess, req, logger)
	if eo != nil {
		return rpc.NewErrorResponse(req.ID, eo), "error"
	}
	return rpc.NewResponse(req.ID, result), "ok"
}

// route maps a method name to its handler and absorbs panics.
func (s *Server) route(ctx context.Context, sess *rpc.Session, req *rpc.Request, logger *slog.Logger) (result any, eo *rpc.ErrorObject) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			result, eo = nil, rpc.Internal("unexpected server error")
		}
	}()

	switch req.Method {
	case "initialize":
		return s.handleInitialize(sess, req.Params, logger)
	case "get_folders":
		return s.handleGetFolders(ctx, req.Params, logger)
	case "list_inbox_emails":
		return s.handleListInbox(ctx, req.Params, logger)
	case "list_emails":
		return s.handleListEmails(ctx, req.Params, logger)
	case "get_email":
		return s.handleGetEmail(ctx, req.Params, logger)
	case "search_emails":
		return s.handleSearchEmails(ctx, req.Params, logger)
	case "send_email":
		return s.handleSendEmail(ctx, req.Params, logger)
	default:
		return nil, rpc.MethodNotFound(req.Method)
	}
}

// idForLog renders a request id without assuming one is present.
func idForLog(req *rpc.Request) string {
	if req.ID == nil {
		return "notification"
	}
	return req.ID.String()
}
