package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
	"github.com/infodancer/outlook-mcp/internal/pool"
)

// Guard wraps every store call in a circuit breaker so a dead backend
// fails fast instead of tying up pool waiters.
type Guard struct {
	pool    *pool.Pool
	breaker *gobreaker.CircuitBreaker
}

// NewGuard creates a guard over the given pool. The breaker opens after
// a majority of recent calls fail and probes again after a cooldown.
func NewGuard(p *pool.Pool, logger *slog.Logger) *Guard {
	settings := gobreaker.Settings{
		Name:    "mailstore",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Only backend-availability failures count against the
			// breaker; not-found and policy errors are healthy traffic.
			return !mailstore.RetiresHandle(err)
		},
	}
	return &Guard{pool: p, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Open reports whether the breaker is refusing calls.
func (g *Guard) Open() bool {
	return g.breaker.State() == gobreaker.StateOpen
}

// Do borrows a handle, runs fn against its store under the breaker, and
// releases the handle with an outcome derived from the error.
func (g *Guard) Do(ctx context.Context, fn func(store mailstore.Store) error) error {
	_, err := g.breaker.Execute(func() (any, error) {
		h, err := g.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		err = fn(h.Store())
		switch {
		case mailstore.IsKind(err, mailstore.KindTimeout):
			g.pool.Release(h, pool.OutcomeTimeout)
		case mailstore.RetiresHandle(err):
			g.pool.Release(h, pool.OutcomeFailure)
		default:
			g.pool.Release(h, pool.OutcomeOK)
		}
		return nil, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return mailstore.NewError(mailstore.KindUnavailable, "guard", err)
	}
	return err
}

// DoWithRetry runs Do, retrying transient failures up to maxRetries
// times with exponential backoff, bounded by the context deadline.
func (g *Guard) DoWithRetry(ctx context.Context, maxRetries int, fn func(store mailstore.Store) error) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 0; ; attempt++ {
		err = g.Do(ctx, fn)
		if err == nil || !mailstore.Retryable(err) || attempt >= maxRetries {
			return err
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return err
		}
	}
}
