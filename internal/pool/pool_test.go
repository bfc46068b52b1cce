package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
	"github.com/infodancer/outlook-mcp/internal/mailstore/mailstoretest"
)

// dialRecorder hands out a fresh fake store per dial and remembers every
// store it created.
type dialRecorder struct {
	mu     sync.Mutex
	stores []*mailstoretest.Fake
	err    error
}

func (d *dialRecorder) Dial(ctx context.Context) (mailstore.Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	f := mailstoretest.New()
	d.stores = append(d.stores, f)
	return f, nil
}

func (d *dialRecorder) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stores)
}

func (d *dialRecorder) store(i int) *mailstoretest.Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stores[i]
}

func testConfig() Config {
	return Config{
		MinConnections: 0,
		MaxConnections: 2,
		MaxIdle:        time.Minute,
		MaxAge:         time.Hour,
		DialTimeout:    time.Second,
	}
}

func newTestPool(t *testing.T, cfg Config, clk clock.Clock) (*Pool, *dialRecorder) {
	t.Helper()
	d := &dialRecorder{}
	p := New(cfg, d, clk, slog.New(slog.NewTextHandler(testWriter{t}, nil)), nil)
	t.Cleanup(p.Close)
	return p, d
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(b []byte) (int, error) {
	w.t.Log(string(b))
	return len(b), nil
}

func TestAcquireRelease(t *testing.T) {
	p, d := newTestPool(t, testConfig(), nil)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h1.ID() == h2.ID() {
		t.Error("expected distinct handles")
	}
	if got := p.Stats(); got.InUse != 2 || got.Size != 2 {
		t.Errorf("Stats() = %+v, want in_use=2 size=2", got)
	}

	p.Release(h1, OutcomeOK)
	p.Release(h2, OutcomeOK)
	if got := p.Stats(); got.Idle != 2 || got.InUse != 0 {
		t.Errorf("Stats() = %+v, want idle=2 in_use=0", got)
	}
	if d.dialed() != 2 {
		t.Errorf("dialed %d stores, want 2", d.dialed())
	}

	// A third acquire reuses an idle handle instead of dialing.
	h3, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h3, OutcomeOK)
	if d.dialed() != 2 {
		t.Errorf("dialed %d stores after reuse, want 2", d.dialed())
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	p, _ := newTestPool(t, cfg, nil)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan *Handle, 1)
	go func() {
		h2, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("waiting Acquire: %v", err)
		}
		got <- h2
	}()

	// Let the goroutine register as a waiter.
	deadline := time.Now().Add(time.Second)
	for p.Stats().Waiters == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}

	p.Release(h, OutcomeOK)
	select {
	case h2 := <-got:
		if h2.ID() != h.ID() {
			t.Error("waiter received a different handle than the one released")
		}
		p.Release(h2, OutcomeOK)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the released handle")
	}
}

func TestAcquireDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	p, _ := newTestPool(t, cfg, nil)

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer p.Release(h, OutcomeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !mailstore.IsKind(err, mailstore.KindTimeout) {
		t.Errorf("Acquire past deadline: got %v, want timeout kind", err)
	}
	if got := p.Stats(); got.Waiters != 0 {
		t.Errorf("Stats().Waiters = %d after deadline, want 0", got.Waiters)
	}
}

func TestReleaseFailureRetiresHandle(t *testing.T) {
	p, d := newTestPool(t, testConfig(), nil)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h, OutcomeFailure)

	if got := p.Stats(); got.Size != 0 {
		t.Errorf("Stats().Size = %d after failure release, want 0", got.Size)
	}
	// The retired store was closed.
	if err := d.store(0).Probe(ctx); !mailstore.IsKind(err, mailstore.KindUnavailable) {
		t.Errorf("retired store Probe: got %v, want unavailable", err)
	}
}

func TestDialFailure(t *testing.T) {
	d := &dialRecorder{err: errors.New("connect refused")}
	p := New(testConfig(), d, nil, slog.New(slog.NewTextHandler(testWriter{t}, nil)), nil)
	defer p.Close()

	_, err := p.Acquire(context.Background())
	if !mailstore.IsKind(err, mailstore.KindUnavailable) {
		t.Errorf("Acquire with failing dialer: got %v, want unavailable", err)
	}
	if got := p.Stats(); got.Size != 0 {
		t.Errorf("Stats().Size = %d after dial failure, want 0", got.Size)
	}
}

func TestCloseFailsWaiters(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	p, _ := newTestPool(t, cfg, nil)

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		got <- err
	}()

	deadline := time.Now().Add(time.Second)
	for p.Stats().Waiters == 0 {
		if time.Now().After(deadline) {
			t.Fatal("waiter never registered")
		}
		time.Sleep(time.Millisecond)
	}

	p.Close()
	select {
	case err := <-got:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("waiting Acquire after Close: got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never unblocked after Close")
	}

	// Releasing the borrowed handle after Close retires it.
	p.Release(h, OutcomeOK)
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire after Close: got %v, want ErrClosed", err)
	}
}

func TestSweepRetiresByAge(t *testing.T) {
	clk := clock.NewFake()
	cfg := testConfig()
	cfg.MaxAge = 10 * time.Minute
	cfg.MaxIdle = time.Hour
	p, d := newTestPool(t, cfg, clk)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h, OutcomeOK)

	clk.Add(11 * time.Minute)
	p.sweep()

	if got := p.Stats(); got.Size != 0 {
		t.Errorf("Stats().Size = %d after age sweep, want 0", got.Size)
	}
	if err := d.store(0).Probe(ctx); !mailstore.IsKind(err, mailstore.KindUnavailable) {
		t.Errorf("aged-out store Probe: got %v, want unavailable", err)
	}
}

func TestSweepRetiresByIdleAboveMin(t *testing.T) {
	clk := clock.NewFake()
	cfg := testConfig()
	cfg.MinConnections = 1
	cfg.MaxIdle = 5 * time.Minute
	p, _ := newTestPool(t, cfg, clk)
	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h1, OutcomeOK)
	p.Release(h2, OutcomeOK)

	clk.Add(6 * time.Minute)
	p.sweep()

	// One handle is retired for idleness; the minimum is preserved.
	if got := p.Stats(); got.Size != 1 {
		t.Errorf("Stats().Size = %d after idle sweep, want 1", got.Size)
	}
}

func TestSweepRetiresFailedProbe(t *testing.T) {
	clk := clock.NewFake()
	p, d := newTestPool(t, testConfig(), clk)
	ctx := context.Background()

	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release(h, OutcomeOK)

	d.store(0).Fail["probe"] = mailstore.Errorf(mailstore.KindTransient, "probe", "connection reset")
	p.sweep()

	if got := p.Stats(); got.Size != 0 {
		t.Errorf("Stats().Size = %d after probe failure, want 0", got.Size)
	}
}

func TestStartStrict(t *testing.T) {
	d := &dialRecorder{err: errors.New("connect refused")}
	cfg := testConfig()
	cfg.MinConnections = 1
	p := New(cfg, d, nil, slog.New(slog.NewTextHandler(testWriter{t}, nil)), nil)

	if err := p.Start(context.Background(), true); err == nil {
		t.Error("Start(strict) with failing dialer: got nil error")
		p.Close()
	}
}

func TestStartLazy(t *testing.T) {
	d := &dialRecorder{err: errors.New("connect refused")}
	cfg := testConfig()
	cfg.MinConnections = 1
	cfg.ProbeInterval = time.Hour
	p := New(cfg, d, nil, slog.New(slog.NewTextHandler(testWriter{t}, nil)), nil)
	defer p.Close()

	if err := p.Start(context.Background(), false); err != nil {
		t.Fatalf("Start(lazy): %v", err)
	}
	if got := p.Stats(); got.Size != 0 {
		t.Errorf("Stats().Size = %d after lazy start, want 0", got.Size)
	}

	// Once the backend recovers, acquisition succeeds.
	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after recovery: %v", err)
	}
	p.Release(h, OutcomeOK)
}
