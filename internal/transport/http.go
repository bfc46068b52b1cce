package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/infodancer/outlook-mcp/internal/rpc"
	"github.com/infodancer/outlook-mcp/internal/server"
)

// HTTP serves the core over POST /mcp plus GET /health. Application
// errors are carried in the JSON-RPC envelope with status 200.
type HTTP struct {
	core   Core
	logger *slog.Logger
	sess   *rpc.Session
	srv    *http.Server
}

// NewHTTP creates the HTTP transport listening on addr. All requests
// share one logical session, so the first call must be initialize just
// as on stdio.
func NewHTTP(addr string, core Core, logger *slog.Logger) *HTTP {
	t := &HTTP{
		core:   core,
		logger: logger,
		sess:   rpc.NewSession(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", t.handleRPC)
	mux.HandleFunc("/health", t.handleHealth)

	t.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    64 * 1024,
	}
	return t
}

// Handler exposes the route table for tests.
func (t *HTTP) Handler() http.Handler { return t.srv.Handler }

// Start serves until the context is canceled or the listener fails.
func (t *HTTP) Start(ctx context.Context) error {
	t.logger.Info("http transport listening", "address", t.srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := t.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting connections and waits for active handlers.
func (t *HTTP) Shutdown(ctx context.Context) error {
	t.sess.BeginClose()
	err := t.srv.Shutdown(ctx)
	t.sess.Close()
	return err
}

func (t *HTTP) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil {
		http.Error(w, "error reading body", http.StatusBadRequest)
		return
	}

	resp := t.core.HandleFrame(r.Context(), t.sess, body)
	if resp == nil {
		// Notification: no response body by contract.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	out, err := rpc.Encode(resp)
	if err != nil {
		t.logger.Error("encoding response", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		t.logger.Warn("writing response", "error", err.Error())
	}
}

func (t *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := t.core.HealthStatus()
	payload := map[string]any{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"server_info": server.ServerInfo(),
		"details":     t.core.Health(),
	}

	code := http.StatusOK
	if status == server.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.logger.Warn("writing health response", "error", err.Error())
	}
}
