// Package transport exposes the request core over its two wire
// surfaces: a line-oriented stdio transport and an HTTP transport.
// Both are thin: frame in, core, frame out.
package transport

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/infodancer/outlook-mcp/internal/rpc"
	"github.com/infodancer/outlook-mcp/internal/server"
)

// maxFrameBytes bounds a single line frame.
const maxFrameBytes = 4 * 1024 * 1024

// Core is the part of the server the transports drive.
type Core interface {
	HandleFrame(ctx context.Context, sess *rpc.Session, frame []byte) *rpc.Response
	Health() server.HealthSnapshot
	HealthStatus() string
}

// Stdio serves one session over a byte stream, one JSON object per
// line. Requests are handled concurrently; responses are written in
// completion order.
type Stdio struct {
	core   Core
	logger *slog.Logger
}

// NewStdio creates the stdio transport.
func NewStdio(core Core, logger *slog.Logger) *Stdio {
	return &Stdio{core: core, logger: logger}
}

// Serve reads frames from r until EOF or context cancellation and
// writes responses to w. It blocks until every in-flight request has
// finished.
func (t *Stdio) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sess := rpc.NewSession()
	t.logger.Info("stdio session opened", "session_id", sess.ID())

	var writeMu sync.Mutex
	var wg sync.WaitGroup

	write := func(resp *rpc.Response) {
		if resp == nil {
			return
		}
		out, err := rpc.Encode(resp)
		if err != nil {
			t.logger.Error("encoding response", "session_id", sess.ID(), "error", err.Error())
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := w.Write(append(out, '\n')); err != nil {
			t.logger.Warn("writing response", "session_id", sess.ID(), "error", err.Error())
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())
		if len(frame) == 0 {
			continue
		}

		// The handshake must land in arrival order; once the session
		// is ready, handlers may overlap freely.
		if sess.State() != rpc.SessionReady {
			write(t.core.HandleFrame(ctx, sess, frame))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			write(t.core.HandleFrame(ctx, sess, frame))
		}()
	}

	sess.BeginClose()
	wg.Wait()
	sess.Close()
	t.logger.Info("stdio session closed", "session_id", sess.ID())

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
