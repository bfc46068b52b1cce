package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/infodancer/outlook-mcp/internal/cache"
	"github.com/infodancer/outlook-mcp/internal/config"
	"github.com/infodancer/outlook-mcp/internal/logging"
	"github.com/infodancer/outlook-mcp/internal/mailstore/imapstore"
	"github.com/infodancer/outlook-mcp/internal/metrics"
	"github.com/infodancer/outlook-mcp/internal/pool"
	"github.com/infodancer/outlook-mcp/internal/ratelimit"
	"github.com/infodancer/outlook-mcp/internal/server"
	"github.com/infodancer/outlook-mcp/internal/transport"
)

// Exit codes: 0 clean, 1 startup failure, 2 runtime fatal.
const (
	exitStartupFailure = 1
	exitRuntimeFatal   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return exitStartupFailure
	}
	if flags.StrictStartup {
		cfg.StrictStartup = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitStartupFailure
	}
	if cfg.Mail.IMAPAddress == "" || cfg.Mail.SMTPAddress == "" {
		fmt.Fprintf(os.Stderr, "mail.imap_address and mail.smtp_address are required\n")
		return exitStartupFailure
	}

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting", "name", "outlook-mcp",
		"stdio", cfg.Transports.Stdio, "http", cfg.Transports.HTTP)

	var collector metrics.Collector = &metrics.NoopCollector{}
	var metricsServer *metrics.PrometheusServer
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		collector = metrics.NewPrometheusCollector(registry)
		metricsServer = metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path, registry)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := imapstore.Dialer(imapstore.Options{
		IMAPAddress: cfg.Mail.IMAPAddress,
		SMTPAddress: cfg.Mail.SMTPAddress,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		FromAddress: cfg.Mail.FromAddress,
	})

	p := pool.New(pool.Config{
		MinConnections: cfg.Pool.MinConnections,
		MaxConnections: cfg.Pool.MaxConnections,
		MaxIdle:        cfg.Pool.MaxIdleDuration(),
		MaxAge:         cfg.Pool.MaxAgeDuration(),
		ProbeInterval:  cfg.Pool.ProbeIntervalDuration(),
		DialTimeout:    cfg.ConnectionTimeoutDuration(),
	}, dialer, nil, logger, collector)
	if err := p.Start(ctx, cfg.StrictStartup); err != nil {
		fmt.Fprintf(os.Stderr, "mail store unavailable: %v\n", err)
		return exitStartupFailure
	}

	c := cache.New(cache.Config{
		MaxBytes:        cfg.Cache.MaxBytes,
		EmailTTL:        cfg.Cache.EmailTTLDuration(),
		FolderTTL:       cfg.Cache.FolderTTLDuration(),
		CleanupInterval: cfg.Cache.CleanupIntervalDuration(),
	}, nil, logger, collector)

	limiter := ratelimit.New(ratelimit.Config{
		RPS:       cfg.RateLimit.RPS,
		Burst:     cfg.RateLimit.Burst,
		PerMinute: cfg.RateLimit.PerMinute,
		PerHour:   cfg.RateLimit.PerHour,
	}, nil, collector)

	core := server.New(cfg, p, c, limiter, nil, logger, collector)
	core.Start()

	// fatal carries transport listener failures; done signals that the
	// stdio peer closed its end.
	fatal := make(chan error, 2)
	done := make(chan struct{}, 1)

	if metricsServer != nil {
		go func() {
			if err := metricsServer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("metrics server failed", "error", err.Error())
			}
		}()
	}

	var httpTransport *transport.HTTP
	if cfg.Transports.HTTP {
		httpTransport = transport.NewHTTP(cfg.ListenAddress(), core, logger)
		go func() {
			if err := httpTransport.Start(ctx); err != nil && ctx.Err() == nil {
				fatal <- err
			}
		}()
	}

	if cfg.Transports.Stdio {
		stdio := transport.NewStdio(core, logger)
		go func() {
			if err := stdio.Serve(ctx, os.Stdin, os.Stdout); err != nil {
				logger.Warn("stdio transport error", "error", err.Error())
			}
			done <- struct{}{}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-done:
		// The spawning client closed stdin; treat it as a clean exit
		// even when the HTTP transport is also up.
		logger.Info("stdio input closed")
	case err := <-fatal:
		logger.Error("transport failed", "error", err.Error())
		exitCode = exitRuntimeFatal
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceDuration())
	defer cancel()
	if httpTransport != nil {
		if err := httpTransport.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", "error", err.Error())
		}
	}
	core.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("stopped")
	return exitCode
}
