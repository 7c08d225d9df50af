// Command mcp-server is the runtime's composition root: parse flags, load
// configuration, build the transport and every supporting component, wire
// them into a server.Server, and run until a shutdown signal arrives.
//
// Grounded on the teacher's main.go, which did the same sequence (flag ->
// LoadConfig -> build clients/handlers -> pick transport -> NewServer ->
// signal.Notify -> select -> Close), generalized here from
// Atlassian-tool-specific wiring to the runtime's transport/robustness/
// session/lifecycle stack.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"mcpcore/internal/auth"
	"mcpcore/internal/config"
	"mcpcore/internal/lifecycle"
	"mcpcore/internal/logging"
	"mcpcore/internal/mcp"
	"mcpcore/internal/metrics"
	"mcpcore/internal/middleware"
	"mcpcore/internal/registry"
	"mcpcore/internal/reqcontext"
	"mcpcore/internal/robustness/dedup"
	"mcpcore/internal/router"
	"mcpcore/internal/server"
	"mcpcore/internal/session"
	"mcpcore/internal/transport"
	"mcpcore/internal/transport/childprocess"
	"mcpcore/internal/transport/httpsse"
	"mcpcore/internal/transport/stdio"
	"mcpcore/internal/transport/tcpunix"

	"go.opentelemetry.io/otel"
)

// Exit codes per the runtime's documented CLI surface: 0 normal shutdown,
// 1 startup failure, 2 configuration error.
const (
	exitOK              = 0
	exitStartupFailure  = 1
	exitConfigError     = 2
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level))
	logger.Info("configuration loaded", map[string]interface{}{"path": *configPath})

	carrier, transportName, err := buildTransport(cfg.Transport)
	if err != nil {
		logger.ErrorLog("failed to build transport", err, nil)
		os.Exit(exitConfigError)
	}

	sessions, err := session.New(session.Config{Capacity: cfg.Session.Capacity, IdleTimeout: cfg.Session.IdleTimeout})
	if err != nil {
		logger.ErrorLog("failed to build session manager", err, nil)
		os.Exit(exitStartupFailure)
	}
	if err := sessions.StartSweeper(""); err != nil {
		logger.ErrorLog("failed to start session sweeper", err, nil)
		os.Exit(exitStartupFailure)
	}

	dedupCache, err := dedup.New(cfg.Robustness.Dedup.Capacity, cfg.Robustness.Dedup.TTL)
	if err != nil {
		logger.ErrorLog("failed to build dedup cache", err, nil)
		os.Exit(exitStartupFailure)
	}

	reg := registry.New()
	rt := router.New(router.WithDedup(dedupCache))
	contexts := reqcontext.New(reqcontext.DefaultConfig(), otel.Tracer("mcpcore"))
	metricsRegistry := metrics.NewRegistry()

	chain := buildMiddlewareChain(cfg)

	srv := server.New(server.Dependencies{
		Info:          server.Info{Name: "mcpcore", Version: "0.1.0"},
		Transport:     carrier,
		TransportName: transportName,
		Router:        rt,
		Registry:      reg,
		Schemas:       nil,
		Chain:         chain,
		Sessions:      sessions,
		Contexts:      contexts,
		Metrics:       metricsRegistry,
		Logger:        logger,
		ServerCaps: mcp.Capabilities{
			Tools:   &mcp.ToolsCapability{},
			Logging: &mcp.LoggingCapability{},
		},
	})

	lc := lifecycle.New()
	lc.OnStartup(lifecycle.Hook{Name: "server", Priority: lifecycle.Critical, Fn: srv.Start})
	lc.OnShutdown(lifecycle.Hook{Name: "server", Priority: lifecycle.Critical, Fn: func(context.Context) error { return srv.Close() }})
	lc.OnShutdown(lifecycle.Hook{Name: "sessions", Priority: lifecycle.Low, Fn: func(context.Context) error { sessions.Stop(); return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := lc.Start(ctx); err != nil {
		logger.ErrorLog("startup failed", err, nil)
		os.Exit(exitStartupFailure)
	}
	logger.Info("mcp server started", map[string]interface{}{"transport_type": transportName})

	sig := lifecycle.WaitForSignal(ctx)
	logger.Info("received shutdown signal", map[string]interface{}{"signal": fmt.Sprint(sig)})
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := lc.Shutdown(shutdownCtx); err != nil {
		logger.ErrorLog("shutdown encountered errors", err, nil)
		os.Exit(exitStartupFailure)
	}

	logger.Info("server shutdown complete", nil)
	os.Exit(exitOK)
}

// buildTransport selects and constructs the configured carrier, mirroring
// the teacher's transport switch in main().
func buildTransport(cfg config.TransportConfig) (transport.Transport, string, error) {
	switch cfg.Type {
	case "stdio":
		return stdio.New(os.Stdin, os.Stdout), "stdio", nil
	case "tcp":
		addr := fmt.Sprintf("%s:%d", cfg.TCP.Host, cfg.TCP.Port)
		return tcpunix.New("tcp", addr, tcpunix.NewlineDelimited), "tcp", nil
	case "unix":
		return tcpunix.New("unix", cfg.Unix.SocketPath, tcpunix.NewlineDelimited), "unix", nil
	case "childprocess":
		return childprocess.New(cfg.ChildProcess.Command, cfg.ChildProcess.Args...), "childprocess", nil
	case "http":
		addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		return httpsse.New(addr), "http", nil
	default:
		return nil, "", fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

// buildMiddlewareChain assembles the inbound middleware stack (rate limit,
// then auth) from configuration, matching spec's documented ordering of
// rate-limiting ahead of authentication.
func buildMiddlewareChain(cfg *config.Config) middleware.Middleware {
	var chain []middleware.Middleware

	if cfg.RateLimit.Enabled {
		keyFunc := middleware.Global
		switch cfg.RateLimit.Key {
		case "client_id":
			keyFunc = middleware.ByClientID
		case "method":
			keyFunc = middleware.ByMethod
		}
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize, keyFunc)
		chain = append(chain, limiter.Middleware())
	}

	if cfg.Auth.Enabled {
		verifier := &auth.StaticVerifier{
			ExpectedUsername: cfg.Auth.Username,
			ExpectedPassword: cfg.Auth.Password,
			ExpectedToken:    cfg.Auth.Token,
		}
		chain = append(chain, middleware.AuthMiddleware(verifier, middleware.ParamsAuthLookup))
	}

	if len(chain) == 0 {
		return nil
	}
	return middleware.Chain(chain...)
}
