package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	internalhttp "github.com/rty23111-ctrl/agent-identity/internal/api/http"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	grpcserver "github.com/rty23111-ctrl/agent-identity/internal/grpc/server"
	"github.com/rty23111-ctrl/agent-identity/internal/keys"
	"github.com/rty23111-ctrl/agent-identity/internal/kv"
	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
	"github.com/rty23111-ctrl/agent-identity/internal/ratelimit"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
	"github.com/rty23111-ctrl/agent-identity/internal/worker"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Agent Identity Server starting")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	store, err := kv.Open(rootCtx, config.Storage)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	resolver, err := keys.NewResolver(config.Keys)
	if err != nil {
		slog.Error("Failed to load key material", "error", err)
		os.Exit(1)
	}

	clientService := clients.NewService(store)
	if config.Registry.MigrateLegacyOnStart {
		if _, err := clientService.MigrateLegacy(rootCtx); err != nil {
			slog.Error("Legacy client migration failed", "error", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	dispatcher := worker.NewDispatcher(config.Worker)
	m.RegisterDispatcher(dispatcher)

	paidService := paid.NewService(config.Paid, store, dispatcher, paid.WithMetrics(m))
	if paidService.Enabled() {
		slog.Info("Paid extension enabled", "test_mode", paidService.TestMode())
	}

	services := &internalhttp.Services{
		Clients:  clientService,
		Tokens:   token.NewService(resolver),
		Paid:     paidService,
		Verifier: webhook.NewVerifier(config.Paid.StripeWebhookSecret, config.Paid.WebhookTolerance()),
		Limiter:  ratelimit.NewLimiter(store, config.RateLimit),
		Audit:    audit.NewEmitter(config.Audit, dispatcher, m),
		Metrics:  m,
		TokenTTL: config.Token.TTL(),
		Version:  AppVersion,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	if err := internalhttp.ConfigureEngine(engine, config.Http); err != nil {
		slog.Error("Invalid HTTP configuration", "error", err)
		os.Exit(1)
	}
	engine.Use(cors.New(corsConfig(config.Http.CORSOrigins)))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, config.Http, services)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcSrv *grpcserver.Server
	if config.Grpc.Enabled {
		grpcSrv, err = grpcserver.NewServer(config.Grpc.Port, &grpcserver.TLSConfig{
			Enabled:    config.Grpc.TLS.Enabled,
			CertFile:   config.Grpc.TLS.CertFile,
			KeyFile:    config.Grpc.TLS.KeyFile,
			CAFile:     config.Grpc.TLS.CAFile,
			ClientAuth: config.Grpc.TLS.ClientAuth,
		}, store)
		if err != nil {
			slog.Error("Failed to create gRPC server", "error", err)
			os.Exit(1)
		}
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if grpcSrv != nil {
		go func() {
			if err := grpcSrv.Start(); err != nil {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
				slog.Error("gRPC server shutdown error", "error", err)
			}
		}()
	}

	wg.Wait()

	// Requests are drained, so no new background work can be submitted.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		slog.Warn("Background tasks did not finish before shutdown", "error", err)
	}

	slog.Info("Shutdown complete")
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "X-Paid-Test-Token"},
		ExposeHeaders: []string{"Content-Length", "X-Request-Id", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}
