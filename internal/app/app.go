// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable coupon engine.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/tenantly/coupon-engine/internal/api"
	"github.com/tenantly/coupon-engine/internal/domain/auth"
	"github.com/tenantly/coupon-engine/internal/domain/checkout"
	"github.com/tenantly/coupon-engine/internal/domain/coupon"
	"github.com/tenantly/coupon-engine/internal/inmem"
	"github.com/tenantly/coupon-engine/internal/repository"
	"github.com/tenantly/coupon-engine/pkg/health"
	"github.com/tenantly/coupon-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		registry coupon.Registry
		ledger   coupon.Ledger
		apikeys  auth.Repository
	)
	switch cfg.Storage {
	case StoragePostgres:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := repository.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}

		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

		registry = repository.NewCouponRepository(pool)
		ledger = repository.NewUsageLedger(pool)
		apikeys = repository.NewAPIKeyRepository(pool)

	case StorageMemory:
		store := inmem.NewStore()
		registry = store
		ledger = store
		apikeys = inmem.NewAPIKeySet(auth.HashKey([]byte(cfg.APIKeyPepper), cfg.AdminAPIKey))
		lg.Warn("Using in-memory storage, data will not survive a restart")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	checkoutSvc := checkout.NewService(registry, ledger, m.TracerProvider())

	h, err := api.NewHandler(registry, checkoutSvc, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create handler")
	}
	adminAuth := api.APIKeyAuth(apikeys, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes(adminAuth)))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-Tenant-ID", "X-API-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("coupon-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: drop readiness, drain, then stop the listener.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
