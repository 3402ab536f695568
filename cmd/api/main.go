package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/hotel-booking-core/internal/app"
	"github.com/ariefcatur/hotel-booking-core/internal/auth"
	"github.com/ariefcatur/hotel-booking-core/internal/config"
	"github.com/ariefcatur/hotel-booking-core/internal/httpx"
	"github.com/ariefcatur/hotel-booking-core/internal/logx"
	"github.com/ariefcatur/hotel-booking-core/internal/obs"
	"github.com/ariefcatur/hotel-booking-core/internal/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logx.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := obs.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint, logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wire services", zap.Error(err))
	}

	m, err := postgres.NewMigrator(a.DB, logger)
	if err != nil {
		logger.Fatal("migrator", zap.Error(err))
	}
	if err := m.Up(ctx); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	a.Sweeper.Start(ctx)

	router := httpx.NewRouter(logger)
	httpx.Mount(router, auth.NewVerifier(cfg.JWTSecret).Middleware,
		&httpx.BookingsHandler{
			Service:     a.Bookings,
			Idempotency: a.Idempotency,
			Cache:       a.Cache,
			Logger:      logger,
		},
		&httpx.PaymentsHandler{
			Payments: a.Orchestrator,
			Bookings: a.Bookings,
			Logger:   logger,
		})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	a.Sweeper.Stop()
	cancel()
	_ = m.Close()
	a.Close()
	if err := shutdownTracer(ctx2); err != nil {
		logger.Warn("tracer shutdown", zap.Error(err))
	}
}
