// Command jd-stub serves the analysis backend and a GoTrue-compatible
// identity endpoint for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/limiter"
	"github.com/and161185/juniordebug/internal/repository/memory"
	"github.com/and161185/juniordebug/internal/service"
	"github.com/and161185/juniordebug/internal/stubapi"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses flags and serves until SIGINT/SIGTERM.
func main() {
	// Flags
	addr := flag.String("addr", ":8000", "listen address")
	jwtSecret := flag.String("jwt-secret", os.Getenv("JD_STUB_JWT_SECRET"), "HS256 secret (required)")
	anonKey := flag.String("anon-key", os.Getenv("JD_STUB_ANON_KEY"), "apikey required on /auth/v1 (required)")
	accessTTL := flag.Duration("access-ttl", time.Hour, "access token TTL")
	userRPM := flag.Float64("user-rpm", 30, "backend requests per minute per user (0 disables)")
	userBurst := flag.Int("user-burst", 10, "backend burst per user")
	loginRPM := flag.Float64("login-rpm", 5, "password attempts per minute per email and address")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	logger, _ := zap.NewProduction()
	if *dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	if *jwtSecret == "" {
		logger.Fatal("missing jwt secret (--jwt-secret or JD_STUB_JWT_SECRET)")
	}
	if *anonKey == "" {
		logger.Fatal("missing anon key (--anon-key or JD_STUB_ANON_KEY)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories
	store := memory.New()

	loginLim := limiter.NewPerKey(*loginRPM, int(*loginRPM)+1, 15*time.Minute)
	var userLim *limiter.PerKey
	if *userRPM > 0 {
		userLim = limiter.NewPerKey(*userRPM, *userBurst, 10*time.Minute)
	}

	// Services
	authSvc := service.NewAuthService(store, store, []byte(*jwtSecret), *accessTTL, loginLim.Allow)
	keySvc := service.NewKeyService(store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	api := stubapi.New(authSvc, keySvc, service.NewEchoAnalyzer(), stubapi.Options{
		SignKey:  []byte(*jwtSecret),
		AnonKey:  *anonKey,
		PerUser:  userLim,
		Metrics:  stubapi.NewMetrics(reg),
		Gatherer: reg,
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		// graceful shutdown
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("graceful shutdown timed out", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
