package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	rdb "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"warden.dev/internal/auth"
	"warden.dev/internal/config"
	"warden.dev/internal/grpcapi"
	"warden.dev/internal/httpapi"
	"warden.dev/internal/obs"
	"warden.dev/internal/ratelimit"
	"warden.dev/internal/store/memory"
	"warden.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// identityStore is what the API needs from a backing store.
type identityStore interface {
	auth.DirectoryStore
	Ping(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "warden-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := obs.InitLogger(obs.LogConfig{
		Env:     cfg.Env,
		Level:   cfg.Log.Level,
		Service: "warden-api",
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := auth.NewTokenConfig(cfg.Auth.Secret, cfg.Auth.Expiry, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	gateLog := logger.Named("gate")
	svc, err := auth.NewService(store, tokens, auth.WithGateObserver(func(res auth.GateResult, req auth.Requirement) {
		if res.State == auth.GateAuthorized {
			return
		}
		gateLog.Debug("gate denied",
			zap.String("state", res.State.String()),
			zap.String("required", req.String()),
			zap.String("subject", res.Identity.Subject),
			zap.Error(res.Err))
	}))
	if err != nil {
		return err
	}

	limiter, closeLimiter := newLimiter(cfg, logger)
	defer closeLimiter()

	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, httpapi.Options{
		Version:        version,
		Ready:          store,
		Limiter:        limiter,
		CORSOrigins:    cfg.HTTP.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		TrustedProxies: proxies,
	})
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPC > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPC))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpcapi.New(svc.Gate(), store)
		go probeLoop(ctx, grpcSrv, logger)
		go func() {
			logger.Info("grpc listening", zap.String("addr", lis.Addr().String()))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

func openStore(cfg config.Config, logger *zap.Logger) (identityStore, func(), error) {
	if cfg.UseMemoryStore() {
		logger.Warn("DATABASE_URL not set; using in-memory identity store")
		store := memory.New()
		ctx := context.Background()
		for _, name := range []string{auth.RoleAdmin, auth.RoleUser} {
			if _, err := store.CreateRole(ctx, name, []string{}); err != nil {
				return nil, nil, fmt.Errorf("seed role %s: %w", name, err)
			}
		}
		return store, func() {}, nil
	}
	store, err := pg.Open(cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		// readiness reports it; the process still starts
		logger.Warn("database not reachable yet", zap.Error(err))
	}
	return store, func() { _ = store.Close() }, nil
}

func newLimiter(cfg config.Config, logger *zap.Logger) (ratelimit.Limiter, func()) {
	if cfg.RateLimit.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst, 5*time.Minute), func() {}
	}
	client := rdb.NewClient(&rdb.Options{Addr: cfg.RateLimit.RedisAddr})
	// a window admits one burst at the configured sustained rate
	window := time.Duration(float64(cfg.RateLimit.Burst) / cfg.RateLimit.PerSecond * float64(time.Second))
	logger.Info("rate limiting through redis", zap.String("addr", cfg.RateLimit.RedisAddr))
	return ratelimit.NewRedisLimiter(client, "warden:rl:", cfg.RateLimit.Burst, window), func() { _ = client.Close() }
}

func probeLoop(ctx context.Context, srv *grpcapi.Server, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		if err := srv.Probe(ctx); err != nil {
			logger.Warn("readiness probe failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
