package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"entadmin.org/internal/auth"
	"entadmin.org/internal/config"
	"entadmin.org/internal/httpapi"
	"entadmin.org/internal/migrate"
	"entadmin.org/internal/oauth"
	"entadmin.org/internal/obs"
	"entadmin.org/internal/store/sqlstore"
	"entadmin.org/internal/telemetry"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Error("startup_failed", map[string]any{"error": err})
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		obs.Warn("config_warning", map[string]any{"detail": w})
	}

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "entadmin-api",
		Version:     version,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	store, err := sqlstore.Open(openCtx, cfg.DBDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		cancelOpen()
		return err
	}
	mgr, err := migrate.NewManager(store.DB())
	if err == nil {
		err = mgr.Up(openCtx)
	}
	cancelOpen()
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	api, nonceCloser, err := buildAPI(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	health := httpapi.NewHealthServer(httpapi.ReadyProbe{DB: store.DB()})
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		if nonceCloser != nil {
			_ = nonceCloser()
		}
		_ = store.Close()
		return fmt.Errorf("grpc listen: %w", err)
	}
	healthCtx, stopHealth := context.WithCancel(ctx)
	go health.Run(healthCtx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	obs.Info("server_started", map[string]any{
		"version":   version,
		"http_addr": srv.Addr,
		"grpc_addr": cfg.GRPCAddr(),
		"db_driver": cfg.DBDriver,
		"providers": api.Providers(),
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	obs.Info("server_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopHealth()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if nonceCloser != nil {
		_ = nonceCloser()
	}
	_ = store.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		obs.Warn("tracing_shutdown_failed", map[string]any{"error": err})
	}
	obs.Info("server_stopped", nil)
	return runErr
}

// buildAPI wires the auth stack. The returned closer releases the Redis client, if any.
func buildAPI(ctx context.Context, cfg config.Config, store *sqlstore.Store) (*httpapi.API, func() error, error) {
	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.RefreshTokenSecret, auth.WithAccessTTL(cfg.JWTExpiry.Duration()))
	if err != nil {
		return nil, nil, err
	}
	resolver, err := auth.NewResolver(store, hasher)
	if err != nil {
		return nil, nil, err
	}
	providers, err := oauth.NewProviders(ctx, oauth.Config{
		PublicURL: cfg.PublicURL,
		Google:    oauth.Client{ClientID: cfg.Google.ClientID, ClientSecret: cfg.Google.ClientSecret},
		GitHub:    oauth.Client{ClientID: cfg.GitHub.ClientID, ClientSecret: cfg.GitHub.ClientSecret},
	}, resolver)
	if err != nil {
		return nil, nil, err
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, nil, err
	}

	opts := httpapi.Options{
		Version:       version,
		Ready:         httpapi.ReadyProbe{DB: store.DB()},
		Tokens:        tokens,
		Resolver:      resolver,
		Products:      store,
		Providers:     providers,
		FrontendURL:   cfg.FrontendURL,
		SecureCookies: cfg.IsProduction(),
		RateBurst:     cfg.RateLimitBurst,
		RatePerSec:    cfg.RateLimitPerSec,

		TrustedProxies: httpapi.ProxyTrust(proxies),
	}

	var closer func() error
	if providers.Any() {
		opts.States, err = oauth.NewStateSigner(cfg.OAuthStateSecret)
		if err != nil {
			return nil, nil, err
		}
		opts.Nonces, closer, err = nonceStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
	}

	api, err := httpapi.New(opts)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, nil, err
	}
	return api, closer, nil
}

// nonceStore prefers Redis so every replica sees consumed states.
func nonceStore(ctx context.Context, redisURL string) (oauth.NonceStore, func() error, error) {
	if redisURL == "" {
		obs.Warn("oauth_nonce_store_memory", map[string]any{"detail": "REDIS_URL unset; consumed states are tracked per process"})
		return oauth.NewMemoryNonceStore(), nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return oauth.NewRedisNonceStore(client, "entadmin:oauth_state:"), client.Close, nil
}
