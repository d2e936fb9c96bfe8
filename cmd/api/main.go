package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"backoffice.dev/internal/accounts"
	"backoffice.dev/internal/alerts"
	"backoffice.dev/internal/auth"
	"backoffice.dev/internal/config"
	"backoffice.dev/internal/database"
	"backoffice.dev/internal/httpapi"
	"backoffice.dev/internal/obs"
	"backoffice.dev/internal/probe"
	"backoffice.dev/internal/servicetrust"
	"backoffice.dev/internal/store/memstore"
	"backoffice.dev/internal/store/pg"
	"backoffice.dev/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// store is what both the PostgreSQL and the in-memory backends provide.
type store interface {
	auth.UserStore
	auth.RoleStore
	alerts.Store
}

func main() {
	configPath := flag.String("config", os.Getenv("BACKOFFICE_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Error("backoffice-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := obs.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	obs.SetLogger(logger)
	slog.SetDefault(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		backing  store
		checkers []probe.Checker
	)
	if cfg.Database.DSN != "" {
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(cfg.Database.DSN, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		db, err := database.Open(ctx, cfg.Database.DSN, database.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		backing = pg.New(db)
		checkers = append(checkers, database.NewChecker(db))
		logger.Info("using postgres store")
	} else {
		backing = memstore.New()
		logger.Warn("no database DSN configured, using in-memory store")
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.TokenSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	credentials, err := auth.NewCredentialAuthenticator(backing)
	if err != nil {
		return err
	}
	roles, err := auth.NewRoleService(backing)
	if err != nil {
		return err
	}

	hub := stream.New()
	publishers := alerts.Fanout{hub}
	notifier := alerts.NewNotifier(alerts.NotifierConfig{
		Endpoint:  cfg.Alerts.WebhookURL,
		Timeout:   cfg.Alerts.Timeout,
		QueueSize: cfg.Alerts.QueueSize,
		Workers:   cfg.Alerts.Workers,
	}, logger)
	if notifier != nil {
		publishers = append(publishers, notifier)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := notifier.Close(closeCtx); err != nil {
				logger.Warn("alert notifier did not drain", "error", err, "dropped", notifier.Dropped())
			}
		}()
	}
	dispatcher, err := alerts.NewDispatcher(backing, publishers)
	if err != nil {
		return err
	}

	opts := []accounts.Option{accounts.WithLogger(logger)}
	if confirmer := accounts.NewHTTPConfirmer(cfg.Confirmation.URL, cfg.Confirmation.Timeout, nil); confirmer != nil {
		opts = append(opts, accounts.WithConfirmer(confirmer))
	}
	svc, err := accounts.NewService(backing, backing, dispatcher, opts...)
	if err != nil {
		return err
	}

	verifierOpts := []servicetrust.Option{servicetrust.WithWindow(cfg.ServiceTrust.Window)}
	switch cfg.ServiceTrust.Replay {
	case config.ReplayMemory:
		verifierOpts = append(verifierOpts, servicetrust.WithReplayGuard(
			servicetrust.NewMemoryReplayGuard(cfg.ServiceTrust.CacheSize, 2*cfg.ServiceTrust.Window)))
	case config.ReplayRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		guard, err := servicetrust.NewRedisReplayGuard(rdb)
		if err != nil {
			return err
		}
		verifierOpts = append(verifierOpts, servicetrust.WithReplayGuard(guard))
		checkers = append(checkers, probe.NewRedisChecker(rdb))
	}
	verifier, err := servicetrust.NewVerifier(cfg.ServiceTrust.Secret, verifierOpts...)
	if err != nil {
		return err
	}

	if cfg.Auth.AdminEmail != "" {
		_, created, err := svc.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info("admin account created", "email", cfg.Auth.AdminEmail)
		}
	}

	readiness := probe.NewReadiness(3*time.Second, checkers...)
	trustedProxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	api, err := httpapi.New(httpapi.Deps{
		Tokens:      tokens,
		Credentials: credentials,
		Accounts:    svc,
		Roles:       roles,
		Verifier:    verifier,
		Ready:       readiness,
		Stream:      hub,
		Version:     version,
	}, httpapi.Options{
		RateBurst:    cfg.Server.RateBurst,
		RatePerSec:   cfg.Server.RatePerSec,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORSOrigins:  cfg.Server.CORSOrigins,

		TrustedProxies: trustedProxies,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	health := probe.NewHealthServer(readiness, 10*time.Second, logger)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go health.Run(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting backoffice-api", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()
	go func() {
		logger.Info("starting grpc health", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("shutting down")

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	logger.Info("stopped")
	return runErr
}
