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

	"github.com/go-chi/chi/v5"

	"backoffice.dev/internal/config"
	"backoffice.dev/internal/edge"
	"backoffice.dev/internal/httpapi"
	"backoffice.dev/internal/obs"
	"backoffice.dev/internal/servicetrust"
)

func main() {
	configPath := flag.String("config", os.Getenv("BACKOFFICE_CONFIG"), "Path to YAML config (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Error("edge-register stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadEdge(configPath)
	if err != nil {
		return err
	}
	logger := obs.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format).With("component", "edge-register")
	obs.SetLogger(logger)
	obs.Init()

	signer, err := servicetrust.NewSigner(cfg.ServiceTrust.Secret)
	if err != nil {
		return err
	}
	client, err := edge.NewClient(cfg.Edge.BackendURL, signer, &http.Client{Timeout: cfg.Edge.Timeout})
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(httpapi.RequestID, httpapi.LoggingJSON, obs.Instrument, httpapi.SecurityHeaders)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", obs.Handler())
	r.Method(http.MethodPost, "/api/register/cliente", edge.NewRegisterHandler(client, logger))
	r.Method(http.MethodPost, "/api/register/employee", edge.NewEmployeeRegisterHandler(client, logger))
	r.Method(http.MethodPut, "/api/update/client", edge.NewUpdateHandler(client, edge.UpdateClientPath, logger))
	r.Method(http.MethodPut, "/api/update/employee", edge.NewUpdateHandler(client, edge.UpdateEmployeePath, logger))

	srv := &http.Server{
		Addr:              cfg.Edge.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Edge.Timeout * 4,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting edge-register", "addr", srv.Addr, "backend", cfg.Edge.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
