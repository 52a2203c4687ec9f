package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/sandboxkit/warden/internal/api"
	"github.com/sandboxkit/warden/internal/config"
	"github.com/sandboxkit/warden/internal/fleet"
	"github.com/sandboxkit/warden/internal/logging"
	"github.com/sandboxkit/warden/internal/metrics"
	"github.com/sandboxkit/warden/internal/runtime"
	"github.com/sandboxkit/warden/internal/shutdown"
	"github.com/sandboxkit/warden/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	log, logCloser, err := logging.NewFileLogger(filepath.Join(cfg.DataDir, "logs"), "wardend", cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer logCloser.Close()

	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("store", cfg.Store.Type).
		Str("image", cfg.Container.Image).
		Msg("starting wardend")

	db, err := store.Open(store.Config{Type: cfg.Store.Type, Path: cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	exporter := metrics.NewExporter()

	manager := fleet.NewManager(fleet.Options{
		DB: db,
		Runtime: func(containerID string) (runtime.Handle, error) {
			return runtime.NewDockerHandle(containerID)
		},
		ProbePort:    cfg.Container.ProbePort,
		ProbePath:    cfg.Container.ProbePath,
		TickInterval: cfg.Container.TickInterval,
		Logger:       log,
		Metrics:      exporter,
	})

	handler := api.NewHandler(manager, exporter, cfg.Container, log)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mgr := shutdown.New(30*time.Second, log)
	mgr.Register(func(ctx context.Context) error {
		db.Close()
		return nil
	})
	mgr.Register(func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()

	select {
	case err := <-errCh:
		mgr.Shutdown()
		return fmt.Errorf("api server: %w", err)
	case <-done:
		return nil
	}
}
