// Package main provides the autoload HTTP server. It serves the import and
// assessment API and runs the worker pool that executes import tasks.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/greenbuild/autoload/pkg/api"
	"github.com/greenbuild/autoload/pkg/autoload"
)

func main() {
	var (
		listenAddr  string
		logLevel    string
		skipMigrate bool
		shutdown    time.Duration
	)

	flag.StringVar(&listenAddr, "listen", envOrDefault("AUTOLOAD_LISTEN", ":8080"), "Address to listen on")
	flag.StringVar(&logLevel, "log-level", envOrDefault("AUTOLOAD_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	flag.BoolVar(&skipMigrate, "skip-migrate", false, "Do not migrate the database on startup")
	flag.DurationVar(&shutdown, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	_ = flag.Set("logtostderr", "true")

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		glog.Fatalf("Invalid log level %q: %v", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := autoload.ConfigFromEnv()
	apiCfg := api.ConfigFromEnv()

	logger.Info("starting autoload server",
		"listen", listenAddr,
		"db", cfg.Database.Driver,
		"storage", cfg.Storage.Type,
		"tenancy", apiCfg.TenancyMode,
		"workers", cfg.Jobs.Concurrency,
	)

	if err := apiCfg.NewResolver(logger); err != nil {
		glog.Fatalf("Failed to configure %s tenancy: %v", apiCfg.TenancyMode, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, err := autoload.Open(ctx, cfg, reg, logger)
	if err != nil {
		glog.Fatalf("Failed to open autoload: %v", err)
	}
	defer app.Close()

	if !skipMigrate {
		if err := app.Migrate(ctx, cfg.Lock); err != nil {
			glog.Fatalf("Failed to migrate database: %v", err)
		}
	}

	router := chi.NewRouter()
	router.Get("/healthz", healthz(app))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.Mount("/", api.NewRouter(app, apiCfg, logger))

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.NewWorkerPool().Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("autoload server ready", "listen", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdown)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("autoload server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("autoload server stopped")
}

// healthz reports whether the database answers a ping.
func healthz(app *autoload.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := app.DB.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err = sqlDB.PingContext(ctx)
			cancel()
		}
		if err != nil {
			http.Error(w, "database unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
