package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/polarityio/dataminr-pulse-limited/internal/app"
	"github.com/polarityio/dataminr-pulse-limited/internal/config"
	"github.com/polarityio/dataminr-pulse-limited/internal/dispatch"
	"github.com/polarityio/dataminr-pulse-limited/internal/filter"
	"github.com/polarityio/dataminr-pulse-limited/internal/gateway"
	"github.com/polarityio/dataminr-pulse-limited/internal/metrics"
	"github.com/polarityio/dataminr-pulse-limited/internal/render"
	"github.com/polarityio/dataminr-pulse-limited/internal/server"
	"github.com/polarityio/dataminr-pulse-limited/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	m := metrics.New()
	gw := gateway.NewClient(cfg, nil, log, m)

	filters := filter.NewMemo()
	admit := filters.TypeFilter(cfg.AlertTypesToWatch)
	st := store.NewMemory(cfg.CacheMaxItems, cfg.CacheMaxAge, admit.Match)

	supervisor := app.New(cfg, gw, st, log, m)

	d := dispatch.New(dispatch.Deps{
		Config:   cfg,
		Gateway:  gw,
		Store:    st,
		Filters:  filters,
		Renderer: render.New(),
		Boot:     supervisor,
		Log:      log,
		Metrics:  m,
	})

	srv := server.New(d, st, supervisor, log)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	supervisor.Startup()

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown", "error", err)
	}

	supervisor.Shutdown()
	gw.Close()

	log.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
