package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minikv/internal/api"
	"minikv/internal/command"
	"minikv/internal/config"
	"minikv/internal/logs"
	"minikv/internal/metrics"
	"minikv/internal/server"
	"minikv/internal/session"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "minikv.yaml", "path to config file")
	listen := flag.String("listen", "", "override server.listen")
	admin := flag.String("admin", "", "override server.admin_listen; \"off\" disables it")
	dataDir := flag.String("data", "", "override storage.data_dir")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	switch *admin {
	case "":
	case "off":
		cfg.Server.AdminListen = ""
	default:
		cfg.Server.AdminListen = *admin
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}

	// Logger
	logger := logs.NewLogger(cfg.Log.Buffer, cfg.Log.LogLevel(), slog.New(newHandler(cfg.Log.Format)))

	// Metrics
	metricsRegistry := metrics.NewRegistry()

	// Sessions
	sessions := session.NewManager(session.Options{
		DataDir:      cfg.Storage.DataDir,
		AutosaveFile: cfg.Storage.AutosaveFile,
		ReapInterval: cfg.Storage.ReapInterval,
		SaveRetry:    cfg.Storage.SaveRetry.Policy(),
	}, logger, metricsRegistry)

	dispatcher := command.NewDispatcher(logger, metricsRegistry)

	// TCP command server
	tcpServer := server.NewServer(server.Config{
		ListenAddr: cfg.Server.Listen,
		Logger:     logger,
	}, sessions, dispatcher)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("minikv starting",
		"listen", cfg.Server.Listen,
		"admin", cfg.Server.AdminListen,
		"data_dir", cfg.Storage.DataDir,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tcpServer.Serve(gctx)
	})

	// Admin API
	if cfg.Server.AdminListen != "" {
		handler := api.NewHandler(sessions, dispatcher, metricsRegistry, logger)
		httpServer := &http.Server{
			Addr:              cfg.Server.AdminListen,
			Handler:           api.RegisterRoutes(http.NewServeMux(), handler, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("admin server listening", "addr", cfg.Server.AdminListen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	// Hot reload of the log level
	g.Go(func() error {
		err := config.Watch(gctx, *configPath, logger, func(next *config.Config) {
			logger.SetLevel(next.Log.LogLevel())
			logger.Info("log level changed", "level", next.Log.LogLevel())
		})
		if err != nil {
			logger.Warn("config watch disabled", "path", *configPath, "err", err)
		}
		return nil
	})

	err = g.Wait()

	// Websocket sessions are hijacked connections and outlive Shutdown.
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	sessions.CloseAll(closeCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("minikv stopped")
}

func newHandler(format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}
