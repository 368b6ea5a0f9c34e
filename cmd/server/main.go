package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/personachat/broker/internal/api"
	"github.com/personachat/broker/internal/broker"
	"github.com/personachat/broker/internal/config"
	"github.com/personachat/broker/internal/db"
	"github.com/personachat/broker/internal/engine"
	"github.com/personachat/broker/internal/metrics"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}

	engineClient, err := engine.New(cfg.Engine.BaseURL, cfg.Engine.Token, cfg.Engine.Model, cfg.Sampling)
	if err != nil {
		logger.Fatal("failed to initialize engine client", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	queue := broker.NewQueue(cfg.QueueSize)
	worker := broker.NewWorker(queue, engineClient, broker.WorkerConfig{
		MaxContextTokens: cfg.MaxContextTokens,
		Permits:          cfg.Permits,
	}, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go worker.Run(ctx)

	handler := api.NewHandler(queue, database, collector, api.Config{
		MaxContextTokens: cfg.MaxContextTokens,
		Timeout:          cfg.Timeout(),
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/response", handler.HandleMessage)
	mux.HandleFunc("/healthz", handler.Healthz)
	mux.HandleFunc("/api/exchanges", handler.GetExchanges)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.WithRequestLog(mux, collector, logger),
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		logger.Error("failed to close database", zap.Error(err))
	}
}
