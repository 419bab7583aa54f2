package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hydrotrust/hydro-verifier/internal/api"
	"github.com/hydrotrust/hydro-verifier/internal/config"
	"github.com/hydrotrust/hydro-verifier/internal/ingest"
	"github.com/hydrotrust/hydro-verifier/internal/metrics"
	"github.com/hydrotrust/hydro-verifier/internal/services"
	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC verifier, metrics endpoint and optional MQTT ingest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting hydro-verifier", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build verifier", slog.Any("error", err))
		return err
	}
	defer comps.close()

	// Background work outlives the signal so queued commits can drain.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	sweepCtx, stopSweep := context.WithCancel(workCtx)
	defer stopSweep()
	sweepDone := make(chan struct{})
	if comps.committer != nil {
		comps.committer.Start(workCtx)
		go func() {
			defer close(sweepDone)
			resubmitLoop(sweepCtx, comps.committer, comps.store, logger)
		}()
	} else {
		close(sweepDone)
	}

	service := services.NewVerifierService(logger, comps.verifier)
	server, err := api.NewServer(cfg.Server, service, logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		return err
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	var subscriber *ingest.Subscriber
	if cfg.MQTT.Enabled {
		subscriber = ingest.NewSubscriber(ingest.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		}, comps.verifier, logger)
		if err := subscriber.Start(workCtx); err != nil {
			logger.Error("mqtt ingest unavailable", slog.Any("error", err))
			subscriber = nil
		}
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if subscriber != nil {
		subscriber.Close()
	}
	server.Shutdown(shutdownCtx)
	stopSweep()
	<-sweepDone
	if comps.committer != nil {
		drained := make(chan struct{})
		go func() {
			comps.committer.Close()
			close(drained)
		}()
		select {
		case <-drained:
		case <-shutdownCtx.Done():
			logger.Warn("ledger queue not drained before shutdown timeout")
			cancelWork()
			<-drained
		}
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("hydro-verifier stopped")
	return nil
}
