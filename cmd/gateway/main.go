package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/tradegate/internal/gateway/admin"
	"github.com/drblury/tradegate/internal/gateway/config"
	"github.com/drblury/tradegate/internal/gateway/consumer"
	"github.com/drblury/tradegate/internal/gateway/dataapi"
	"github.com/drblury/tradegate/internal/gateway/dlq"
	"github.com/drblury/tradegate/internal/gateway/forwarder"
	"github.com/drblury/tradegate/internal/gateway/health"
	"github.com/drblury/tradegate/internal/gateway/logging"
	"github.com/drblury/tradegate/internal/gateway/routing"
	"github.com/drblury/tradegate/internal/gateway/sender"
)

const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", "gateway.json", "path to the gateway configuration file")
	flag.Parse()

	baseLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogServiceLogger(baseLogger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("gateway stopped", err, nil)
		os.Exit(1)
	}
}

func run(configPath string, logger logging.ServiceLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", logging.LogFields{"config": conf.String()})

	registerer := prometheus.DefaultRegisterer

	snd, err := sender.New(conf, logger, registerer)
	if err != nil {
		return err
	}
	table, err := routing.NewTable(conf.RoutePrefix, conf.Destinations)
	if err != nil {
		return err
	}

	// Local surface served when no route matches: health plus the admin
	// endpoints for dead letter recovery.
	local := http.NewServeMux()
	healthHandler := health.NewHandler()
	local.Handle("GET /health", healthHandler)

	wmLogger := logging.NewWatermillAdapter(logger)

	if conf.DeadLetterQueueName != "" {
		sqsClient, err := consumer.NewSQSClient(ctx, conf, awsconfig.LoadDefaultConfig, wmLogger)
		if err != nil {
			return err
		}
		recovery, err := dlq.NewRecoveryService(sqsClient, conf.QueueName, conf.DeadLetterQueueName, logger, registerer)
		if err != nil {
			return err
		}
		admin.NewHandler(recovery, logger).Register(local)
	}

	pipeline, err := forwarder.New(table, snd, local, logger, registerer)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    conf.HTTPServerAddress,
		Handler: pipeline,
	}

	errs := make(chan error, 3)

	go func() {
		logger.Info("forwarding surface listening", logging.LogFields{"address": conf.HTTPServerAddress})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http server: %w", err)
		}
	}()

	if conf.QueueName != "" {
		subscriber, err := consumer.NewSQSSubscriber(ctx, conf, awsconfig.LoadDefaultConfig, wmLogger)
		if err != nil {
			return err
		}

		fetcher := dataapi.New(conf.DataAPIBaseURL, conf.DataAPITimeout, logger)
		deliverer := consumer.NewUpstreamDeliverer(table, snd, logger)

		mediator, err := consumer.NewMediator(logger, registerer,
			consumer.NewClearanceDecisionConsumer(fetcher, deliverer, conf.CDSDestinationKey, logger),
			consumer.NewProcessingErrorConsumer(deliverer, conf.DecisionComparerKey, logger),
		)
		if err != nil {
			return err
		}

		service, err := consumer.NewService(conf, logger, subscriber, mediator)
		if err != nil {
			return err
		}
		healthHandler.AddCheck(health.RunningCheck("consumer", service.Running))

		go func() {
			if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("consumer service: %w", err)
			}
		}()
	}

	if conf.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", conf.MetricsPort)
			logger.Info("metrics listening", logging.LogFields{"address": addr})
			if err := http.ListenAndServe(addr, metricsMux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", err, nil)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-errs:
		stop()
		shutdown(server, logger)
		return err
	}

	shutdown(server, logger)
	return nil
}

func shutdown(server *http.Server, logger logging.ServiceLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown", err, nil)
	}
}
