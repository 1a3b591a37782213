package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"site-deployer/pkg/builder"
	"site-deployer/pkg/config"
	"site-deployer/pkg/consumer"
	"site-deployer/pkg/database"
	"site-deployer/pkg/mq"
	"site-deployer/pkg/observability"
)

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)
	cfg := config.Load()

	dbClient, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer dbClient.Close()

	mqClient, err := mq.New(cfg.RabbitURL)
	if err != nil {
		slog.Error("failed to connect to rabbitmq", "error", err)
		return
	}
	defer mqClient.Close()

	if err := mqClient.SetupTopology(cfg.MaxReceives); err != nil {
		slog.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	observability.StartMetricsServer(cfg.MetricsAddr)

	driver := builder.NewHTTPDriver(cfg.BuilderURL)
	cons := consumer.New(dbClient, driver, logger, cfg.PollTimeout, cfg.ReceiveBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cons.Run(ctx, func() (<-chan amqp.Delivery, error) {
			return mqClient.ConsumeBuilds()
		})
	}()

	slog.Info("worker started. waiting for build messages...")

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutdown signal received, stopping worker...")
	cancel()
	wg.Wait()
	slog.Info("worker stopped gracefully")
}
