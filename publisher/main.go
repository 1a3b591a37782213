package main

import (
	"context"
	"log/slog"
	"time"

	"site-deployer/pkg/config"
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
		logger.Error("failed to connect to database", "error", err)
		return
	}
	defer dbClient.Close()

	mqClient, err := mq.New(cfg.RabbitURL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		return
	}
	defer mqClient.Close()

	// Ensure topology exists; safe if already declared
	if err := mqClient.SetupTopology(cfg.MaxReceives); err != nil {
		logger.Error("failed to setup rabbitmq topology", "error", err)
		return
	}

	ctx := context.Background()
	ticker := time.NewTicker(1 * time.Second)
	for range ticker.C {
		processOutbox(ctx, dbClient, mqClient, logger)
	}
}

func processOutbox(ctx context.Context, db *database.Client, mqClient *mq.Client, logger *slog.Logger) {
	messages, err := db.FetchOutboxMessages(ctx, 100)
	if err != nil {
		logger.Error("failed to fetch outbox messages", "error", err)
		return
	}
	for _, m := range messages {
		if err := mqClient.PublishBuild(ctx, []byte(m.Payload)); err != nil {
			logger.Error("failed to publish build message", "error", err, "job_id", m.DeploymentID)
			continue
		}
		if err := db.DeleteOutboxMessage(ctx, m.ID); err != nil {
			logger.Error("failed to delete outbox message after publish", "error", err, "outbox_id", m.ID)
			continue
		}
		logger.Info("published build message", "job_id", m.DeploymentID)
	}
}
