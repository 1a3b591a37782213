package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"site-deployer/pkg/config"
	"site-deployer/pkg/database"
	"site-deployer/pkg/notifier"
	"site-deployer/pkg/observability"
	"site-deployer/pkg/push"
)

func main() {
	logger := observability.NewLogger()
	slog.SetDefault(logger)
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer dbClient.Close()

	hub := push.NewHub(dbClient, logger)
	n := notifier.New(hub, logger)

	// Hold the change-feed subscription; on any drop, back off and
	// resubscribe so one feed hiccup never kills the gateway.
	go func() {
		for {
			err := dbClient.ListenChanges(ctx, func(payload string) {
				n.HandleChange(ctx, payload)
			})
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("change feed interrupted", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.ReceiveBackoff):
			}
		}
	}()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/ws", hub.ServeWS)

	slog.Info("gateway starting", "addr", cfg.GatewayAddr)
	if err := http.ListenAndServe(cfg.GatewayAddr, r); err != nil {
		slog.Error("gateway failed", "error", err)
	}
}
