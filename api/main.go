package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"site-deployer/pkg/config"
	"site-deployer/pkg/database"
	"site-deployer/pkg/job"
	"site-deployer/pkg/observability"
)

var (
	dbClient *database.Client
	logger   *slog.Logger
)

func main() {
	logger = observability.NewLogger()
	slog.SetDefault(logger)
	cfg := config.Load()

	var err error
	dbClient, err = database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		return
	}
	defer dbClient.Close()

	if err := dbClient.InitSchema(context.Background()); err != nil {
		slog.Error("failed to initialize schema", "error", err)
	}

	observability.StartMetricsServer(cfg.MetricsAddr)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/deployments", handleSubmit)
	r.Get("/deployments/{id}", handleGet)

	slog.Info("API server starting", "addr", cfg.APIAddr)
	if err := http.ListenAndServe(cfg.APIAddr, r); err != nil {
		slog.Error("api server failed", "error", err)
	}
}

func handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req job.SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoURL == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id := job.NewID()
	payload, _ := json.Marshal(job.QueueMessage{ID: id})
	if err := dbClient.CreateDeploymentAndOutbox(r.Context(), id, req.RepoURL, string(payload)); err != nil {
		slog.Error("failed to create deployment and outbox message", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	observability.DeploymentsSubmitted.Inc()
	slog.Info("deployment submitted", "job_id", id, "repo_url", req.RepoURL)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := dbClient.GetDeployment(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to fetch deployment", "job_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(d)
}
