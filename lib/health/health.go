// Package health serves the readiness endpoint: database connectivity
// plus the state of the serving model snapshot.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"github.com/fthsrlk/MovieApp-ML/lib/engine"
)

// Health is the health check response.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DB        struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"db"`
	Model struct {
		Status        string `json:"status"`
		SnapshotID    string `json:"snapshot_id,omitempty"`
		TrainedAt     string `json:"trained_at,omitempty"`
		Collaborative bool   `json:"collaborative"`
		ContentBased  bool   `json:"content_based"`
	} `json:"model"`
}

// Check returns an HTTP handler reporting database and model health.
// A missing snapshot degrades the status but keeps the process up; the
// popularity fallback still serves.
func Check(db *gorm.DB, holder *engine.Holder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := Health{
			Status:    "ok",
			Timestamp: time.Now(),
		}

		status := http.StatusOK

		sqlDB, err := db.DB()
		if err != nil {
			health.Status = "degraded"
			health.DB.Status = "error"
			health.DB.Message = "Failed to get database connection"
			status = http.StatusServiceUnavailable
		} else if err := sqlDB.PingContext(ctx); err != nil {
			health.Status = "degraded"
			health.DB.Status = "error"
			health.DB.Message = "Database ping failed"
			status = http.StatusServiceUnavailable
		} else {
			health.DB.Status = "ok"
		}

		if snapshot := holder.Current(); snapshot != nil {
			health.Model.Status = "ok"
			health.Model.SnapshotID = snapshot.ID
			health.Model.TrainedAt = snapshot.TrainedAt.Format(time.RFC3339)
			health.Model.Collaborative = snapshot.Collab.IsTrained()
			health.Model.ContentBased = snapshot.Content.IsTrained()
		} else {
			health.Model.Status = "untrained"
			if health.Status == "ok" {
				health.Status = "degraded"
			}
		}

		writeHealth(w, health, status)
	}
}

// writeHealth writes the health check response.
func writeHealth(w http.ResponseWriter, health Health, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		slog.Error("Failed to encode health response", slog.Any("error", err))
	}
}
