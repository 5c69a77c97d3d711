// Package handlers implements the JSON API: recommendation queries,
// ratings, watchlists, catalog ingestion and training triggers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fthsrlk/MovieApp-ML/lib/engine"
	"github.com/fthsrlk/MovieApp-ML/lib/ingest"
	"github.com/fthsrlk/MovieApp-ML/lib/lock"
	"github.com/fthsrlk/MovieApp-ML/lib/metrics"
	"github.com/fthsrlk/MovieApp-ML/lib/store"
	"github.com/fthsrlk/MovieApp-ML/lib/types"
	"github.com/fthsrlk/MovieApp-ML/lib/validation"
	"github.com/fthsrlk/MovieApp-ML/models"
)

const (
	defaultLimit     = 10
	fallbackPoolSize = 100
	trainLockKey     = "train"
)

// RecommendedItem is one result row: the engine score joined with the
// catalog record it refers to.
type RecommendedItem struct {
	ItemID      int      `json:"item_id"`
	Score       float64  `json:"score"`
	Title       string   `json:"title,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	PosterPath  string   `json:"poster_path,omitempty"`
	ReleaseYear int      `json:"release_year,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

// limitParam parses the limit query parameter with a default.
func limitParam(req *http.Request) (int, error) {
	raw := req.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer")
	}
	if err := validation.ValidateLimit(limit); err != nil {
		return 0, err
	}
	return limit, nil
}

// enrichResults joins engine scores with catalog records.
func enrichResults(ctx context.Context, st *store.Store, scored []engine.ScoredItem) []RecommendedItem {
	ids := make([]int, 0, len(scored))
	for _, s := range scored {
		ids = append(ids, s.ItemID)
	}

	byID := make(map[int]models.Item, len(ids))
	if items, err := st.ItemsByIDs(ctx, ids); err == nil {
		for _, it := range items {
			if _, ok := byID[it.TMDbID]; !ok {
				byID[it.TMDbID] = it
			}
		}
	} else {
		slog.Warn("Failed to join catalog records", slog.Any("error", err))
	}

	out := make([]RecommendedItem, 0, len(scored))
	for _, s := range scored {
		row := RecommendedItem{ItemID: s.ItemID, Score: s.Score}
		if it, ok := byID[s.ItemID]; ok {
			row.Title = it.Title
			row.ContentType = it.ContentType
			row.Genres = store.SplitGenres(it.Genres)
			row.PosterPath = it.PosterPath
			row.ReleaseYear = it.ReleaseYear
		}
		out = append(out, row)
	}
	return out
}

// HandleRecommendations serves GET /api/recommendations/{userID}.
func HandleRecommendations(st *store.Store, holder *engine.Holder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID, err := strconv.Atoi(chi.URLParam(req, "userID"))
		if err != nil || userID <= 0 {
			validation.WriteError(w, fmt.Errorf("userID must be a positive integer"), http.StatusBadRequest)
			return
		}

		rawStrategy := req.URL.Query().Get("strategy")
		strategy, err := engine.ParseStrategy(rawStrategy)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		limit, err := limitParam(req)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		fallback, err := st.PopularScored(req.Context(), fallbackPoolSize)
		if err != nil {
			slog.Error("Failed to load popularity fallback", slog.Any("error", err))
			fallback = nil
		}

		var scored []engine.ScoredItem
		snapshot := holder.Current()
		if snapshot == nil {
			// Nothing trained yet. A caller that named a model strategy
			// gets an explicit error, never a silent substitution; the
			// default request degrades to the popularity ranking.
			if rawStrategy != "" && strategy != engine.StrategyPopular {
				metrics.RecommendationRequests.WithLabelValues(string(strategy), "error").Inc()
				validation.WriteError(w, fmt.Errorf("%s: %w", strategy, engine.ErrNotTrained), http.StatusConflict)
				return
			}
			if len(fallback) > limit {
				fallback = fallback[:limit]
			}
			scored = fallback
			strategy = engine.StrategyPopular
		} else {
			scored, err = snapshot.Recommend(strategy, userID, limit, fallback)
			if err != nil {
				metrics.RecommendationRequests.WithLabelValues(string(strategy), "error").Inc()
				status := http.StatusInternalServerError
				if errors.Is(err, engine.ErrNotTrained) {
					status = http.StatusConflict
				}
				validation.WriteError(w, err, status)
				return
			}
		}

		metrics.RecommendationRequests.WithLabelValues(string(strategy), "ok").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":  userID,
			"strategy": strategy,
			"results":  enrichResults(req.Context(), st, scored),
		})
	}
}

// HandleSimilar serves GET /api/similar/{itemID}.
func HandleSimilar(st *store.Store, holder *engine.Holder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		itemID, err := strconv.Atoi(chi.URLParam(req, "itemID"))
		if err != nil || itemID <= 0 {
			validation.WriteError(w, fmt.Errorf("itemID must be a positive integer"), http.StatusBadRequest)
			return
		}

		limit, err := limitParam(req)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		snapshot := holder.Current()
		if snapshot == nil {
			validation.WriteError(w, engine.ErrNotTrained, http.StatusConflict)
			return
		}

		scored, err := snapshot.SimilarItems(itemID, limit)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrNotFound):
				validation.WriteError(w, err, http.StatusNotFound)
			case errors.Is(err, engine.ErrNotTrained):
				validation.WriteError(w, err, http.StatusConflict)
			default:
				slog.Error("Similarity query failed", slog.Any("error", err))
				validation.WriteError(w, err, http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"item_id": itemID,
			"results": enrichResults(req.Context(), st, scored),
		})
	}
}

type ratingRequest struct {
	UserID    int     `json:"user_id"`
	ItemID    int     `json:"item_id"`
	MediaType string  `json:"media_type"`
	Rating    float64 `json:"rating"`
}

// HandleRate serves POST /api/ratings. Re-rating overwrites the
// previous value.
func HandleRate(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body ratingRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			validation.WriteError(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
			return
		}

		if err := validation.ValidateID("user_id", body.UserID); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		if err := validation.ValidateID("item_id", body.ItemID); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		if err := validation.ValidateMediaType(body.MediaType); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		if err := validation.ValidateRating(body.Rating); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		err := st.UpsertRating(req.Context(), models.Rating{
			UserID:    body.UserID,
			ItemID:    body.ItemID,
			MediaType: body.MediaType,
			Rating:    body.Rating,
			RatedAt:   time.Now().UTC(),
		})
		if err != nil {
			slog.Error("Failed to store rating", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
	}
}

// HandleUserRatings serves GET /api/ratings/{userID}.
func HandleUserRatings(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID, err := strconv.Atoi(chi.URLParam(req, "userID"))
		if err != nil || userID <= 0 {
			validation.WriteError(w, fmt.Errorf("userID must be a positive integer"), http.StatusBadRequest)
			return
		}

		ratings, err := st.RatingsForUser(req.Context(), userID)
		if err != nil {
			slog.Error("Failed to list ratings", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": userID,
			"ratings": ratings,
		})
	}
}

// HandleDeleteRating serves DELETE /api/ratings/{userID}/{itemID}.
func HandleDeleteRating(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID, err1 := strconv.Atoi(chi.URLParam(req, "userID"))
		itemID, err2 := strconv.Atoi(chi.URLParam(req, "itemID"))
		if err1 != nil || err2 != nil || userID <= 0 || itemID <= 0 {
			validation.WriteError(w, fmt.Errorf("userID and itemID must be positive integers"), http.StatusBadRequest)
			return
		}
		mediaType := req.URL.Query().Get("media_type")
		if err := validation.ValidateMediaType(mediaType); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		if err := st.DeleteRating(req.Context(), userID, itemID, mediaType); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				validation.WriteError(w, err, http.StatusNotFound)
				return
			}
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type watchlistRequest struct {
	UserID    int    `json:"user_id"`
	ItemID    int    `json:"item_id"`
	MediaType string `json:"media_type"`
}

// HandleWatchlistAdd serves POST /api/watchlist.
func HandleWatchlistAdd(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body watchlistRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			validation.WriteError(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
			return
		}
		if err := validation.ValidateID("user_id", body.UserID); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		if err := validation.ValidateID("item_id", body.ItemID); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		if err := validation.ValidateMediaType(body.MediaType); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		entry := models.WatchlistItem{
			UserID:    body.UserID,
			ItemID:    body.ItemID,
			MediaType: body.MediaType,
		}
		if item, err := st.ItemByID(req.Context(), body.ItemID, body.MediaType); err == nil {
			entry.Title = item.Title
			entry.PosterPath = item.PosterPath
		}

		if err := st.AddToWatchlist(req.Context(), entry); err != nil {
			slog.Error("Failed to add watchlist entry", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "added"})
	}
}

// HandleWatchlist serves GET /api/watchlist/{userID}.
func HandleWatchlist(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID, err := strconv.Atoi(chi.URLParam(req, "userID"))
		if err != nil || userID <= 0 {
			validation.WriteError(w, fmt.Errorf("userID must be a positive integer"), http.StatusBadRequest)
			return
		}

		entries, err := st.Watchlist(req.Context(), userID)
		if err != nil {
			slog.Error("Failed to list watchlist", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":   userID,
			"watchlist": entries,
		})
	}
}

// HandleWatchlistRemove serves DELETE /api/watchlist/{userID}/{itemID}.
func HandleWatchlistRemove(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		userID, err1 := strconv.Atoi(chi.URLParam(req, "userID"))
		itemID, err2 := strconv.Atoi(chi.URLParam(req, "itemID"))
		if err1 != nil || err2 != nil || userID <= 0 || itemID <= 0 {
			validation.WriteError(w, fmt.Errorf("userID and itemID must be positive integers"), http.StatusBadRequest)
			return
		}
		mediaType := req.URL.Query().Get("media_type")
		if err := validation.ValidateMediaType(mediaType); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		if err := st.RemoveFromWatchlist(req.Context(), userID, itemID, mediaType); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				validation.WriteError(w, err, http.StatusNotFound)
				return
			}
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
	}
}

// HandlePopular serves GET /api/popular.
func HandlePopular(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit, err := limitParam(req)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		contentType := req.URL.Query().Get("type")
		if contentType != "" {
			if err := validation.ValidateMediaType(contentType); err != nil {
				validation.WriteError(w, err, http.StatusBadRequest)
				return
			}
		}

		items, err := st.PopularItems(req.Context(), contentType, limit)
		if err != nil {
			slog.Error("Failed to rank popular items", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": items})
	}
}

// HandleItem serves GET /api/items/{itemID}.
func HandleItem(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		itemID, err := strconv.Atoi(chi.URLParam(req, "itemID"))
		if err != nil || itemID <= 0 {
			validation.WriteError(w, fmt.Errorf("itemID must be a positive integer"), http.StatusBadRequest)
			return
		}
		mediaType := req.URL.Query().Get("type")
		if mediaType == "" {
			mediaType = "movie"
		}
		if err := validation.ValidateMediaType(mediaType); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		item, err := st.ItemByID(req.Context(), itemID, mediaType)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				validation.WriteError(w, err, http.StatusNotFound)
				return
			}
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// Searcher finds catalog records on the external metadata provider.
type Searcher interface {
	SearchMovies(ctx context.Context, query string, year int) ([]models.Item, error)
	SearchTV(ctx context.Context, query string, year int) ([]models.Item, error)
}

// HandleSearch serves GET /api/search, a pass-through to the metadata
// provider. Results are not written to the catalog; ingestion stays an
// explicit sync operation.
func HandleSearch(searcher Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		query := strings.TrimSpace(req.URL.Query().Get("query"))
		if query == "" {
			validation.WriteError(w, fmt.Errorf("query must not be empty"), http.StatusBadRequest)
			return
		}

		mediaType := req.URL.Query().Get("type")
		if mediaType == "" {
			mediaType = "movie"
		}
		if err := validation.ValidateMediaType(mediaType); err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		year := 0
		if raw := req.URL.Query().Get("year"); raw != "" {
			y, err := strconv.Atoi(raw)
			if err != nil || y <= 0 {
				validation.WriteError(w, fmt.Errorf("year must be a positive integer"), http.StatusBadRequest)
				return
			}
			year = y
		}

		var (
			results []models.Item
			err     error
		)
		if mediaType == "tv" {
			results, err = searcher.SearchTV(req.Context(), query, year)
		} else {
			results, err = searcher.SearchMovies(req.Context(), query, year)
		}
		if err != nil {
			slog.Error("Search failed", slog.String("query", query), slog.Any("error", err))
			validation.WriteError(w, err, http.StatusBadGateway)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"query":   query,
			"results": results,
		})
	}
}

// HandleStats serves GET /api/stats.
func HandleStats(st *store.Store, holder *engine.Holder) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		items, ratings, users, err := st.Counts(req.Context())
		if err != nil {
			slog.Error("Failed to compute stats", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}

		stats := types.StatsData{
			TotalItems:   items,
			TotalRatings: ratings,
			TotalUsers:   users,
		}

		if catalog, err := st.Items(req.Context()); err == nil {
			genres := make(map[string]int64)
			for _, it := range catalog {
				switch it.ContentType {
				case "movie":
					stats.TotalMovies++
				case "tv":
					stats.TotalTVShows++
				}
				for _, g := range store.SplitGenres(it.Genres) {
					genres[strings.ToLower(g)]++
				}
			}
			for g, count := range genres {
				stats.GenreDistribution = append(stats.GenreDistribution, types.GenreCount{Genre: g, Count: count})
			}
		}

		if snapshot := holder.Current(); snapshot != nil {
			stats.SnapshotID = snapshot.ID
			stats.LastTrainedAt = snapshot.TrainedAt
		}

		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleTrain serves POST /api/train. Training runs in the background;
// the file lock rejects overlapping runs. The new snapshot replaces the
// serving one only after a fully successful pass.
func HandleTrain(st *store.Store, trainer *engine.Trainer, holder *engine.Holder, fl *lock.FileLock, modelDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		acquired, err := fl.TryLock(req.Context(), trainLockKey, 2*time.Second)
		if err != nil {
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		if !acquired {
			validation.WriteError(w, fmt.Errorf("a training run is already in progress"), http.StatusConflict)
			return
		}

		go func() {
			ctx := context.Background()
			defer func() {
				if err := fl.Unlock(ctx, trainLockKey); err != nil {
					slog.Error("Failed to release training lock", slog.Any("error", err))
				}
			}()

			start := time.Now()
			items, err := st.TrainingItems(ctx)
			if err != nil {
				slog.Error("Failed to load training catalog", slog.Any("error", err))
				metrics.TrainingRuns.WithLabelValues("error").Inc()
				return
			}
			events, err := st.TrainingEvents(ctx)
			if err != nil {
				slog.Error("Failed to load training ratings", slog.Any("error", err))
				metrics.TrainingRuns.WithLabelValues("error").Inc()
				return
			}

			snapshot, err := trainer.Train(items, events)
			if err != nil {
				var divergence *engine.TrainingDivergence
				if errors.As(err, &divergence) {
					slog.Error("Training diverged, keeping previous snapshot",
						slog.Int("iterations", divergence.Iterations),
						slog.Float64("rmse", divergence.LastRMSE))
					metrics.TrainingRuns.WithLabelValues("diverged").Inc()
					return
				}
				slog.Error("Training failed", slog.Any("error", err))
				metrics.TrainingRuns.WithLabelValues("error").Inc()
				return
			}

			if err := snapshot.Save(modelDir); err != nil {
				slog.Error("Failed to persist snapshot", slog.Any("error", err))
			}

			holder.Swap(snapshot)
			metrics.TrainingRuns.WithLabelValues("ok").Inc()
			metrics.TrainingDuration.Observe(time.Since(start).Seconds())
			metrics.SnapshotItems.Set(float64(len(items)))
			metrics.SnapshotUsers.Set(float64(snapshot.Ratings.Users()))
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "training started"})
	}
}

// HandleSyncPopular serves POST /api/sync/popular.
func HandleSyncPopular(loader *ingest.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		pages := 1
		if raw := req.URL.Query().Get("pages"); raw != "" {
			p, err := strconv.Atoi(raw)
			if err != nil || p < 1 || p > 20 {
				validation.WriteError(w, fmt.Errorf("pages must be between 1 and 20"), http.StatusBadRequest)
				return
			}
			pages = p
		}

		written, err := loader.SyncPopular(req.Context(), pages)
		if err != nil {
			slog.Error("Popular sync failed", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"written": written})
	}
}

// HandleSyncPlex serves POST /api/sync/plex.
func HandleSyncPlex(loader *ingest.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		written, err := loader.SyncPlex(req.Context())
		if err != nil {
			slog.Error("Plex sync failed", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"written": written})
	}
}

// HandleSyncMovieLens serves POST /api/sync/movielens.
func HandleSyncMovieLens(loader *ingest.Loader, dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if dir == "" {
			validation.WriteError(w, fmt.Errorf("movielens directory is not configured"), http.StatusConflict)
			return
		}

		result, err := loader.ImportMovieLens(req.Context(), dir)
		if err != nil {
			slog.Error("MovieLens import failed", slog.Any("error", err))
			validation.WriteError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}
