// Package store wraps the sqlite catalog, rating and watchlist tables
// behind a small query surface tailored to the serving and training
// paths.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fthsrlk/MovieApp-ML/lib/engine"
	"github.com/fthsrlk/MovieApp-ML/models"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("record not found")

// Store is the database access layer. It is safe for concurrent use.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := RunMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies the underlying connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// UpsertItems inserts or refreshes catalog records keyed by
// (tmdb_id, content_type). Returns the number of rows written.
func (s *Store) UpsertItems(ctx context.Context, items []models.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	written := 0
	for i := range items {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tmdb_id"}, {Name: "content_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title", "overview", "genres", "poster_path", "release_year",
				"original_language", "popularity", "vote_average", "vote_count",
				"source", "updated_at",
			}),
		}).Create(&items[i]).Error
		if err != nil {
			s.logger.Warn("Skipping catalog record",
				slog.Int("tmdb_id", items[i].TMDbID),
				slog.String("title", items[i].Title),
				slog.Any("error", err))
			continue
		}
		written++
	}
	return written, nil
}

// Items returns the full catalog ordered by tmdb id.
func (s *Store) Items(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if err := s.db.WithContext(ctx).Order("tmdb_id asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	return items, nil
}

// ItemByID returns one catalog record by (tmdb_id, content_type).
func (s *Store) ItemByID(ctx context.Context, tmdbID int, contentType string) (*models.Item, error) {
	var item models.Item
	err := s.db.WithContext(ctx).
		Where("tmdb_id = ? AND content_type = ?", tmdbID, contentType).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("item %d (%s): %w", tmdbID, contentType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	return &item, nil
}

// ItemsByIDs returns catalog records for the given tmdb ids, in no
// particular order.
func (s *Store) ItemsByIDs(ctx context.Context, tmdbIDs []int) ([]models.Item, error) {
	if len(tmdbIDs) == 0 {
		return nil, nil
	}
	var items []models.Item
	if err := s.db.WithContext(ctx).Where("tmdb_id IN ?", tmdbIDs).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	return items, nil
}

// UpsertRating records a rating, overwriting any previous rating by the
// same user for the same item and media type.
func (s *Store) UpsertRating(ctx context.Context, r models.Rating) error {
	if r.RatedAt.IsZero() {
		r.RatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}, {Name: "media_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"rating", "rated_at", "updated_at"}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("failed to upsert rating: %w", err)
	}
	return nil
}

// Ratings returns every effective rating row.
func (s *Store) Ratings(ctx context.Context) ([]models.Rating, error) {
	var ratings []models.Rating
	if err := s.db.WithContext(ctx).Find(&ratings).Error; err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	return ratings, nil
}

// RatingsForUser returns the user's ratings ordered by item id.
func (s *Store) RatingsForUser(ctx context.Context, userID int) ([]models.Rating, error) {
	var ratings []models.Rating
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("item_id asc").
		Find(&ratings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list user ratings: %w", err)
	}
	return ratings, nil
}

// DeleteRating removes one rating row.
func (s *Store) DeleteRating(ctx context.Context, userID, itemID int, mediaType string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ? AND media_type = ?", userID, itemID, mediaType).
		Delete(&models.Rating{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete rating: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("rating for item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// AddToWatchlist bookmarks an item for a user. Re-adding is a no-op.
func (s *Store) AddToWatchlist(ctx context.Context, w models.WatchlistItem) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}, {Name: "media_type"}},
		DoNothing: true,
	}).Create(&w).Error
	if err != nil {
		return fmt.Errorf("failed to add watchlist entry: %w", err)
	}
	return nil
}

// Watchlist returns a user's bookmarks, newest first.
func (s *Store) Watchlist(ctx context.Context, userID int) ([]models.WatchlistItem, error) {
	var entries []models.WatchlistItem
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return entries, nil
}

// RemoveFromWatchlist deletes one bookmark.
func (s *Store) RemoveFromWatchlist(ctx context.Context, userID, itemID int, mediaType string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND item_id = ? AND media_type = ?", userID, itemID, mediaType).
		Delete(&models.WatchlistItem{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove watchlist entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("watchlist entry for item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

// PopularItems returns the catalog ranked by popularity, ties broken by
// vote average then tmdb id. An empty contentType means both kinds.
func (s *Store) PopularItems(ctx context.Context, contentType string, limit int) ([]models.Item, error) {
	q := s.db.WithContext(ctx).Model(&models.Item{})
	if contentType != "" {
		q = q.Where("content_type = ?", contentType)
	}
	var items []models.Item
	err := q.Order("popularity desc, vote_average desc, tmdb_id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank popular items: %w", err)
	}
	return items, nil
}

// Counts returns table sizes for the stats and health surfaces.
func (s *Store) Counts(ctx context.Context) (items, ratings, users int64, err error) {
	if err = s.db.WithContext(ctx).Model(&models.Item{}).Count(&items).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count items: %w", err)
	}
	if err = s.db.WithContext(ctx).Model(&models.Rating{}).Count(&ratings).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count ratings: %w", err)
	}
	err = s.db.WithContext(ctx).Model(&models.Rating{}).
		Distinct("user_id").Count(&users).Error
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return items, ratings, users, nil
}

// TrainingItems loads the catalog in the engine's input shape.
func (s *Store) TrainingItems(ctx context.Context) ([]engine.Item, error) {
	items, err := s.Items(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Item, 0, len(items))
	for _, it := range items {
		out = append(out, EngineItem(it))
	}
	return out, nil
}

// TrainingEvents loads all ratings in the engine's input shape.
func (s *Store) TrainingEvents(ctx context.Context) ([]engine.RatingEvent, error) {
	ratings, err := s.Ratings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.RatingEvent, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, engine.RatingEvent{
			UserID:    r.UserID,
			ItemID:    r.ItemID,
			MediaType: r.MediaType,
			Rating:    r.Rating,
			Timestamp: r.RatedAt,
		})
	}
	return out, nil
}

// PopularScored returns the popularity ranking as scored items, used as
// the engine's cold-start fallback.
func (s *Store) PopularScored(ctx context.Context, limit int) ([]engine.ScoredItem, error) {
	items, err := s.PopularItems(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScoredItem, 0, len(items))
	for _, it := range items {
		out = append(out, engine.ScoredItem{ItemID: it.TMDbID, Score: it.Popularity})
	}
	return out, nil
}

// EngineItem converts a catalog row into the engine's item shape.
func EngineItem(it models.Item) engine.Item {
	return engine.Item{
		ID:          it.TMDbID,
		Title:       it.Title,
		Overview:    it.Overview,
		Genres:      SplitGenres(it.Genres),
		ContentType: it.ContentType,
		Popularity:  it.Popularity,
		VoteAverage: it.VoteAverage,
		VoteCount:   it.VoteCount,
	}
}

// SplitGenres parses the comma-separated genre column.
func SplitGenres(genres string) []string {
	if genres == "" {
		return nil
	}
	parts := strings.Split(genres, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
