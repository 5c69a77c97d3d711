package models

import (
	"time"

	"gorm.io/gorm"
)

// Item is a canonical catalog record keyed by its TMDb identifier.
// Ingestion creates it, re-ingestion refreshes it; the engine treats it
// as immutable for the duration of a training run.
type Item struct {
	gorm.Model
	TMDbID           int    `gorm:"column:tmdb_id;uniqueIndex:idx_items_tmdb_type"`
	Title            string `gorm:"index"`
	Overview         string
	Genres           string // comma-separated genre names
	ContentType      string `gorm:"uniqueIndex:idx_items_tmdb_type"` // "movie" or "tv"
	PosterPath       string
	ReleaseYear      int
	OriginalLanguage string
	Popularity       float64
	VoteAverage      float64
	VoteCount        int
	Source           string // "tmdb", "plex", "movielens"
}

// GetTitle returns the item title.
func (i Item) GetTitle() string {
	return i.Title
}

// Rating is a single effective rating. The unique index enforces at most
// one row per (user, item, media type); later events overwrite earlier ones.
type Rating struct {
	gorm.Model
	UserID    int     `gorm:"uniqueIndex:idx_ratings_user_item_media"`
	ItemID    int     `gorm:"uniqueIndex:idx_ratings_user_item_media"`
	MediaType string  `gorm:"uniqueIndex:idx_ratings_user_item_media"`
	Rating    float64 // 0.5 - 10.0
	RatedAt   time.Time
}

// WatchlistItem is a catalog item a user has bookmarked.
type WatchlistItem struct {
	gorm.Model
	UserID     int    `gorm:"uniqueIndex:idx_watchlist_user_item_media"`
	ItemID     int    `gorm:"uniqueIndex:idx_watchlist_user_item_media"`
	MediaType  string `gorm:"uniqueIndex:idx_watchlist_user_item_media"`
	Title      string
	PosterPath string
}
