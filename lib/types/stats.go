package types

import "time"

// StatsData summarizes the catalog and rating tables alongside the
// serving snapshot for the stats endpoint.
type StatsData struct {
	TotalItems    int64     `json:"total_items"`
	TotalMovies   int64     `json:"total_movies"`
	TotalTVShows  int64     `json:"total_tv_shows"`
	TotalRatings  int64     `json:"total_ratings"`
	TotalUsers    int64     `json:"total_users"`
	SnapshotID    string    `json:"snapshot_id,omitempty"`
	LastTrainedAt time.Time `json:"last_trained_at,omitempty"`

	GenreDistribution []GenreCount `json:"genre_distribution,omitempty"`
}

// GenreCount is one genre bucket of the catalog distribution.
type GenreCount struct {
	Genre string `json:"genre"`
	Count int64  `json:"count"`
}
