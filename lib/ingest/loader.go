// Package ingest populates the catalog from external sources: the TMDb
// popular listings, an optional Plex server, and MovieLens dumps.
// Ingestion is idempotent; re-running refreshes existing records.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/fthsrlk/MovieApp-ML/lib/plex"
	"github.com/fthsrlk/MovieApp-ML/lib/store"
	"github.com/fthsrlk/MovieApp-ML/lib/tmdb"
	"github.com/fthsrlk/MovieApp-ML/models"
)

// Loader orchestrates catalog ingestion. Plex and the enricher are
// optional; a nil client disables that source.
type Loader struct {
	store    *store.Store
	tmdb     *tmdb.Client
	plex     *plex.Client
	enricher *Enricher
	logger   *slog.Logger
}

func NewLoader(st *store.Store, tm *tmdb.Client, px *plex.Client, en *Enricher, logger *slog.Logger) *Loader {
	return &Loader{store: st, tmdb: tm, plex: px, enricher: en, logger: logger}
}

// SyncPopular pulls the given number of popular listing pages for both
// movies and TV and merges them into the catalog.
func (l *Loader) SyncPopular(ctx context.Context, pages int) (int, error) {
	if pages <= 0 {
		pages = 1
	}

	var batch []models.Item
	for page := 1; page <= pages; page++ {
		movies, err := l.tmdb.PopularMovies(ctx, page)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch popular movies page %d: %w", page, err)
		}
		batch = append(batch, movies...)

		shows, err := l.tmdb.PopularTV(ctx, page)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch popular tv page %d: %w", page, err)
		}
		batch = append(batch, shows...)
	}

	return l.merge(ctx, batch)
}

// SyncPlex reads every Plex library and merges its contents, resolving
// each entry against TMDb for the canonical identity. Entries that
// cannot be resolved are skipped with a warning, never aborting the run.
func (l *Loader) SyncPlex(ctx context.Context) (int, error) {
	if l.plex == nil {
		return 0, fmt.Errorf("plex source is not configured")
	}

	records, err := l.plex.CatalogRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read plex catalog: %w", err)
	}

	var batch []models.Item
	for _, rec := range records {
		item, err := l.resolve(ctx, rec)
		if err != nil {
			l.logger.Warn("Skipping unresolved Plex record",
				slog.String("title", rec.Title),
				slog.Int("year", rec.Year),
				slog.Any("error", err))
			continue
		}
		item.Source = "plex"
		batch = append(batch, *item)
	}

	return l.merge(ctx, batch)
}

// resolve looks a source record up on TMDb by title and year.
func (l *Loader) resolve(ctx context.Context, rec plex.MediaRecord) (*models.Item, error) {
	var (
		matches []models.Item
		err     error
	)
	if rec.ContentType == "tv" {
		matches, err = l.tmdb.SearchTV(ctx, rec.Title, rec.Year)
	} else {
		matches, err = l.tmdb.SearchMovies(ctx, rec.Title, rec.Year)
	}
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no TMDb match for %q", rec.Title)
	}

	item := matches[0]
	if item.Overview == "" {
		item.Overview = rec.Summary
	}
	if item.Genres == "" && len(rec.Genres) > 0 {
		item.Genres = strings.Join(rec.Genres, ",")
	}
	return &item, nil
}

// merge enriches and upserts a batch, returning rows written. A record
// that fails enrichment is kept with its original fields.
func (l *Loader) merge(ctx context.Context, batch []models.Item) (int, error) {
	if l.enricher != nil {
		for i := range batch {
			if batch[i].Genres != "" {
				continue
			}
			tags, err := l.enricher.GenreTags(ctx, batch[i])
			if err != nil {
				l.logger.Warn("Genre enrichment failed",
					slog.String("title", batch[i].Title),
					slog.Any("error", err))
				continue
			}
			batch[i].Genres = tags
		}
	}

	written, err := l.store.UpsertItems(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to merge catalog batch: %w", err)
	}

	l.logger.Info("Merged catalog batch",
		slog.Int("records", len(batch)),
		slog.Int("written", written))
	return written, nil
}
