package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/fthsrlk/MovieApp-ML/models"
)

// movieLensUserOffset shifts imported user ids above the application's
// own users so the two populations never collide.
const movieLensUserOffset = 1000

// MovieLensResult summarizes one import run.
type MovieLensResult struct {
	Items   int `json:"items"`
	Ratings int `json:"ratings"`
	Skipped int `json:"skipped"`
}

// ImportMovieLens merges a MovieLens dump (movies.csv, links.csv,
// ratings.csv) into the catalog and rating tables. Movies without a
// TMDb mapping in links.csv are skipped. Ratings keep their native
// half-star scale; the preprocessor normalizes per user later.
func (l *Loader) ImportMovieLens(ctx context.Context, dir string) (*MovieLensResult, error) {
	links, err := readLinks(filepath.Join(dir, "links.csv"))
	if err != nil {
		return nil, err
	}

	items, skippedMovies, err := readMovies(filepath.Join(dir, "movies.csv"), links)
	if err != nil {
		return nil, err
	}

	written, err := l.merge(ctx, items)
	if err != nil {
		return nil, err
	}

	imported, skippedRatings, err := l.importRatings(ctx, filepath.Join(dir, "ratings.csv"), links)
	if err != nil {
		return nil, err
	}

	result := &MovieLensResult{
		Items:   written,
		Ratings: imported,
		Skipped: skippedMovies + skippedRatings,
	}

	l.logger.Info("MovieLens import complete",
		slog.String("dir", dir),
		slog.Int("items", result.Items),
		slog.Int("ratings", result.Ratings),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

// readLinks builds the movieId to tmdbId mapping.
func readLinks(path string) (map[int]int, error) {
	rows, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer rows.close()

	links := make(map[int]int)
	for {
		record, err := rows.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(record) < 3 || record[2] == "" {
			continue
		}
		movieID, err1 := strconv.Atoi(record[0])
		tmdbID, err2 := strconv.Atoi(record[2])
		if err1 != nil || err2 != nil {
			continue
		}
		links[movieID] = tmdbID
	}
	return links, nil
}

// readMovies parses movies.csv into catalog records, extracting the
// release year from the trailing "(YYYY)" of the title and splitting
// the pipe-separated genre column.
func readMovies(path string, links map[int]int) ([]models.Item, int, error) {
	rows, err := openCSV(path)
	if err != nil {
		return nil, 0, err
	}
	defer rows.close()

	var items []models.Item
	skipped := 0
	for {
		record, err := rows.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(record) < 3 {
			skipped++
			continue
		}
		movieID, err := strconv.Atoi(record[0])
		if err != nil {
			skipped++
			continue
		}
		tmdbID, ok := links[movieID]
		if !ok {
			skipped++
			continue
		}

		title, year := splitTitleYear(record[1])
		genres := strings.ReplaceAll(record[2], "|", ",")
		if genres == "(no genres listed)" {
			genres = ""
		}

		items = append(items, models.Item{
			TMDbID:           tmdbID,
			Title:            title,
			Genres:           genres,
			ContentType:      "movie",
			ReleaseYear:      year,
			OriginalLanguage: "en",
			Source:           "movielens",
		})
	}
	return items, skipped, nil
}

// importRatings streams ratings.csv into the rating table. The upsert
// key keeps the last written row per (user, item), so rows are applied
// in file order and later duplicates win.
func (l *Loader) importRatings(ctx context.Context, path string, links map[int]int) (int, int, error) {
	rows, err := openCSV(path)
	if err != nil {
		return 0, 0, err
	}
	defer rows.close()

	imported, skipped := 0, 0
	for {
		record, err := rows.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(record) < 4 {
			skipped++
			continue
		}

		userID, err1 := strconv.Atoi(record[0])
		movieID, err2 := strconv.Atoi(record[1])
		rating, err3 := strconv.ParseFloat(record[2], 64)
		ts, err4 := strconv.ParseInt(record[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			skipped++
			continue
		}
		tmdbID, ok := links[movieID]
		if !ok {
			skipped++
			continue
		}

		err = l.store.UpsertRating(ctx, models.Rating{
			UserID:    userID + movieLensUserOffset,
			ItemID:    tmdbID,
			MediaType: "movie",
			Rating:    rating,
			RatedAt:   time.Unix(ts, 0).UTC(),
		})
		if err != nil {
			l.logger.Warn("Skipping rating row",
				slog.Int("user_id", userID),
				slog.Int("movie_id", movieID),
				slog.Any("error", err))
			skipped++
			continue
		}
		imported++
	}
	return imported, skipped, nil
}

// splitTitleYear separates "Toy Story (1995)" into title and year.
func splitTitleYear(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	open := strings.LastIndex(raw, "(")
	close := strings.LastIndex(raw, ")")
	if open < 0 || close != len(raw)-1 || close <= open {
		return raw, 0
	}
	year, err := strconv.Atoi(raw[open+1 : close])
	if err != nil {
		return raw, 0
	}
	return strings.TrimSpace(raw[:open]), year
}

// csvRows wraps a CSV file with its header already consumed.
type csvRows struct {
	f *os.File
	r *csv.Reader
}

func openCSV(path string) (*csvRows, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil { // header
		f.Close()
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return &csvRows{f: f, r: r}, nil
}

func (c *csvRows) next() ([]string, error) { return c.r.Read() }
func (c *csvRows) close()                  { c.f.Close() }
