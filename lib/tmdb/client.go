// Package tmdb is a minimal TMDb v3 API client covering the catalog
// surfaces ingestion needs: search, details and the popular listings.
package tmdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/fthsrlk/MovieApp-ML/models"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

type Client struct {
	apiKey     string
	language   string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	genres map[string]map[int]string // kind -> genre id -> name
}

// record is the common shape of movie and TV entries across the search,
// popular and details responses.
type record struct {
	ID               int     `json:"id"`
	Title            string  `json:"title"`
	Name             string  `json:"name"`
	Overview         string  `json:"overview"`
	ReleaseDate      string  `json:"release_date"`
	FirstAirDate     string  `json:"first_air_date"`
	PosterPath       string  `json:"poster_path"`
	OriginalLanguage string  `json:"original_language"`
	Popularity       float64 `json:"popularity"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	GenreIDs         []int   `json:"genre_ids"`
	Genres           []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

type pagedResponse struct {
	Page         int      `json:"page"`
	TotalPages   int      `json:"total_pages"`
	TotalResults int      `json:"total_results"`
	Results      []record `json:"results"`
}

type genreListResponse struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

func NewClient(apiKey, language string, logger *slog.Logger) *Client {
	if language == "" {
		language = "en-US"
	}
	return &Client{
		apiKey:     apiKey,
		language:   language,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
		genres:     make(map[string]map[int]string),
	}
}

// get performs one API call and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	params.Set("language", c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tmdb returned %s for %s", resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// genreNames resolves TMDb genre ids to names, cached per kind.
func (c *Client) genreNames(ctx context.Context, kind string) (map[int]string, error) {
	c.mu.Lock()
	cached, ok := c.genres[kind]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var list genreListResponse
	if err := c.get(ctx, "/genre/"+kind+"/list", nil, &list); err != nil {
		return nil, fmt.Errorf("failed to fetch %s genres: %w", kind, err)
	}

	names := make(map[int]string, len(list.Genres))
	for _, g := range list.Genres {
		names[g.ID] = g.Name
	}

	c.mu.Lock()
	c.genres[kind] = names
	c.mu.Unlock()
	return names, nil
}

// SearchMovies searches the movie catalog by title.
func (c *Client) SearchMovies(ctx context.Context, query string, year int) ([]models.Item, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}
	return c.fetchPaged(ctx, "/search/movie", params, "movie")
}

// SearchTV searches the TV catalog by title.
func (c *Client) SearchTV(ctx context.Context, query string, year int) ([]models.Item, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(year))
	}
	return c.fetchPaged(ctx, "/search/tv", params, "tv")
}

// PopularMovies fetches one page of the popular movie listing.
func (c *Client) PopularMovies(ctx context.Context, page int) ([]models.Item, error) {
	return c.fetchPaged(ctx, "/movie/popular", url.Values{"page": {strconv.Itoa(page)}}, "movie")
}

// PopularTV fetches one page of the popular TV listing.
func (c *Client) PopularTV(ctx context.Context, page int) ([]models.Item, error) {
	return c.fetchPaged(ctx, "/tv/popular", url.Values{"page": {strconv.Itoa(page)}}, "tv")
}

// MovieDetails fetches one movie by TMDb id.
func (c *Client) MovieDetails(ctx context.Context, tmdbID int) (*models.Item, error) {
	var rec record
	if err := c.get(ctx, "/movie/"+strconv.Itoa(tmdbID), nil, &rec); err != nil {
		return nil, err
	}
	item := c.toItem(rec, "movie", nil)
	return &item, nil
}

// TVDetails fetches one TV show by TMDb id.
func (c *Client) TVDetails(ctx context.Context, tmdbID int) (*models.Item, error) {
	var rec record
	if err := c.get(ctx, "/tv/"+strconv.Itoa(tmdbID), nil, &rec); err != nil {
		return nil, err
	}
	item := c.toItem(rec, "tv", nil)
	return &item, nil
}

// fetchPaged fetches one listing page and maps it to catalog records.
func (c *Client) fetchPaged(ctx context.Context, path string, params url.Values, kind string) ([]models.Item, error) {
	genres, err := c.genreNames(ctx, kind)
	if err != nil {
		// Genre names are cosmetic for ranking; log and continue.
		c.logger.Warn("Continuing without genre names", slog.Any("error", err))
		genres = nil
	}

	var page pagedResponse
	if err := c.get(ctx, path, params, &page); err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, len(page.Results))
	for _, rec := range page.Results {
		items = append(items, c.toItem(rec, kind, genres))
	}
	return items, nil
}

// toItem maps a raw API record onto the catalog schema.
func (c *Client) toItem(rec record, kind string, genreNames map[int]string) models.Item {
	title := rec.Title
	date := rec.ReleaseDate
	if kind == "tv" {
		title = rec.Name
		date = rec.FirstAirDate
	}

	var genres string
	switch {
	case len(rec.Genres) > 0:
		for i, g := range rec.Genres {
			if i > 0 {
				genres += ","
			}
			genres += g.Name
		}
	case len(rec.GenreIDs) > 0 && genreNames != nil:
		first := true
		for _, id := range rec.GenreIDs {
			name, ok := genreNames[id]
			if !ok {
				continue
			}
			if !first {
				genres += ","
			}
			genres += name
			first = false
		}
	}

	year := 0
	if len(date) >= 4 {
		if y, err := strconv.Atoi(date[:4]); err == nil {
			year = y
		}
	}

	return models.Item{
		TMDbID:           rec.ID,
		Title:            title,
		Overview:         rec.Overview,
		Genres:           genres,
		ContentType:      kind,
		PosterPath:       rec.PosterPath,
		ReleaseYear:      year,
		OriginalLanguage: rec.OriginalLanguage,
		Popularity:       rec.Popularity,
		VoteAverage:      rec.VoteAverage,
		VoteCount:        rec.VoteCount,
		Source:           "tmdb",
	}
}

// GetPosterURL builds the full image URL for a poster path.
func (c *Client) GetPosterURL(posterPath string) string {
	if posterPath == "" {
		return ""
	}
	return fmt.Sprintf("https://image.tmdb.org/t/p/w500%s", posterPath)
}
