package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fthsrlk/MovieApp-ML/lib/engine"
	"github.com/fthsrlk/MovieApp-ML/lib/store"
	"github.com/fthsrlk/MovieApp-ML/models"
)

func testRouter(t *testing.T) (*chi.Mux, *store.Store, *engine.Holder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}

	holder := &engine.Holder{}
	r := chi.NewRouter()
	r.Get("/api/recommendations/{userID}", HandleRecommendations(st, holder))
	r.Get("/api/similar/{itemID}", HandleSimilar(st, holder))
	r.Get("/api/popular", HandlePopular(st))
	r.Post("/api/ratings", HandleRate(st))
	r.Get("/api/ratings/{userID}", HandleUserRatings(st))
	return r, st, holder
}

func seedItems(t *testing.T, st *store.Store) {
	t.Helper()
	_, err := st.UpsertItems(context.Background(), []models.Item{
		{TMDbID: 1, Title: "Steel Strike", Overview: "An agent fights a rogue syndicate", Genres: "Action", ContentType: "movie", Popularity: 80, VoteAverage: 7.1, VoteCount: 900},
		{TMDbID: 2, Title: "Night Strike", Overview: "An agent fights through the night", Genres: "Action", ContentType: "movie", Popularity: 60, VoteAverage: 6.8, VoteCount: 700},
		{TMDbID: 3, Title: "Quiet Rooms", Overview: "A family drama about loss", Genres: "Drama", ContentType: "movie", Popularity: 30, VoteAverage: 8.0, VoteCount: 400},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRecommendationsColdStartServesPopular(t *testing.T) {
	r, st, _ := testRouter(t)
	seedItems(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/recommendations/1?limit=2", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Strategy string            `json:"strategy"`
		Results  []RecommendedItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Strategy != "popular" {
		t.Errorf("strategy = %q, want popular before first training", body.Strategy)
	}
	if len(body.Results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(body.Results))
	}
	if body.Results[0].ItemID != 1 {
		t.Errorf("top item = %d, want the most popular 1", body.Results[0].ItemID)
	}
	if body.Results[0].Title != "Steel Strike" {
		t.Errorf("title = %q, want joined catalog title", body.Results[0].Title)
	}
}

func TestRecommendationsWithSnapshot(t *testing.T) {
	r, st, holder := testRouter(t)
	seedItems(t, st)
	ctx := context.Background()

	if err := st.UpsertRating(ctx, models.Rating{UserID: 7, ItemID: 1, MediaType: "movie", Rating: 9}); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	items, err := st.TrainingItems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	events, err := st.TrainingEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	trainer := engine.NewTrainer(engine.DefaultContentConfig(), engine.DefaultCollaborativeConfig(), engine.DefaultHybridConfig(), logger)
	snapshot, err := trainer.Train(items, events)
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	holder.Swap(snapshot)

	req := httptest.NewRequest(http.MethodGet, "/api/recommendations/7?strategy=content_based", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Results []RecommendedItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) == 0 {
		t.Fatal("no results for a user with history")
	}
	for _, res := range body.Results {
		if res.ItemID == 1 {
			t.Error("results contain the already-rated item")
		}
	}
}

func TestRecommendationsColdStartExplicitStrategy(t *testing.T) {
	r, st, _ := testRouter(t)
	seedItems(t, st)

	// Naming a model strategy before the first training run is an
	// error, not a silent fall back to popularity.
	for _, strategy := range []string{"collaborative", "content_based", "hybrid"} {
		t.Run(strategy, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/recommendations/1?strategy="+strategy, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusConflict {
				t.Errorf("status = %d, want 409 for explicit %s before first training", rec.Code, strategy)
			}
		})
	}

	// Asking for popularity by name still works.
	req := httptest.NewRequest(http.MethodGet, "/api/recommendations/1?strategy=popular", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for explicit popular", rec.Code)
	}
}

func TestRecommendationsBadStrategy(t *testing.T) {
	r, _, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/recommendations/1?strategy=trending", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSimilarWithoutSnapshot(t *testing.T) {
	r, _, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/similar/1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 before first training", rec.Code)
	}
}

func TestRateValidation(t *testing.T) {
	r, _, _ := testRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"user_id":1,"item_id":2,"media_type":"movie","rating":8}`, want: http.StatusCreated},
		{name: "rating out of range", body: `{"user_id":1,"item_id":2,"media_type":"movie","rating":11}`, want: http.StatusBadRequest},
		{name: "bad media type", body: `{"user_id":1,"item_id":2,"media_type":"anime","rating":8}`, want: http.StatusBadRequest},
		{name: "missing user", body: `{"item_id":2,"media_type":"movie","rating":8}`, want: http.StatusBadRequest},
		{name: "not json", body: `ratings!`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ratings", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type stubSearcher struct {
	movies []models.Item
	shows  []models.Item
	err    error
}

func (s stubSearcher) SearchMovies(ctx context.Context, query string, year int) ([]models.Item, error) {
	return s.movies, s.err
}

func (s stubSearcher) SearchTV(ctx context.Context, query string, year int) ([]models.Item, error) {
	return s.shows, s.err
}

func TestSearch(t *testing.T) {
	searcher := stubSearcher{
		movies: []models.Item{{TMDbID: 550, Title: "Fight Club", ContentType: "movie"}},
		shows:  []models.Item{{TMDbID: 95396, Title: "Severance", ContentType: "tv"}},
	}
	r := chi.NewRouter()
	r.Get("/api/search", HandleSearch(searcher))

	tests := []struct {
		name      string
		target    string
		want      int
		wantTitle string
	}{
		{name: "movie search", target: "/api/search?query=fight+club", want: http.StatusOK, wantTitle: "Fight Club"},
		{name: "tv search", target: "/api/search?query=severance&type=tv", want: http.StatusOK, wantTitle: "Severance"},
		{name: "with year", target: "/api/search?query=fight+club&year=1999", want: http.StatusOK, wantTitle: "Fight Club"},
		{name: "missing query", target: "/api/search", want: http.StatusBadRequest},
		{name: "bad type", target: "/api/search?query=x&type=anime", want: http.StatusBadRequest},
		{name: "bad year", target: "/api/search?query=x&year=then", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.wantTitle == "" {
				return
			}

			var body struct {
				Results []models.Item `json:"results"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if len(body.Results) != 1 || body.Results[0].Title != tt.wantTitle {
				t.Errorf("results = %+v, want one item titled %q", body.Results, tt.wantTitle)
			}
		})
	}
}

func TestSearchUpstreamError(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/search", HandleSearch(stubSearcher{err: fmt.Errorf("upstream down")}))

	req := httptest.NewRequest(http.MethodGet, "/api/search?query=x", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestPopularFiltersType(t *testing.T) {
	r, st, _ := testRouter(t)
	seedItems(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/popular?type=movie&limit=5", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Results []models.Item `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(body.Results))
	}
	for i := 1; i < len(body.Results); i++ {
		if body.Results[i].Popularity > body.Results[i-1].Popularity {
			t.Error("results not in popularity order")
		}
	}
}
