package engine

import (
	"testing"
	"time"
)

func trainedHybrid(t *testing.T) (*HybridRecommender, *RatingContext) {
	t.Helper()
	content := trainedContentModel(t)

	now := time.Now()
	events := []RatingEvent{
		{UserID: 1, ItemID: 1, MediaType: "movie", Rating: 9, Timestamp: now},
		{UserID: 1, ItemID: 3, MediaType: "movie", Rating: 3, Timestamp: now},
		{UserID: 2, ItemID: 1, MediaType: "movie", Rating: 8, Timestamp: now},
		{UserID: 2, ItemID: 2, MediaType: "movie", Rating: 9, Timestamp: now},
	}
	collab := NewCollaborativeModel(DefaultCollaborativeConfig(), testLogger())
	if err := collab.Train(events); err != nil {
		t.Fatalf("Train() error = %v", err)
	}

	return NewHybridRecommender(DefaultHybridConfig(), collab, content, testLogger()), NewRatingContext(events)
}

func TestHybridWeightNormalization(t *testing.T) {
	content := trainedContentModel(t)
	collab := NewCollaborativeModel(DefaultCollaborativeConfig(), testLogger())

	h := NewHybridRecommender(HybridConfig{CollaborativeWeight: 2, ContentWeight: 2}, collab, content, testLogger())
	sum := h.cfg.CollaborativeWeight + h.cfg.ContentWeight
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("weights sum = %f, want ~1.0", sum)
	}
}

func TestHybridRecommendBlends(t *testing.T) {
	h, rctx := trainedHybrid(t)

	got, err := h.Recommend(1, 3, rctx, nil)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(got) == 0 {
		t.Fatal("Recommend() returned nothing for a known user")
	}

	for _, s := range got {
		if s.ItemID == 1 || s.ItemID == 3 {
			t.Errorf("result contains already-rated item %d", s.ItemID)
		}
		if s.Score < 0 || s.Score > 1 {
			t.Errorf("blended score %f outside [0,1]", s.Score)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not non-increasing at %d", i)
		}
	}
}

func TestHybridColdStartFallsBack(t *testing.T) {
	h, rctx := trainedHybrid(t)

	fallback := []ScoredItem{
		{ItemID: 5, Score: 100},
		{ItemID: 4, Score: 90},
		{ItemID: 3, Score: 80},
	}

	got, err := h.Recommend(999, 2, rctx, fallback)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recommend) = %d, want 2 (truncated fallback)", len(got))
	}
	if got[0].ItemID != 5 || got[1].ItemID != 4 {
		t.Errorf("fallback order = %v, want popularity order [5 4]", got)
	}
}

func TestHybridSingleModelPassthrough(t *testing.T) {
	// Only the content model is trained; its ranking should pass through
	// without blending.
	content := trainedContentModel(t)
	collab := NewCollaborativeModel(DefaultCollaborativeConfig(), testLogger())
	h := NewHybridRecommender(DefaultHybridConfig(), collab, content, testLogger())

	rctx := NewRatingContext([]RatingEvent{
		{UserID: 1, ItemID: 1, MediaType: "movie", Rating: 9, Timestamp: time.Now()},
	})

	got, err := h.Recommend(1, 3, rctx, nil)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(got) == 0 {
		t.Fatal("Recommend() returned nothing with one trained model")
	}
	if got[0].ItemID != 2 {
		t.Errorf("top item = %d, want content ranking's 2", got[0].ItemID)
	}
}

func TestMinMaxNormalize(t *testing.T) {
	tests := []struct {
		name  string
		items []ScoredItem
		want  map[int]float64
	}{
		{
			name:  "spreads scores into unit range",
			items: []ScoredItem{{ItemID: 1, Score: 10}, {ItemID: 2, Score: 5}, {ItemID: 3, Score: 0}},
			want:  map[int]float64{1: 1, 2: 0.5, 3: 0},
		},
		{
			name:  "flat scores collapse to midpoint",
			items: []ScoredItem{{ItemID: 1, Score: 3}, {ItemID: 2, Score: 3}},
			want:  map[int]float64{1: 0.5, 2: 0.5},
		},
		{
			name:  "empty input",
			items: nil,
			want:  map[int]float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := minMaxNormalize(tt.items)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for id, want := range tt.want {
				if diff := got[id] - want; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("score[%d] = %f, want %f", id, got[id], want)
				}
			}
		})
	}
}
