package engine

import (
	"log/slog"
)

// HybridConfig configures score blending.
type HybridConfig struct {
	// CollaborativeWeight and ContentWeight blend the two normalized
	// score lists. They default to an even split and are renormalized
	// to sum to 1.
	CollaborativeWeight float64 `koanf:"collaborative_weight"`
	ContentWeight       float64 `koanf:"content_weight"`

	// ExpansionFactor multiplies the requested n when querying the
	// sub-models, tolerating non-overlapping result sets.
	ExpansionFactor int `koanf:"expansion_factor"`
}

// DefaultHybridConfig returns an even blend with 3x candidate expansion.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		CollaborativeWeight: 0.5,
		ContentWeight:       0.5,
		ExpansionFactor:     3,
	}
}

// HybridRecommender holds trained instances of both models, normalizes
// their heterogeneous score ranges and blends them. It is immutable and
// safe for concurrent use.
type HybridRecommender struct {
	cfg     HybridConfig
	logger  *slog.Logger
	collab  *CollaborativeModel
	content *ContentBasedModel
}

// NewHybridRecommender builds a hybrid over two trained models.
func NewHybridRecommender(cfg HybridConfig, collab *CollaborativeModel, content *ContentBasedModel, logger *slog.Logger) *HybridRecommender {
	if cfg.ExpansionFactor <= 1 {
		cfg.ExpansionFactor = 3
	}
	if cfg.CollaborativeWeight <= 0 && cfg.ContentWeight <= 0 {
		cfg.CollaborativeWeight = 0.5
		cfg.ContentWeight = 0.5
	}
	total := cfg.CollaborativeWeight + cfg.ContentWeight
	cfg.CollaborativeWeight /= total
	cfg.ContentWeight /= total

	return &HybridRecommender{cfg: cfg, logger: logger, collab: collab, content: content}
}

// Name returns the model identifier.
func (h *HybridRecommender) Name() string { return "hybrid" }

// IsTrained reports whether at least one sub-model is trained.
func (h *HybridRecommender) IsTrained() bool {
	return h.collab.IsTrained() || h.content.IsTrained()
}

// Recommend blends both models' rankings for the user. If one sub-model
// produces nothing (cold start) the other's ranking is returned
// unmodified; if both are empty the caller-supplied popularity ranking
// is used. An unknown user is an expected condition, not an error.
func (h *HybridRecommender) Recommend(userID, n int, rctx *RatingContext, fallback []ScoredItem) ([]ScoredItem, error) {
	expanded := n * h.cfg.ExpansionFactor

	var cfItems []ScoredItem
	if h.collab.IsTrained() {
		items, err := h.collab.Recommend(userID, expanded)
		if err != nil {
			return nil, err
		}
		cfItems = items
	}

	var cbItems []ScoredItem
	if h.content.IsTrained() {
		items, err := h.content.RecommendForUser(userID, expanded, rctx)
		if err != nil {
			return nil, err
		}
		cbItems = items
	}

	switch {
	case len(cfItems) == 0 && len(cbItems) == 0:
		h.logger.Debug("Hybrid cold start, using popularity fallback",
			slog.Int("user_id", userID))
		return truncate(fallback, n), nil
	case len(cfItems) == 0:
		return truncate(cbItems, n), nil
	case len(cbItems) == 0:
		return truncate(cfItems, n), nil
	}

	cfScores := minMaxNormalize(cfItems)
	cbScores := minMaxNormalize(cbItems)

	combined := make(map[int]float64, len(cfScores)+len(cbScores))
	for id, score := range cfScores {
		combined[id] += h.cfg.CollaborativeWeight * score
	}
	for id, score := range cbScores {
		combined[id] += h.cfg.ContentWeight * score
	}

	result := make([]ScoredItem, 0, len(combined))
	for id, score := range combined {
		result = append(result, ScoredItem{ItemID: id, Score: score})
	}
	sortScored(result)
	return truncate(result, n), nil
}

// SimilarItems delegates to the content model; collaborative factors
// carry no item-item similarity semantics.
func (h *HybridRecommender) SimilarItems(itemID, n int) ([]ScoredItem, error) {
	return h.content.SimilarItems(itemID, n)
}

// minMaxNormalize maps one model's score list into [0,1]. Equal scores
// collapse to 0.5 so a flat list still contributes.
func minMaxNormalize(items []ScoredItem) map[int]float64 {
	out := make(map[int]float64, len(items))
	if len(items) == 0 {
		return out
	}

	minScore, maxScore := items[0].Score, items[0].Score
	for _, it := range items[1:] {
		if it.Score < minScore {
			minScore = it.Score
		}
		if it.Score > maxScore {
			maxScore = it.Score
		}
	}

	span := maxScore - minScore
	for _, it := range items {
		if span == 0 {
			out[it.ItemID] = 0.5
		} else {
			out[it.ItemID] = (it.Score - minScore) / span
		}
	}
	return out
}

func truncate(items []ScoredItem, n int) []ScoredItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}
