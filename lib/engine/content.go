package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ContentConfig configures the content-based model.
type ContentConfig struct {
	// TopK caps the number of neighbors kept per item in the
	// similarity index.
	TopK int `koanf:"top_k"`

	// Workers is the number of goroutines used for pairwise similarity
	// computation during training.
	Workers int `koanf:"workers"`
}

// DefaultContentConfig returns the default content model configuration.
func DefaultContentConfig() ContentConfig {
	return ContentConfig{TopK: 50, Workers: 4}
}

// ContentBasedModel learns item-item similarity from catalog feature
// vectors and scores candidates for a user by aggregating similarity to
// the items the user already rated. Instances are immutable once trained.
type ContentBasedModel struct {
	cfg    ContentConfig
	logger *slog.Logger

	prep    Preprocessor
	vectors map[int]FeatureVector
	index   map[int][]ScoredItem // similarity rows, descending, capped at TopK
	itemIDs []int                // sorted, for deterministic iteration
	trained bool
}

// NewContentBasedModel creates an untrained content-based model.
func NewContentBasedModel(cfg ContentConfig, logger *slog.Logger) *ContentBasedModel {
	if cfg.TopK <= 0 {
		cfg.TopK = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &ContentBasedModel{cfg: cfg, logger: logger}
}

// Name returns the model identifier.
func (m *ContentBasedModel) Name() string { return "content_based" }

// IsTrained reports whether the model holds a trained similarity index.
func (m *ContentBasedModel) IsTrained() bool { return m.trained }

// Train builds one feature vector per catalog item and the bounded
// similarity index via pairwise cosine similarity.
func (m *ContentBasedModel) Train(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("cannot train content model on empty catalog")
	}

	m.prep = Preprocessor{}
	m.prep.Fit(items)

	m.vectors = make(map[int]FeatureVector, len(items))
	m.itemIDs = make([]int, 0, len(items))
	for _, item := range items {
		if _, ok := m.vectors[item.ID]; ok {
			continue
		}
		m.vectors[item.ID] = m.prep.Vector(item)
		m.itemIDs = append(m.itemIDs, item.ID)
	}
	sort.Ints(m.itemIDs)

	m.logger.Debug("Computing similarity index",
		slog.Int("items", len(m.itemIDs)),
		slog.Int("top_k", m.cfg.TopK))

	m.index = make(map[int][]ScoredItem, len(m.itemIDs))
	rows := make([][]ScoredItem, len(m.itemIDs))

	var wg sync.WaitGroup
	chunk := (len(m.itemIDs) + m.cfg.Workers - 1) / m.cfg.Workers
	for w := 0; w < m.cfg.Workers; w++ {
		start := w * chunk
		end := min(start+chunk, len(m.itemIDs))
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				rows[i] = m.neighborRow(m.itemIDs[i])
			}
		}(start, end)
	}
	wg.Wait()

	for i, id := range m.itemIDs {
		m.index[id] = rows[i]
	}

	m.trained = true
	return nil
}

// neighborRow computes one similarity index row: the TopK most similar
// other items, strictly descending by similarity.
func (m *ContentBasedModel) neighborRow(itemID int) []ScoredItem {
	vec := m.vectors[itemID]
	row := make([]ScoredItem, 0, len(m.itemIDs)-1)
	for _, otherID := range m.itemIDs {
		if otherID == itemID {
			continue
		}
		if sim := vec.Cosine(m.vectors[otherID]); sim > 0 {
			row = append(row, ScoredItem{ItemID: otherID, Score: sim})
		}
	}
	sortScored(row)
	if len(row) > m.cfg.TopK {
		row = row[:m.cfg.TopK]
	}
	return row
}

// SimilarItems returns the top n entries of the item's similarity index
// row. Unknown items fail with ErrNotFound.
func (m *ContentBasedModel) SimilarItems(itemID, n int) ([]ScoredItem, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	row, ok := m.index[itemID]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if n > len(row) {
		n = len(row)
	}
	out := make([]ScoredItem, n)
	copy(out, row[:n])
	return out, nil
}

// RecommendForUser scores every unrated item reachable through the
// similarity rows of the user's rated items. Each candidate accumulates
// similarity weighted by the user's mean-centered ratings. A user with
// no rating history yields an empty result.
func (m *ContentBasedModel) RecommendForUser(userID, n int, rctx *RatingContext) ([]ScoredItem, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}

	ratings := rctx.RatingsFor(userID)
	if len(ratings) == 0 {
		return nil, nil
	}

	var mean float64
	for _, ev := range ratings {
		mean += ev.Rating
	}
	mean /= float64(len(ratings))

	rated := make(map[int]struct{}, len(ratings))
	for _, ev := range ratings {
		rated[ev.ItemID] = struct{}{}
	}

	scores := make(map[int]float64)
	for _, ev := range ratings {
		row, ok := m.index[ev.ItemID]
		if !ok {
			continue
		}
		weight := ev.Rating - mean
		if weight == 0 {
			// A flat history carries no contrast; fall back to raw
			// positive weight so a single-rating user still gets results.
			weight = ev.Rating / m.prep.Bounds.RatingScale
		}
		for _, neighbor := range row {
			if _, already := rated[neighbor.ItemID]; already {
				continue
			}
			scores[neighbor.ItemID] += neighbor.Score * weight
		}
	}

	result := make([]ScoredItem, 0, len(scores))
	for id, score := range scores {
		result = append(result, ScoredItem{ItemID: id, Score: score})
	}
	sortScored(result)
	if len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// Recommend implements UserScorer with the rating context captured at
// snapshot construction.
type contentScorer struct {
	model *ContentBasedModel
	rctx  *RatingContext
}

func (s contentScorer) Name() string    { return s.model.Name() }
func (s contentScorer) IsTrained() bool { return s.model.IsTrained() }

func (s contentScorer) Recommend(userID, n int) ([]ScoredItem, error) {
	return s.model.RecommendForUser(userID, n, s.rctx)
}

// BindRatings wraps the model with a session-scoped rating context so
// callers do not re-supply the rating table per call.
func (m *ContentBasedModel) BindRatings(rctx *RatingContext) UserScorer {
	return contentScorer{model: m, rctx: rctx}
}
