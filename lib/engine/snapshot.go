package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	contentUnitFile       = "content_model.json"
	collaborativeUnitFile = "collaborative_model.json"
)

// Snapshot is one fully trained serving state: both models, the hybrid
// combiner over them, and the session-scoped rating context they score
// against. Snapshots are immutable; retraining builds a new one.
type Snapshot struct {
	ID        string
	TrainedAt time.Time
	Content   *ContentBasedModel
	Collab    *CollaborativeModel
	Hybrid    *HybridRecommender
	Ratings   *RatingContext
}

// Recommend answers a recommendation query with the requested strategy.
// The popularity fallback is supplied by the caller and used when the
// engine has nothing for the user.
func (s *Snapshot) Recommend(strategy Strategy, userID, n int, fallback []ScoredItem) ([]ScoredItem, error) {
	switch strategy {
	case StrategyHybrid:
		return s.Hybrid.Recommend(userID, n, s.Ratings, fallback)
	case StrategyCollaborative:
		if !s.Collab.IsTrained() {
			return nil, fmt.Errorf("collaborative: %w", ErrNotTrained)
		}
		return s.Collab.Recommend(userID, n)
	case StrategyContentBased:
		if !s.Content.IsTrained() {
			return nil, fmt.Errorf("content_based: %w", ErrNotTrained)
		}
		return s.Content.RecommendForUser(userID, n, s.Ratings)
	case StrategyPopular:
		return truncate(fallback, n), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// SimilarItems delegates to the content model through the hybrid.
func (s *Snapshot) SimilarItems(itemID, n int) ([]ScoredItem, error) {
	return s.Hybrid.SimilarItems(itemID, n)
}

// Save persists both model units under dir, tagged with the snapshot id.
func (s *Snapshot) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	if s.Content.IsTrained() {
		if err := s.Content.Save(filepath.Join(dir, contentUnitFile), s.ID); err != nil {
			return fmt.Errorf("failed to save content model: %w", err)
		}
	}
	if s.Collab.IsTrained() {
		if err := s.Collab.Save(filepath.Join(dir, collaborativeUnitFile), s.ID); err != nil {
			return fmt.Errorf("failed to save collaborative model: %w", err)
		}
	}
	return nil
}

// Holder owns the currently serving snapshot. Deployment is a reference
// swap: in-flight queries keep the snapshot they started with.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the serving snapshot, or nil before the first deploy.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Swap atomically replaces the serving snapshot.
func (h *Holder) Swap(s *Snapshot) {
	h.current.Store(s)
}

// Trainer builds snapshots from catalog and rating snapshots. Both
// models train in parallel over shared read-only inputs; a failed run
// produces no snapshot and leaves the serving one untouched.
type Trainer struct {
	contentCfg ContentConfig
	collabCfg  CollaborativeConfig
	hybridCfg  HybridConfig
	logger     *slog.Logger
}

// NewTrainer creates a trainer with the given model configurations.
func NewTrainer(contentCfg ContentConfig, collabCfg CollaborativeConfig, hybridCfg HybridConfig, logger *slog.Logger) *Trainer {
	return &Trainer{
		contentCfg: contentCfg,
		collabCfg:  collabCfg,
		hybridCfg:  hybridCfg,
		logger:     logger,
	}
}

// Train runs one batch training pass. There is no cancellation: the
// computation runs to completion and the caller discards the result if
// it no longer wants it.
func (t *Trainer) Train(items []Item, events []RatingEvent) (*Snapshot, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cannot train on an empty catalog")
	}

	start := time.Now()
	content := NewContentBasedModel(t.contentCfg, t.logger)
	collab := NewCollaborativeModel(t.collabCfg, t.logger)

	var wg sync.WaitGroup
	var contentErr, collabErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		contentErr = content.Train(items)
	}()

	if len(events) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collabErr = collab.Train(events)
		}()
	} else {
		t.logger.Warn("No rating events, skipping collaborative training")
	}
	wg.Wait()

	if contentErr != nil {
		return nil, fmt.Errorf("content training failed: %w", contentErr)
	}
	if collabErr != nil {
		var divergence *TrainingDivergence
		if errors.As(collabErr, &divergence) {
			return nil, collabErr
		}
		return nil, fmt.Errorf("collaborative training failed: %w", collabErr)
	}

	snapshot := &Snapshot{
		ID:        uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Content:   content,
		Collab:    collab,
		Hybrid:    NewHybridRecommender(t.hybridCfg, collab, content, t.logger),
		Ratings:   NewRatingContext(events),
	}

	t.logger.Info("Training run complete",
		slog.String("snapshot_id", snapshot.ID),
		slog.Int("items", len(items)),
		slog.Int("ratings", len(events)),
		slog.Duration("elapsed", time.Since(start)))

	return snapshot, nil
}

// LoadSnapshot restores a snapshot from persisted model units, binding
// it to the current rating events. The interaction matrix itself is
// never persisted; it lives only inside the trained collaborative unit.
func LoadSnapshot(dir string, events []RatingEvent, hybridCfg HybridConfig, logger *slog.Logger) (*Snapshot, error) {
	content, err := LoadContentModel(filepath.Join(dir, contentUnitFile), logger)
	if err != nil {
		return nil, err
	}

	collab, err := LoadCollaborativeModel(filepath.Join(dir, collaborativeUnitFile), logger)
	if err != nil {
		var deser *DeserializationError
		if errors.As(err, &deser) && os.IsNotExist(deser.Err) {
			// A catalog-only deployment has no collaborative unit.
			collab = NewCollaborativeModel(DefaultCollaborativeConfig(), logger)
		} else {
			return nil, err
		}
	}

	return &Snapshot{
		ID:        uuid.NewString(),
		TrainedAt: time.Now().UTC(),
		Content:   content,
		Collab:    collab,
		Hybrid:    NewHybridRecommender(hybridCfg, collab, content, logger),
		Ratings:   NewRatingContext(events),
	}, nil
}
