// Package engine implements the recommendation core: feature
// preprocessing, the content-based and collaborative models, and the
// hybrid combiner that blends them.
//
// Trained models are immutable after construction and safe for
// concurrent queries. Retraining produces a whole new Snapshot which is
// swapped in atomically; in-flight queries observe either the old or the
// new snapshot in full.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Strategy selects which model answers a recommendation query.
type Strategy string

const (
	StrategyHybrid        Strategy = "hybrid"
	StrategyCollaborative Strategy = "collaborative"
	StrategyContentBased  Strategy = "content_based"
	StrategyPopular       Strategy = "popular"
)

// ParseStrategy validates a strategy name. An empty name defaults to
// hybrid; anything unrecognized is an explicit error, never a silent
// substitution.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case "":
		return StrategyHybrid, nil
	case StrategyHybrid, StrategyCollaborative, StrategyContentBased, StrategyPopular:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

var (
	// ErrNotFound reports an unknown item or user at query time. It is
	// recoverable; callers apply their own fallback.
	ErrNotFound = errors.New("not found in trained catalog")

	// ErrNotTrained reports a query against a model that has not been
	// trained or loaded.
	ErrNotTrained = errors.New("model not trained")

	// ErrUnknownStrategy reports an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// DeserializationError reports a corrupt or version-incompatible
// persisted model unit. It is fatal to the load call; no partially
// initialized model is returned alongside it.
type DeserializationError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("failed to load model from %s: %s", e.Path, e.Reason)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// TrainingDivergence reports that optimization failed to reach the
// convergence criterion within its iteration budget. The previously
// serving snapshot is retained.
type TrainingDivergence struct {
	Iterations int
	LastRMSE   float64
}

func (e *TrainingDivergence) Error() string {
	return fmt.Sprintf("training diverged after %d iterations (rmse=%.4f)", e.Iterations, e.LastRMSE)
}

// Item is the engine's immutable view of a catalog record.
type Item struct {
	ID          int
	Title       string
	Overview    string
	Genres      []string
	ContentType string
	Popularity  float64
	VoteAverage float64
	VoteCount   int
}

// FeatureText returns the combined text blob used for TF-IDF similarity.
func (i Item) FeatureText() string {
	text := i.Title
	for _, g := range i.Genres {
		text += " " + g
	}
	if i.Overview != "" {
		text += " " + i.Overview
	}
	return text
}

// RatingEvent is a single user-item rating observation.
type RatingEvent struct {
	UserID    int
	ItemID    int
	MediaType string
	Rating    float64
	Timestamp time.Time
}

// ScoredItem pairs an item identifier with a model score. Score ranges
// are model-specific; callers must not compare scores across models
// without normalization.
type ScoredItem struct {
	ItemID int     `json:"item_id"`
	Score  float64 `json:"score"`
}

// sortScored orders items by descending score, ties broken by ascending
// item id so repeated calls produce bit-identical output.
func sortScored(items []ScoredItem) {
	sort.Slice(items, func(a, b int) bool {
		if items[a].Score != items[b].Score {
			return items[a].Score > items[b].Score
		}
		return items[a].ItemID < items[b].ItemID
	})
}

// RatingContext is a session-scoped view of the rating table, built once
// per serving window instead of re-supplied on every scoring call.
type RatingContext struct {
	byUser map[int][]RatingEvent
}

// NewRatingContext groups rating events by user, keeping only the latest
// event per (user, item, media type) key.
func NewRatingContext(events []RatingEvent) *RatingContext {
	type key struct {
		user  int
		item  int
		media string
	}
	latest := make(map[key]RatingEvent, len(events))
	for _, ev := range events {
		k := key{ev.UserID, ev.ItemID, ev.MediaType}
		if prev, ok := latest[k]; !ok || ev.Timestamp.After(prev.Timestamp) {
			latest[k] = ev
		}
	}

	byUser := make(map[int][]RatingEvent)
	for _, ev := range latest {
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}
	for _, evs := range byUser {
		sort.Slice(evs, func(a, b int) bool { return evs[a].ItemID < evs[b].ItemID })
	}

	return &RatingContext{byUser: byUser}
}

// RatingsFor returns the effective ratings for a user, sorted by item id.
func (rc *RatingContext) RatingsFor(userID int) []RatingEvent {
	if rc == nil {
		return nil
	}
	return rc.byUser[userID]
}

// RatedItems returns the set of item ids a user has rated.
func (rc *RatingContext) RatedItems(userID int) map[int]struct{} {
	events := rc.RatingsFor(userID)
	if len(events) == 0 {
		return nil
	}
	rated := make(map[int]struct{}, len(events))
	for _, ev := range events {
		rated[ev.ItemID] = struct{}{}
	}
	return rated
}

// Users returns the number of distinct users with at least one rating.
func (rc *RatingContext) Users() int {
	if rc == nil {
		return 0
	}
	return len(rc.byUser)
}

// Model is the capability surface shared by both trained model kinds.
type Model interface {
	Name() string
	IsTrained() bool
}

// UserScorer produces a ranked result list for a user.
type UserScorer interface {
	Model
	// Recommend returns up to n unrated items for the user, descending
	// by score with ascending-id tie break. An unknown user yields an
	// empty result, not an error.
	Recommend(userID, n int) ([]ScoredItem, error)
}

// ItemScorer produces item-to-item similarity rankings.
type ItemScorer interface {
	Model
	// SimilarItems returns up to n neighbors of the item, strictly
	// non-increasing by similarity, the item itself excluded.
	SimilarItems(itemID, n int) ([]ScoredItem, error)
}

// Persistable models serialize to and from a versioned on-disk unit.
type Persistable interface {
	Model
	Save(path, snapshotID string) error
}
