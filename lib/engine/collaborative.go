package engine

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
)

// CollaborativeConfig configures latent-factor training.
type CollaborativeConfig struct {
	// Factors is the dimension of the latent user/item vectors.
	Factors int `koanf:"factors"`

	// MaxIterations bounds the optimization loop.
	MaxIterations int `koanf:"max_iterations"`

	// LearningRate is the SGD step size.
	LearningRate float64 `koanf:"learning_rate"`

	// Regularization is the L2 penalty on factor magnitudes.
	Regularization float64 `koanf:"regularization"`

	// Tolerance is the RMSE delta below which training stops early.
	Tolerance float64 `koanf:"tolerance"`

	// Seed fixes factor initialization for deterministic training.
	Seed int64 `koanf:"seed"`
}

// DefaultCollaborativeConfig returns the default collaborative
// filtering configuration.
func DefaultCollaborativeConfig() CollaborativeConfig {
	return CollaborativeConfig{
		Factors:        32,
		MaxIterations:  100,
		LearningRate:   0.01,
		Regularization: 0.02,
		Tolerance:      1e-4,
		Seed:           42,
	}
}

// observation is one observed cell of the interaction matrix.
type observation struct {
	user   int // row in P
	item   int // row in Q
	rating float64
}

// CollaborativeModel learns low-rank latent factors from the user-item
// interaction matrix and scores candidates by factor dot product.
// Scores are unbounded reals, not rescaled to the original rating scale.
type CollaborativeModel struct {
	cfg    CollaborativeConfig
	logger *slog.Logger

	userIndex   map[int]int
	itemIndex   map[int]int
	indexToItem []int
	userFactors [][]float64
	itemFactors [][]float64
	userRated   map[int]map[int]struct{}
	trained     bool
}

// NewCollaborativeModel creates an untrained collaborative model.
func NewCollaborativeModel(cfg CollaborativeConfig, logger *slog.Logger) *CollaborativeModel {
	if cfg.Factors <= 0 {
		cfg.Factors = 32
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.Regularization <= 0 {
		cfg.Regularization = 0.02
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-4
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &CollaborativeModel{cfg: cfg, logger: logger}
}

// Name returns the model identifier.
func (m *CollaborativeModel) Name() string { return "collaborative" }

// IsTrained reports whether the model holds trained factors.
func (m *CollaborativeModel) IsTrained() bool { return m.trained }

// Train rebuilds the interaction matrix from the current rating events
// and fits the factor matrices by regularized SGD on observed entries
// only. Training stops at the iteration bound or when the RMSE delta
// drops below the configured tolerance, whichever comes first. A
// non-finite or growing reconstruction error is surfaced as
// TrainingDivergence.
func (m *CollaborativeModel) Train(events []RatingEvent) error {
	rctx := NewRatingContext(events)
	if rctx.Users() == 0 {
		return fmt.Errorf("cannot train collaborative model without ratings")
	}

	users := make([]int, 0, rctx.Users())
	for userID := range rctx.byUser {
		users = append(users, userID)
	}
	sort.Ints(users)

	m.userIndex = make(map[int]int, len(users))
	m.itemIndex = make(map[int]int)
	m.indexToItem = nil
	m.userRated = make(map[int]map[int]struct{}, len(users))

	var observed []observation
	for _, userID := range users {
		m.userIndex[userID] = len(m.userIndex)
		rated := make(map[int]struct{})
		for _, ev := range rctx.RatingsFor(userID) {
			if _, ok := m.itemIndex[ev.ItemID]; !ok {
				m.itemIndex[ev.ItemID] = len(m.indexToItem)
				m.indexToItem = append(m.indexToItem, ev.ItemID)
			}
			rated[ev.ItemID] = struct{}{}
			observed = append(observed, observation{
				user:   m.userIndex[userID],
				item:   m.itemIndex[ev.ItemID],
				rating: ev.Rating,
			})
		}
		m.userRated[userID] = rated
	}

	numFactors := m.cfg.Factors
	rng := rand.New(rand.NewSource(m.cfg.Seed))
	m.userFactors = randomFactors(rng, len(m.userIndex), numFactors)
	m.itemFactors = randomFactors(rng, len(m.indexToItem), numFactors)

	lr := m.cfg.LearningRate
	reg := m.cfg.Regularization

	prevRMSE := math.Inf(1)
	firstRMSE := 0.0
	iterations := 0

	for iter := 0; iter < m.cfg.MaxIterations; iter++ {
		iterations = iter + 1
		var sqErr float64
		for _, ob := range observed {
			p := m.userFactors[ob.user]
			q := m.itemFactors[ob.item]
			err := ob.rating - dot(p, q)
			sqErr += err * err
			for f := 0; f < numFactors; f++ {
				pf, qf := p[f], q[f]
				p[f] += lr * (err*qf - reg*pf)
				q[f] += lr * (err*pf - reg*qf)
			}
		}

		rmse := math.Sqrt(sqErr / float64(len(observed)))
		if math.IsNaN(rmse) || math.IsInf(rmse, 0) {
			return &TrainingDivergence{Iterations: iterations, LastRMSE: rmse}
		}
		if iter == 0 {
			firstRMSE = rmse
		}
		if math.Abs(prevRMSE-rmse) < m.cfg.Tolerance {
			m.logger.Debug("Collaborative training converged",
				slog.Int("iterations", iterations),
				slog.Float64("rmse", rmse))
			prevRMSE = rmse
			break
		}
		prevRMSE = rmse
	}

	if prevRMSE > firstRMSE && iterations > 1 {
		return &TrainingDivergence{Iterations: iterations, LastRMSE: prevRMSE}
	}

	m.logger.Debug("Collaborative model trained",
		slog.Int("users", len(m.userIndex)),
		slog.Int("items", len(m.indexToItem)),
		slog.Int("iterations", iterations),
		slog.Float64("rmse", prevRMSE))

	m.trained = true
	return nil
}

// randomFactors initializes a factor matrix with small random values.
func randomFactors(rng *rand.Rand, rows, cols int) [][]float64 {
	matrix := make([][]float64, rows)
	for i := range matrix {
		matrix[i] = make([]float64, cols)
		for f := range matrix[i] {
			matrix[i][f] = 0.1 * (rng.Float64() - 0.5)
		}
	}
	return matrix
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Recommend scores every candidate item the user has not rated as the
// dot product of the user's and item's latent vectors. A user absent
// from the training matrix yields an empty result.
func (m *CollaborativeModel) Recommend(userID, n int) ([]ScoredItem, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}

	ui, ok := m.userIndex[userID]
	if !ok {
		return nil, nil
	}

	userVec := m.userFactors[ui]
	rated := m.userRated[userID]

	result := make([]ScoredItem, 0, len(m.indexToItem)-len(rated))
	for ii, itemID := range m.indexToItem {
		if _, already := rated[itemID]; already {
			continue
		}
		result = append(result, ScoredItem{
			ItemID: itemID,
			Score:  dot(userVec, m.itemFactors[ii]),
		})
	}
	sortScored(result)
	if len(result) > n {
		result = result[:n]
	}
	return result, nil
}

// Predict returns the point estimate for one (user, item) cell. It is
// used for offline evaluation, not the serving hot path.
func (m *CollaborativeModel) Predict(userID, itemID int) (float64, error) {
	if !m.trained {
		return 0, ErrNotTrained
	}
	ui, ok := m.userIndex[userID]
	if !ok {
		return 0, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	ii, ok := m.itemIndex[itemID]
	if !ok {
		return 0, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	return dot(m.userFactors[ui], m.itemFactors[ii]), nil
}
