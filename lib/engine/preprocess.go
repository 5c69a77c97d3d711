package engine

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// ratingScale is the fixed range of the TMDb vote average.
const ratingScale = 10.0

// Bounds holds the normalization constants fixed at training time.
// Applying a query-time value against bounds from a different run skews
// similarity comparisons, so they are persisted with the model that
// produced them.
type Bounds struct {
	MaxPopularity float64 `json:"max_popularity"`
	MaxVoteCount  float64 `json:"max_vote_count"`
	RatingScale   float64 `json:"rating_scale"`
}

// FeatureVector is the fixed-dimensionality numeric representation of
// one item: sparse TF-IDF term weights, a genre multi-hot block, and
// normalized numeric stats.
type FeatureVector struct {
	Terms   map[int]float64 `json:"terms"`
	Genres  []float64       `json:"genres"`
	Numeric []float64       `json:"numeric"`
}

// norm returns the Euclidean norm of the combined vector.
func (v FeatureVector) norm() float64 {
	var sum float64
	for _, w := range v.Terms {
		sum += w * w
	}
	for _, g := range v.Genres {
		sum += g * g
	}
	for _, n := range v.Numeric {
		sum += n * n
	}
	return math.Sqrt(sum)
}

// Cosine computes cosine similarity over the combined vector.
func (v FeatureVector) Cosine(other FeatureVector) float64 {
	var dot float64
	// Iterate the smaller sparse map.
	a, b := v.Terms, other.Terms
	if len(b) < len(a) {
		a, b = b, a
	}
	for idx, w := range a {
		if ow, ok := b[idx]; ok {
			dot += w * ow
		}
	}
	for i := range v.Genres {
		if i < len(other.Genres) {
			dot += v.Genres[i] * other.Genres[i]
		}
	}
	for i := range v.Numeric {
		if i < len(other.Numeric) {
			dot += v.Numeric[i] * other.Numeric[i]
		}
	}

	na, nb := v.norm(), other.norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

// Preprocessor derives feature vectors from catalog items. Its
// vocabulary, genre index and bounds are frozen by Fit for one training
// run and serialized with the content model.
type Preprocessor struct {
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	GenreIndex map[string]int `json:"genre_index"`
	Bounds     Bounds         `json:"bounds"`
}

// Fit computes the term vocabulary, inverse document frequencies, genre
// index and normalization bounds from the catalog.
func (p *Preprocessor) Fit(items []Item) {
	df := make(map[string]int)
	genres := make(map[string]struct{})
	bounds := Bounds{RatingScale: ratingScale}

	for _, item := range items {
		seen := make(map[string]struct{})
		for _, tok := range tokenize(item.FeatureText()) {
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
		for _, g := range item.Genres {
			genres[normalizeGenre(g)] = struct{}{}
		}
		if item.Popularity > bounds.MaxPopularity {
			bounds.MaxPopularity = item.Popularity
		}
		if float64(item.VoteCount) > bounds.MaxVoteCount {
			bounds.MaxVoteCount = float64(item.VoteCount)
		}
	}

	// Assign indices in sorted order so repeated runs over the same
	// catalog produce identical vectors.
	terms := make([]string, 0, len(df))
	for tok := range df {
		terms = append(terms, tok)
	}
	sort.Strings(terms)

	p.Vocabulary = make(map[string]int, len(terms))
	p.IDF = make([]float64, len(terms))
	n := float64(len(items))
	for i, tok := range terms {
		p.Vocabulary[tok] = i
		// Smoothed IDF keeps weights finite for terms in every document.
		p.IDF[i] = math.Log((1+n)/(1+float64(df[tok]))) + 1
	}

	genreNames := make([]string, 0, len(genres))
	for g := range genres {
		genreNames = append(genreNames, g)
	}
	sort.Strings(genreNames)
	p.GenreIndex = make(map[string]int, len(genreNames))
	for i, g := range genreNames {
		p.GenreIndex[g] = i
	}

	p.Bounds = bounds
}

// Vector produces the feature vector for one item using the frozen
// vocabulary and bounds.
func (p *Preprocessor) Vector(item Item) FeatureVector {
	tf := make(map[int]int)
	total := 0
	for _, tok := range tokenize(item.FeatureText()) {
		idx, ok := p.Vocabulary[tok]
		if !ok {
			continue
		}
		tf[idx]++
		total++
	}

	terms := make(map[int]float64, len(tf))
	for idx, count := range tf {
		terms[idx] = (float64(count) / float64(max(total, 1))) * p.IDF[idx]
	}

	genreVec := make([]float64, len(p.GenreIndex))
	for _, g := range item.Genres {
		if idx, ok := p.GenreIndex[normalizeGenre(g)]; ok {
			genreVec[idx] = 1
		}
	}

	numeric := []float64{
		safeDiv(item.Popularity, p.Bounds.MaxPopularity),
		item.VoteAverage / p.Bounds.RatingScale,
		safeDiv(float64(item.VoteCount), p.Bounds.MaxVoteCount),
	}

	return FeatureVector{Terms: terms, Genres: genreVec, Numeric: numeric}
}

// tokenize lowercases text and splits on non-alphanumeric runes,
// dropping single-character fragments.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func normalizeGenre(g string) string {
	return strings.ToLower(strings.TrimSpace(g))
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
