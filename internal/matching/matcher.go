package matching

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultThreshold is the minimum similarity a label needs to be accepted.
const DefaultThreshold = 0.75

// ErrDimensionMismatch is returned when the embedder produces vectors of
// different lengths within one request.
var ErrDimensionMismatch = errors.New("embedding dimensions do not match")

// Embedder maps texts to fixed-length vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Candidate is a visible form label paired with the id of the input it describes.
type Candidate struct {
	Text    string `json:"text"`
	InputID string `json:"input_id"`
}

// Normalized returns the canonical text used for scoring and claiming.
func (c Candidate) Normalized() string {
	return Normalize(c.Text)
}

// Match is the result of looking up a concept among candidate labels.
// When Accepted is false the concept must be left unfilled; Candidate and
// Score then describe the near miss, if there was any candidate at all.
type Match struct {
	Concept    string    `json:"concept"`
	Candidate  Candidate `json:"candidate"`
	Score      float64   `json:"score"`
	Accepted   bool      `json:"accepted"`
	Considered int       `json:"considered"`
}

// Matchable drops candidates whose text normalizes to nothing, such as a bare
// required-field marker.
func Matchable(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Normalized() != "" {
			out = append(out, c)
		}
	}
	return out
}

// HasCandidate reports whether any label was scored.
func (m Match) HasCandidate() bool {
	return m.Considered > 0
}

type Matcher struct {
	embedder  Embedder
	threshold float64
	logger    *zap.Logger
}

// NewMatcher returns a matcher using the embedder for similarity. A threshold
// of zero or below falls back to DefaultThreshold.
func NewMatcher(embedder Embedder, threshold float64, logger *zap.Logger) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Matcher{
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
	}
}

func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// FindBestMatch scores every unclaimed candidate against the concept and
// returns the best one. Ties keep the earliest candidate. The claims are
// only read. A concept or label without any matchable text is never scored.
func (m *Matcher) FindBestMatch(ctx context.Context, concept string, candidates []Candidate, claims *Claims) (Match, error) {
	result := Match{Concept: concept}

	query := Normalize(concept)
	if query == "" {
		return result, nil
	}

	available := Matchable(claims.Unclaimed(candidates))
	result.Considered = len(available)
	if len(available) == 0 {
		return result, nil
	}

	texts := make([]string, 0, len(available)+1)
	for _, candidate := range available {
		texts = append(texts, candidate.Normalized())
	}
	texts = append(texts, query)

	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return result, fmt.Errorf("embed labels: %w", err)
	}
	if len(vectors) != len(texts) {
		return result, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	scores, err := Scores(vectors[len(vectors)-1], vectors[:len(vectors)-1])
	if err != nil {
		return result, err
	}

	idx := Best(scores)
	result.Candidate = available[idx]
	result.Score = scores[idx]
	result.Accepted = result.Score >= m.threshold

	if ce := m.logger.Check(zap.DebugLevel, "scored candidate labels"); ce != nil {
		ranked := make(map[string]float64, len(scores))
		for i, s := range scores {
			ranked[texts[i]] = s
		}
		ce.Write(
			zap.String("concept", concept),
			zap.Any("scores", ranked),
			zap.String("best", result.Candidate.Normalized()),
			zap.Float64("score", result.Score),
		)
	}

	return result, nil
}

// Scores returns the inner product of query with every vector.
func Scores(query []float32, vectors [][]float32) ([]float64, error) {
	scores := make([]float64, len(vectors))
	for i, vec := range vectors {
		if len(vec) != len(query) {
			return nil, fmt.Errorf("%w: label %d has %d, concept has %d", ErrDimensionMismatch, i, len(vec), len(query))
		}
		var dot float64
		for j := range vec {
			dot += float64(vec[j]) * float64(query[j])
		}
		scores[i] = dot
	}
	return scores, nil
}

// Best returns the index of the highest score, keeping the first on ties.
// It returns -1 for an empty slice.
func Best(scores []float64) int {
	best := -1
	for i, s := range scores {
		if best == -1 || s > scores[best] {
			best = i
		}
	}
	return best
}
