// Package local provides an offline embedder built from hashed word and
// character trigram features. It needs no network access, which makes it the
// provider for dry runs and tests; its similarity is lexical, not semantic.
package local

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/spigell/form-filler/internal/embedding"
)

const (
	DefaultDimensions = 512
	model             = "local-trigram"

	wordWeight    = 2.0
	trigramWeight = 1.0
)

type Embedder struct {
	dims int
}

func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

func (e *Embedder) Model() string {
	return model
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vec
	}

	for _, word := range strings.Fields(text) {
		e.add(vec, "w:"+word, wordWeight)
	}

	padded := []rune(" " + text + " ")
	for i := 0; i+3 <= len(padded); i++ {
		e.add(vec, "c:"+string(padded[i:i+3]), trigramWeight)
	}

	return embedding.Normalize(vec)
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
