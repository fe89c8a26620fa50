// Package embedding holds the text embedding providers used to compare form
// labels with concepts, and helpers shared by them.
package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sync"
)

// Embedder maps texts to vectors, one per text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Named is implemented by providers that can identify their model.
type Named interface {
	Model() string
}

// Cache remembers vectors per text so labels re-queried for every concept are
// embedded once per run. Misses are forwarded to the next embedder in a single
// batch.
type Cache struct {
	next  Embedder
	model string

	mu sync.RWMutex
	m  map[string][]float32

	hits   int
	misses int
}

func NewCache(next Embedder) *Cache {
	model := ""
	if named, ok := next.(Named); ok {
		model = named.Model()
	}
	return &Cache{next: next, model: model, m: make(map[string][]float32)}
}

func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	seen := make(map[string][]int)

	c.mu.RLock()
	for i, text := range texts {
		if vec, ok := c.m[c.key(text)]; ok {
			out[i] = clone(vec)
			continue
		}
		if _, dup := seen[text]; !dup {
			missing = append(missing, text)
		}
		seen[text] = append(seen[text], i)
		missingIdx = append(missingIdx, i)
	}
	c.mu.RUnlock()

	c.mu.Lock()
	c.hits += len(texts) - len(missingIdx)
	c.misses += len(missing)
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missing))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, text := range missing {
		c.m[c.key(text)] = clone(vectors[i])
		for _, idx := range seen[text] {
			out[idx] = clone(vectors[i])
		}
	}

	return out, nil
}

// Stats returns the number of texts served from memory and the number of
// texts sent to the underlying provider.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) Model() string {
	return c.model
}

func (c *Cache) key(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.model)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize scales vec to unit length in place. Zero vectors are left as is.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func clone(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
