package matching

// Claims is the set of normalized label texts already consumed during one fill
// run. It only grows: a claimed label is never offered as a candidate again.
// Claims is not safe for concurrent use; a run owns exactly one.
type Claims struct {
	labels map[string]struct{}
	order  []string
}

// NewClaims returns an empty set for a new run.
func NewClaims() *Claims {
	return &Claims{labels: make(map[string]struct{})}
}

// Has reports whether the normalized label text was already claimed.
func (c *Claims) Has(normalized string) bool {
	if c == nil {
		return false
	}
	_, ok := c.labels[normalized]
	return ok
}

// Claim records the normalized label text. Claiming twice is a no-op.
func (c *Claims) Claim(normalized string) {
	if c.labels == nil {
		c.labels = make(map[string]struct{})
	}
	if _, ok := c.labels[normalized]; ok {
		return
	}
	c.labels[normalized] = struct{}{}
	c.order = append(c.order, normalized)
}

func (c *Claims) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Labels returns the claimed labels in claim order.
func (c *Claims) Labels() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Unclaimed returns the candidates whose normalized text is not claimed yet,
// preserving their order.
func (c *Claims) Unclaimed(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if c.Has(candidate.Normalized()) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}
