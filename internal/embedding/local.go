package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalProvider is a deterministic, network-free embedder. It hashes
// word tokens into a fixed-size bag-of-words vector and L2-normalizes
// it, so identical text always embeds identically and overlapping text
// scores high on cosine similarity. Suitable for tests and offline
// deployments, not for semantic quality.
type LocalProvider struct {
	dim int
}

func NewLocal(dim int) *LocalProvider {
	if dim <= 0 {
		dim = 256
	}
	return &LocalProvider{dim: dim}
}

func (p *LocalProvider) Dimension() int { return p.dim }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dim)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%p.dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
