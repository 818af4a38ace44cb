package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"memcore/internal/repository"
)

// Fake is a deterministic bag-of-words embedder for tests and local
// development. Similar texts produce similar vectors, which is enough
// to exercise ranking and neighbor retrieval without a live model.
type Fake struct {
	dimension int
}

var _ repository.Embedder = (*Fake)(nil)

// NewFake creates a fake embedder with the given dimension.
func NewFake(dimension int) *Fake {
	if dimension <= 0 {
		dimension = 64
	}
	return &Fake{dimension: dimension}
}

func (f *Fake) Dimension() int {
	return f.dimension
}

// Embed hashes each token into a dimension bucket and normalizes each
// result to unit length.
func (f *Fake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, f.dimension)
		for _, token := range strings.Fields(strings.ToLower(text)) {
			token = strings.Trim(token, ".,;:!?\"'()[]")
			if token == "" {
				continue
			}
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[int(h.Sum32())%f.dimension]++
		}

		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		vecs[i] = vec
	}
	return vecs, nil
}
