package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Fake is a deterministic in-process embedder for tests and dev mode.
// Identical texts always embed to identical unit vectors; fixtures can pin
// exact vectors per text.
type Fake struct {
	dims    int
	Fixed   map[string][]float32
	Err     error
	Calls   []string
}

// NewFake creates a fake embedder with the given dimension.
func NewFake(dims int) *Fake {
	return &Fake{dims: dims, Fixed: make(map[string][]float32)}
}

func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	f.Calls = append(f.Calls, text)
	if f.Err != nil {
		return nil, f.Err
	}
	if vec, ok := f.Fixed[text]; ok {
		return vec, nil
	}
	// Pseudo-random but stable direction derived from the text.
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, f.dims)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed>>11))/float64(1<<52) - 1
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (f *Fake) Dimension() int { return f.dims }
func (f *Fake) Model() string  { return "fake" }
