// Package embeddingstest provides deterministic embedders for tests.
package embeddingstest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// Fake maps each lower-cased word to a fixed dimension and returns the
// normalised bag-of-words vector, so texts sharing words are similar.
// Vectors registered with Set take precedence.
type Fake struct {
	Dims int
	Err  error

	mu    sync.Mutex
	fixed map[string][]float32
	calls int
}

func New(dims int) *Fake {
	return &Fake{Dims: dims, fixed: map[string][]float32{}}
}

// Set pins the vector returned for text
func (f *Fake) Set(text string, v []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixed[text] = v
}

// Calls counts non-blank embedding requests
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return []float32{}, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if v, ok := f.fixed[text]; ok {
		return v, nil
	}
	return f.bagOfWords(text), nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *Fake) bagOfWords(text string) []float32 {
	dims := f.Dims
	if dims <= 0 {
		dims = 64
	}
	v := make([]float32, dims)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
