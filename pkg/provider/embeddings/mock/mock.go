// Package mock provides a test double for the embeddings.Provider interface.
//
// The default behaviour is deterministic: each text hashes to a fixed unit
// vector, so identical texts embed identically across calls without a live
// backend.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/hireloop-ai/hireloop/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Text is the string passed to Embed.
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	// Texts is a copy of the slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dim is the vector dimensionality. Zero defaults to 8.
	Dim int

	// Vectors, if non-nil, maps exact input text to a fixed vector. Texts not
	// present fall back to the deterministic hash embedding.
	Vectors map[string][]float32

	// EmbedErr, if non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall

	// EmbedBatchCalls records every call to EmbedBatch in order.
	EmbedBatchCalls []EmbedBatchCall
}

// Embed records the call and returns a deterministic vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
	err := p.EmbedErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return p.vectorFor(text), nil
}

// EmbedBatch records the call and returns deterministic vectors for texts.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Texts: cp})
	err := p.EmbedErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dim > 0 {
		return p.Dim
	}
	return 8
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embedding" }

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

// vectorFor returns the configured vector for text, or a unit vector derived
// from an FNV hash of the text.
func (p *Provider) vectorFor(text string) []float32 {
	p.mu.Lock()
	if v, ok := p.Vectors[text]; ok {
		p.mu.Unlock()
		cp := make([]float32, len(v))
		copy(cp, v)
		return cp
	}
	p.mu.Unlock()

	dim := p.Dimensions()
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		f := float64(int64(seed>>11)) / float64(1<<52)
		v[i] = float32(f)
		norm += f * f
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
