// Package embedding turns text into fixed-dimension unit vectors for
// cosine similarity. The remote model is preferred when configured; the
// deterministic hash fallback keeps the graph functional (and stable
// across restarts) without one.
package embedding

import (
	"gonum.org/v1/gonum/floats"

	"github.com/vthunder/plexus/internal/logging"
)

// DefaultDims matches the common small sentence-embedding models
const DefaultDims = 384

// Embedder generates a vector for a text
type Embedder interface {
	Embed(text string) ([]float64, error)
	Dimensions() int
	Name() string
}

// New picks the embedder: remote when a URL or model is configured,
// wrapped so remote failures degrade to the hash fallback instead of
// failing the capture pipeline.
func New(baseURL, model string, dims int) Embedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	fallback := NewHashEmbedder(dims)
	if baseURL == "" && model == "" {
		return fallback
	}
	return &resilient{
		primary:  NewClient(baseURL, model),
		fallback: fallback,
	}
}

// resilient tries the remote model first and silently degrades
type resilient struct {
	primary  *Client
	fallback *HashEmbedder
	warned   bool
}

func (r *resilient) Embed(text string) ([]float64, error) {
	vec, err := r.primary.Embed(text)
	if err == nil {
		return vec, nil
	}
	if !r.warned {
		logging.Warn("embedding", "remote embedder unavailable, using hash fallback: %v", err)
		r.warned = true
	}
	return r.fallback.Embed(text)
}

func (r *resilient) Dimensions() int { return r.fallback.Dimensions() }
func (r *resilient) Name() string    { return r.primary.Name() + "+fallback" }

// CosineSimilarity computes similarity between two embeddings (-1 to 1).
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
