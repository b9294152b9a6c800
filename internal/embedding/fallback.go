package embedding

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
	"gonum.org/v1/gonum/floats"
)

// HashEmbedder is the deterministic bag-of-words fallback: each token is
// hashed with blake3 (seed-free, so identical text embeds identically
// across process restarts) into one of dims buckets with a ±1 sign,
// weighted by 1+ln(tf), then L2-normalized. Go's randomized map hash must
// never decide bucket placement.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a fallback embedder with the given dimension
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &HashEmbedder{dims: dims}
}

// Embed projects the text into a unit vector. Empty or stopword-only text
// yields the zero vector (cosine 0 against everything).
func (h *HashEmbedder) Embed(text string) ([]float64, error) {
	vec := make([]float64, h.dims)

	tf := make(map[string]int)
	for _, tok := range Tokenize(text) {
		tf[tok]++
	}
	if len(tf) == 0 {
		return vec, nil
	}

	for tok, n := range tf {
		bucket, sign := h.place(tok)
		vec[bucket] += sign * (1 + math.Log(float64(n)))
	}

	norm := floats.Norm(vec, 2)
	if norm > 0 {
		floats.Scale(1/norm, vec)
	}
	return vec, nil
}

func (h *HashEmbedder) Dimensions() int { return h.dims }
func (h *HashEmbedder) Name() string    { return "hash-tfidf" }

// place maps a token to its bucket and sign from the blake3 digest
func (h *HashEmbedder) place(token string) (int, float64) {
	sum := blake3.Sum256([]byte(token))
	bucket := int(binary.BigEndian.Uint64(sum[:8]) % uint64(h.dims))
	sign := 1.0
	if sum[8]&1 == 1 {
		sign = -1.0
	}
	return bucket, sign
}

// Tokenize lowercases and splits on non-alphanumeric runs, dropping
// stopwords and one-character fragments. Whitespace shape does not affect
// the result.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// stopwords that carry no topical signal; mixing languages because prompts
// do too.
var stopwords = map[string]bool{
	"in": true, "on": true, "at": true, "to": true, "of": true,
	"is": true, "it": true, "as": true, "be": true, "by": true,
	"or": true, "an": true, "if": true, "so": true, "do": true,
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "were": true,
	"have": true, "has": true, "had": true, "will": true, "would": true,
	"can": true, "could": true, "should": true, "not": true, "but": true,
	"you": true, "your": true, "its": true, "it's": true, "into": true,
	"les": true, "des": true, "une": true, "est": true, "pour": true,
	"dans": true, "avec": true, "sur": true, "que": true, "qui": true,
	"los": true, "las": true, "una": true, "por": true, "para": true,
	"con": true, "del": true, "como": true,
}
