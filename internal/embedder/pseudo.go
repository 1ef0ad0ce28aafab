// Package embedder supplies vectorstore.EmbeddingGenerator implementations:
// a deterministic hash-based fallback for offline mode (spec.md §4.3) and a
// real client backed by an OpenAI-compatible embeddings endpoint.
package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Pseudo is a deterministic, offline embedding generator: it hashes each
// token of the input into a fixed-dimension vector and L2-normalizes the
// result. Same text always yields the same vector, and unrelated texts land
// far apart with high probability, which is all the in-memory and SQL
// backends' cosine/L2 search need to exercise correctly without a network
// dependency.
type Pseudo struct {
	dimensions int
}

// NewPseudo returns a Pseudo generator producing vectors of the given
// dimensionality (spec.md default 1024, see config.VectorConfig.Dimensions).
func NewPseudo(dimensions int) *Pseudo {
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &Pseudo{dimensions: dimensions}
}

func (p *Pseudo) Dimensions() int { return p.dimensions }

// Embed never fails: it is a pure function of text and p.dimensions.
func (p *Pseudo) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for _, tok := range tokens {
		for i := 0; i < 3; i++ {
			h := fnv.New64a()
			h.Write([]byte(tok))
			h.Write([]byte{byte(i)})
			sum := h.Sum64()
			idx := int(sum % uint64(p.dimensions))
			// Map the remaining bits to a signed unit contribution so tokens
			// push the vector in varied directions rather than only ever
			// adding positive weight to one bucket.
			sign := float32(1)
			if sum&(1<<63) != 0 {
				sign = -1
			}
			mag := float32(sum%1000) / 1000
			vec[idx] += sign * (0.25 + mag)
		}
	}
	normalize(vec)
	return vec, nil
}

func tokenize(text string) []string {
	var tokens []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			cur = append(cur, lower(c))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}
