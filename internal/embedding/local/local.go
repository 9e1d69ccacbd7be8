package local

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"docrag/internal/domain"
)

// DefaultDimensions matches the remote embedder default so local and remote
// runs can share index settings.
const DefaultDimensions = 768

// Embedder is a deterministic feature-hashing vectorizer. Tokens are hashed
// into a fixed number of buckets and term-frequency weighted, so no corpus
// preparation or network calls are needed. Useful for local runs and tests;
// quality is far below a real embedding model.
type Embedder struct {
	dimension    int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewEmbedder creates a hashing embedder with the given dimensionality.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimensions
	}
	return &Embedder{
		dimension:    dimension,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		stopwords:    defaultStopwords(),
	}
}

func (e *Embedder) Name() string { return "local" }

func (e *Embedder) Dimensions() int { return e.dimension }

// EmbedBatch embeds each text independently; output order matches input.
func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	vecs := make([][]float64, len(texts))
	for i, t := range texts {
		vecs[i] = e.embed(t)
	}
	return vecs, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float64, error) {
	return e.embed(text), nil
}

func (e *Embedder) embed(text string) []float64 {
	vec := make([]float64, e.dimension)
	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return vec
	}
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		idx := int(h.Sum32()) % e.dimension
		if idx < 0 {
			idx += e.dimension
		}
		// sign bit from a second hash spreads mass across both directions
		if h.Sum32()&1 == 0 {
			vec[idx] += 1.0
		} else {
			vec[idx] -= 1.0
		}
	}
	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var _ domain.Embedder = (*Embedder)(nil)
