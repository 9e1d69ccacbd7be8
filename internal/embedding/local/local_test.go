package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedDeterministic(t *testing.T) {
	e := NewEmbedder(64)
	ctx := context.Background()

	a, err := e.EmbedQuery(ctx, "vector databases store embeddings")
	require.NoError(t, err)
	b, err := e.EmbedQuery(ctx, "vector databases store embeddings")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedNormalized(t *testing.T) {
	e := NewEmbedder(64)
	vec, err := e.EmbedQuery(context.Background(), "some reasonable amount of text to hash")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestEmbedBatchOrderAndDims(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimensions, e.Dimensions())

	vecs, err := e.EmbedBatch(context.Background(), []string{"first text", "second text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, DefaultDimensions)
	}
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestEmbedEmptyText(t *testing.T) {
	e := NewEmbedder(16)
	vec, err := e.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vec, 16)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestSimilarTextsScoreHigher(t *testing.T) {
	e := NewEmbedder(256)
	ctx := context.Background()
	base, _ := e.EmbedQuery(ctx, "database stores document embeddings")
	near, _ := e.EmbedQuery(ctx, "document embeddings stored database")
	far, _ := e.EmbedQuery(ctx, "weather forecast rain tomorrow morning")

	assert.Greater(t, dot(base, near), dot(base, far))
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
