package searchindex

import (
	"context"
	"strings"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// letterFreqEmbedding is a deterministic stand-in for a real embedding model:
// the vector is the normalized frequency of each letter a-z. Texts sharing
// vocabulary land close together, which is enough to test retrieval order.
func letterFreqEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 26)
	var total float32
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
			total++
		}
	}
	if total > 0 {
		for i := range vec {
			vec[i] /= total
		}
	}
	return vec, nil
}

func newTestIndex() *Index {
	return NewInMemory(chromem.EmbeddingFunc(letterFreqEmbedding))
}

func TestIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()

	require.NoError(t, idx.IndexMessage(ctx, "user-1", "s1", "m1", "invoice invoice invoice template"))
	require.NoError(t, idx.IndexMessage(ctx, "user-1", "s2", "m2", "zzz qqq xxx jjj"))

	results, err := idx.Search(ctx, "user-1", "invoice template", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].MessageID)
	assert.Equal(t, "s1", results[0].SessionID)
	assert.Equal(t, "invoice invoice invoice template", results[0].Content)
	assert.Greater(t, results[0].Score, float32(0))
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := newTestIndex()

	results, err := idx.Search(context.Background(), "user-1", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchClampsKToCount(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()

	require.NoError(t, idx.IndexMessage(ctx, "user-1", "s1", "m1", "hello world"))

	results, err := idx.Search(ctx, "user-1", "hello", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestReindexOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()

	require.NoError(t, idx.IndexMessage(ctx, "user-1", "s1", "m1", "first draft"))
	require.NoError(t, idx.IndexMessage(ctx, "user-1", "s1", "m1", "second draft"))

	results, err := idx.Search(ctx, "user-1", "draft", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second draft", results[0].Content)
}

func TestCollectionsAreScopedPerUser(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex()

	require.NoError(t, idx.IndexMessage(ctx, "user-1", "s1", "m1", "private note about taxes"))

	results, err := idx.Search(ctx, "user-2", "taxes", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
