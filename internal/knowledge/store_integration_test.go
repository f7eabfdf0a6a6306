//go:build integration
// +build integration

package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzhavan/uzhavan/internal/log"
	"github.com/uzhavan/uzhavan/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	embedder := testutil.NewMockEmbedder(VectorDimension)
	return NewStore(db.Pool, embedder, log.NewNop()), cleanup
}

func TestStore_AddAndSearch_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	docs := []Document{
		{ID: "paddy-1", Content: "Paddy transplanting works best 25 days after sowing.", SourceRef: "guides/paddy.md"},
		{ID: "chilli-1", Content: "Chilli seedlings need partial shade for the first week.", SourceRef: "guides/chilli.md"},
		{ID: "banana-1", Content: "Banana suckers are planted at the onset of monsoon.", SourceRef: "guides/banana.md"},
	}
	for _, d := range docs {
		require.NoError(t, store.Add(ctx, d))
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Identical text embeds identically, so the exact document ranks first.
	results, err := store.Search(ctx, "Paddy transplanting works best 25 days after sowing.",
		WithTopK(3))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "paddy-1", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.01)
	assert.Equal(t, "guides/paddy.md", results[0].Document.SourceRef)

	// Similarity descends.
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Similarity, results[i-1].Similarity)
	}
}

func TestStore_SearchTopK_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, store.Add(ctx, Document{
			ID:      string(rune('a' + i)),
			Content: "document number " + string(rune('a'+i)),
		}))
	}

	results, err := store.Search(ctx, "document", WithTopK(2))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStore_SearchFilter_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{
		ID: "d1", Content: "drip irrigation saves water",
		Metadata: map[string]string{"crop": "tomato"},
	}))
	require.NoError(t, store.Add(ctx, Document{
		ID: "d2", Content: "flood irrigation for paddy fields",
		Metadata: map[string]string{"crop": "paddy"},
	}))

	results, err := store.Search(ctx, "irrigation", WithFilter("crop", "paddy"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].Document.ID)
	assert.Equal(t, "paddy", results[0].Document.Metadata["crop"])
}

func TestStore_Upsert_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{ID: "doc", Content: "old content"}))
	require.NoError(t, store.Add(ctx, Document{ID: "doc", Content: "new content"}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	results, err := store.Search(ctx, "new content", WithTopK(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new content", results[0].Document.Content)
}

func TestStore_DeleteBySource_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, Document{ID: "a#0", Content: "one", SourceRef: "a.md"}))
	require.NoError(t, store.Add(ctx, Document{ID: "a#1", Content: "two", SourceRef: "a.md"}))
	require.NoError(t, store.Add(ctx, Document{ID: "b#0", Content: "three", SourceRef: "b.md"}))

	deleted, err := store.DeleteBySource(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_EmptySearch_Integration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	results, err := store.Search(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
}
