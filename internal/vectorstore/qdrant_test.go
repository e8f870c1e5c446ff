//go:build integration

package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	store, err := NewStore("localhost", 6334, 1536)
	if err != nil {
		t.Skipf("qdrant not available: %v", err)
	}
	require.NoError(t, store.EnsureCollection(context.Background()))
	return store
}

func TestUpsertAndScroll_Deduplication(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	id := uuid.New().String()
	vec := make([]float32, 1536)
	vec[0] = 1

	point := Point{ID: id, Vector: vec, RepoName: "foo/bar", ContentHash: "deadbeef"}

	require.NoError(t, store.Upsert(ctx, []Point{point}))
	require.NoError(t, store.Upsert(ctx, []Point{point})) // idempotent re-upsert of the same ID

	ids, err := store.ExistingIDs(ctx)
	require.NoError(t, err)
	assert.True(t, ids[id])
}

func TestUpsert_RejectsDimensionMismatch(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	bad := Point{ID: uuid.New().String(), Vector: make([]float32, 10), RepoName: "foo/bar", ContentHash: "x"}
	err := store.Upsert(context.Background(), []Point{bad})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
