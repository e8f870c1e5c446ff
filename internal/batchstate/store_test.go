package batchstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "batches.json"))
	require.NoError(t, err)
	assert.Empty(t, store.All())
}

func TestStore_PutGetDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.json")
	store, err := Open(path)
	require.NoError(t, err)

	b := Batch{
		Items:     []ItemRef{{ID: "a", Repo: "foo/bar", ContentHash: "deadbeef"}},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put("batch-1", b))

	got, ok := store.Get("batch-1")
	require.True(t, ok)
	assert.Equal(t, b.Items, got.Items)

	require.NoError(t, store.Delete("batch-1"))
	_, ok = store.Get("batch-1")
	assert.False(t, ok)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batches.json")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Put("batch-1", Batch{
		Items: []ItemRef{{ID: "a", Repo: "foo/bar", ContentHash: "x"}},
	}))

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	got, ok := reopened.Get("batch-1")
	require.True(t, ok)
	assert.Len(t, got.Items, 1)
}

func TestShouldRetain(t *testing.T) {
	cases := []struct {
		name               string
		total, failed      int
		wantRetain         bool
	}{
		{"small batch always dropped", 40, 40, false},
		{"large batch high success dropped", 1000, 5, false},   // 99.5% success
		{"large batch low success retained", 1000, 50, true},   // 95% success
		{"exactly 99% dropped", 1000, 10, false},
		{"just under 99% retained", 1000, 11, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantRetain, ShouldRetain(tc.total, tc.failed))
		})
	}
}
