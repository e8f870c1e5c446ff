//go:build integration

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghsemantic/ingest/internal/embed"
	"github.com/ghsemantic/ingest/internal/progress"
	"github.com/ghsemantic/ingest/internal/vectorstore"
)

func TestOrchestrator_Run_EmbedsAndUpsertsAgainstRealQdrant(t *testing.T) {
	store, err := vectorstore.NewStore("localhost", 6334, 1)
	if err != nil {
		t.Skipf("qdrant not available: %v", err)
	}
	defer store.Close()
	require.NoError(t, store.EnsureCollection(context.Background()))

	dir := t.TempDir()
	writeReadme(t, dir, "foo_bar_master_README.md", "first repo content long enough to embed")
	writeReadme(t, dir, "baz_qux_main_README.md", "second repo content long enough to embed")

	keys := embed.NewKeyring([]string{"k"})
	driver := embed.NewRealtimeDriver(&fakeProvider{}, keys, store, embed.RealtimeConfig{Workers: 2})

	prog := progress.New()
	existingIDs := make(map[string]bool)
	orc, err := New(dir, existingIDs, driver, nil, prog, nil, Config{ChunkSize: 10})
	require.NoError(t, err)

	err = orc.Run(context.Background(), []string{"foo_bar_master_README.md", "baz_qux_main_README.md"})
	require.NoError(t, err)

	assert.Len(t, existingIDs, 2)
	snap := prog.Snapshot()
	assert.Equal(t, 2, snap.Embedded)

	ids, err := store.ExistingIDs(context.Background())
	require.NoError(t, err)
	for id := range existingIDs {
		assert.True(t, ids[id])
	}
}
