package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghsemantic/ingest/internal/batchstate"
	"github.com/ghsemantic/ingest/internal/embed"
	"github.com/ghsemantic/ingest/internal/item"
)

// fakeProvider is a hand-written embed.Provider: every item gets a
// deterministic 1-dimensional vector and a fixed per-item cost, so
// assertions don't depend on any real embedding backend.
type fakeProvider struct {
	budgetExhausted bool
}

func (f *fakeProvider) Dimension() int                { return 1 }
func (f *fakeProvider) PricePerMillionTokens() float64 { return 1 }

func (f *fakeProvider) EmbedRealtime(ctx context.Context, ids, texts []string, apiKey string) (embed.RealtimeResult, error) {
	if f.budgetExhausted {
		return embed.RealtimeResult{}, embed.ErrBudgetExhausted
	}
	embeddings := make([]embed.Embedding, len(ids))
	for i, id := range ids {
		embeddings[i] = embed.Embedding{ID: id, Vector: []float32{1}, Tokens: 1}
	}
	return embed.RealtimeResult{Embeddings: embeddings, CostUSD: float64(len(ids)) * 0.001}, nil
}

func writeReadme(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestEstimateCost_ZeroItems(t *testing.T) {
	assert.Equal(t, 0.0, EstimateCost(nil, 1.0))
}

func TestEstimateCost_ScalesWithCharsAndPrice(t *testing.T) {
	items := []item.Item{
		{ID: "a", Content: "aaaa"}, // 4 chars -> 1 token
		{ID: "b", Content: "bbbb"},
	}
	// 2 items * 1 token each = 2 tokens; price 1,000,000 per million
	// tokens, i.e. $1 per token.
	got := EstimateCost(items, 1_000_000)
	assert.InDelta(t, 2.0, got, 0.0001)
}

func TestOrchestrator_New_RejectsNeitherDriver(t *testing.T) {
	_, err := New(t.TempDir(), nil, nil, nil, nil, nil, Config{})
	assert.Error(t, err)
}

func TestOrchestrator_New_RejectsBothDrivers(t *testing.T) {
	keys := embed.NewKeyring([]string{"k"})
	realtime := embed.NewRealtimeDriver(&fakeProvider{}, keys, nil, embed.RealtimeConfig{})
	state, err := batchstate.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)
	batch := embed.NewBatchDriver(nil, nil, state, nil, nil, embed.BatchDriverConfig{})

	_, err = New(t.TempDir(), nil, realtime, batch, nil, nil, Config{})
	assert.Error(t, err, "exactly one driver must be set, not both")
}

func TestOrchestrator_Run_StopsGracefullyOnBudgetExhausted(t *testing.T) {
	dir := t.TempDir()
	writeReadme(t, dir, "foo_bar_master_README.md", "content long enough to embed")

	// The provider errors before any vector-store call is reached, so a
	// nil *vectorstore.Store inside the driver is never dereferenced.
	provider := &fakeProvider{budgetExhausted: true}
	keys := embed.NewKeyring([]string{"k"})
	driver := embed.NewRealtimeDriver(provider, keys, nil, embed.RealtimeConfig{Workers: 1})

	orc, err := New(dir, nil, driver, nil, nil, nil, Config{ChunkSize: 10})
	require.NoError(t, err)

	err = orc.Run(context.Background(), []string{"foo_bar_master_README.md"})
	assert.NoError(t, err, "budget exhaustion must not surface as an error")
}

func TestOrchestrator_Run_SkipsEmptyChunk(t *testing.T) {
	dir := t.TempDir()
	// A too-short file is dropped by the loader, leaving the chunk empty;
	// Run must not attempt to invoke either driver in that case.
	writeReadme(t, dir, "foo_bar_master_README.md", "hi")

	keys := embed.NewKeyring([]string{"k"})
	driver := embed.NewRealtimeDriver(&fakeProvider{}, keys, nil, embed.RealtimeConfig{Workers: 1})

	orc, err := New(dir, nil, driver, nil, nil, nil, Config{ChunkSize: 10})
	require.NoError(t, err)

	err = orc.Run(context.Background(), []string{"foo_bar_master_README.md"})
	assert.NoError(t, err)
}
