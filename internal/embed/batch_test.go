package embed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghsemantic/ingest/internal/batchstate"
	"github.com/ghsemantic/ingest/internal/item"
)

// fakeBatchProvider is a hand-written BatchProvider: no httptest fixture
// exists for Nebius's batch API, so every call is driven entirely by the
// table below rather than real HTTP.
type fakeBatchProvider struct {
	mu         sync.Mutex
	nextID     int
	statuses   map[string][]BatchStatus // per-batch status sequence, one per GetBatchStatus call
	pollCounts map[string]int
	failIDs    map[string]bool // item IDs to report as failed in DownloadResults
	active     atomic.Int32
	maxActive  atomic.Int32
}

func newFakeBatchProvider() *fakeBatchProvider {
	return &fakeBatchProvider{
		statuses:   make(map[string][]BatchStatus),
		pollCounts: make(map[string]int),
		failIDs:    make(map[string]bool),
	}
}

func (f *fakeBatchProvider) Dimension() int { return 4 }

func (f *fakeBatchProvider) UploadManifest(ctx context.Context, ndjson []byte) (string, error) {
	return "file-1", nil
}

func (f *fakeBatchProvider) CreateBatch(ctx context.Context, fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active.Add(1)
	if cur := f.active.Load(); cur > f.maxActive.Load() {
		f.maxActive.Store(cur)
	}
	f.nextID++
	id := "batch-" + string(rune('a'+f.nextID-1))
	f.statuses[id] = []BatchStatus{BatchInProgress, BatchCompleted}
	return id, nil
}

func (f *fakeBatchProvider) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, BatchProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.statuses[batchID]
	i := f.pollCounts[batchID]
	if i >= len(seq) {
		i = len(seq) - 1
	}
	f.pollCounts[batchID] = i + 1
	status := seq[i]
	if status.IsTerminal() {
		f.active.Add(-1)
	}
	return status, BatchProgress{Completed: i, Total: len(seq)}, nil
}

func (f *fakeBatchProvider) DownloadResults(ctx context.Context, batchID string) (BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := BatchResult{Embeddings: make(map[string][]float32), Failed: make(map[string]string)}
	for id := range f.failIDs {
		result.Failed[id] = "fake: failed"
	}
	return result, nil
}

func mkItemsWithIDs(ids ...string) []item.Item {
	items := make([]item.Item, len(ids))
	for i, id := range ids {
		items[i] = item.Item{ID: id, Repo: "x/y", Content: "some content", ContentHash: "h"}
	}
	return items
}

func noopManifest(ids, texts []string) ([]byte, error) { return []byte("{}\n"), nil }

func TestChunkItems_SplitsEvenlyWithRemainder(t *testing.T) {
	items := mkItemsWithIDs("a", "b", "c", "d", "e")
	chunks := chunkItems(items, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 1)
}

func TestChunkItems_SingleChunkWhenSmallerThanSize(t *testing.T) {
	items := mkItemsWithIDs("a", "b")
	chunks := chunkItems(items, 100)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0], 2)
}

func TestBatchDriver_SubmitAndWait_RespectsParallelCap(t *testing.T) {
	provider := newFakeBatchProvider()
	state, err := batchstate.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)

	d := NewBatchDriver(provider, noopManifest, state, nil, nil, BatchDriverConfig{
		ChunkSize:    2,
		Parallel:     2,
		PollInterval: time.Millisecond,
	})

	items := mkItemsWithIDs("a", "b", "c", "d", "e", "f", "g", "h")
	err = d.SubmitAndWait(context.Background(), items)
	require.NoError(t, err)

	assert.LessOrEqual(t, provider.maxActive.Load(), int32(2))

	embedded, failed := d.Snapshot()
	assert.Equal(t, 0, embedded)
	assert.Equal(t, 0, failed)

	// Every batch completed with zero failures on a small chunk, so the
	// retention rule drops the state entry.
	assert.Empty(t, state.All())
}

func TestBatchDriver_RunChunk_PersistsStateBeforePolling(t *testing.T) {
	provider := newFakeBatchProvider()
	state, err := batchstate.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)

	d := NewBatchDriver(provider, noopManifest, state, nil, nil, BatchDriverConfig{
		ChunkSize:    10,
		Parallel:     1,
		PollInterval: time.Millisecond,
	})

	chunk := mkItemsWithIDs("a", "b", "c")
	err = d.runChunk(context.Background(), chunk)
	require.NoError(t, err)

	// the batch was completed and had a 100% success rate on <50 items,
	// so it should have been removed by the retention rule by the time
	// runChunk returns.
	assert.Empty(t, state.All())
}

// failingBatchProvider reports a fixed set of failed custom IDs and no
// successful embeddings, so collectResults' retention decision can be
// exercised without a real embedding response.
type failingBatchProvider struct {
	fakeBatchProvider
	failed map[string]string
}

func (f *failingBatchProvider) DownloadResults(ctx context.Context, batchID string) (BatchResult, error) {
	return BatchResult{Embeddings: make(map[string][]float32), Failed: f.failed}, nil
}

func TestBatchDriver_CollectResults_RetainsOnHighFailureRate(t *testing.T) {
	provider := &failingBatchProvider{failed: map[string]string{"a": "boom"}}
	state, err := batchstate.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)

	d := NewBatchDriver(provider, noopManifest, state, nil, nil, BatchDriverConfig{})

	refs := make([]batchstate.ItemRef, 60)
	for i := range refs {
		refs[i] = batchstate.ItemRef{ID: string(rune('a' + i))}
	}
	b := batchstate.Batch{Items: refs, CreatedAt: time.Now()}
	require.NoError(t, state.Put("batch-retained", b))

	err = d.collectResults(context.Background(), "batch-retained", b)
	require.NoError(t, err)

	_, stillThere := state.Get("batch-retained")
	assert.True(t, stillThere, "a 59/60 success rate is below the 99%% retention bar")
}

func TestBatchDriver_CollectResults_DeletesOnCleanRun(t *testing.T) {
	provider := &failingBatchProvider{failed: map[string]string{}}
	state, err := batchstate.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)

	d := NewBatchDriver(provider, noopManifest, state, nil, nil, BatchDriverConfig{})

	refs := make([]batchstate.ItemRef, 60)
	for i := range refs {
		refs[i] = batchstate.ItemRef{ID: string(rune('a' + i))}
	}
	b := batchstate.Batch{Items: refs, CreatedAt: time.Now()}
	require.NoError(t, state.Put("batch-clean", b))

	err = d.collectResults(context.Background(), "batch-clean", b)
	require.NoError(t, err)

	_, stillThere := state.Get("batch-clean")
	assert.False(t, stillThere)
}

func TestBatchDriver_Resume_PollsKnownBatchesAndDropsDead(t *testing.T) {
	provider := newFakeBatchProvider()
	state, err := batchstate.Open(t.TempDir() + "/state.json")
	require.NoError(t, err)

	// A batch the fake will report as already completed on first poll.
	provider.statuses["batch-done"] = []BatchStatus{BatchCompleted}
	require.NoError(t, state.Put("batch-done", batchstate.Batch{
		Items:     []batchstate.ItemRef{{ID: "x"}},
		CreatedAt: time.Now(),
	}))

	// A batch the fake will report as expired — dead, should be dropped.
	provider.statuses["batch-dead"] = []BatchStatus{BatchExpired}
	require.NoError(t, state.Put("batch-dead", batchstate.Batch{
		Items:     []batchstate.ItemRef{{ID: "y"}},
		CreatedAt: time.Now(),
	}))

	d := NewBatchDriver(provider, noopManifest, state, nil, nil, BatchDriverConfig{})

	inFlightOrDone, err := d.Resume(context.Background())
	require.NoError(t, err)

	assert.True(t, inFlightOrDone["x"])
	assert.True(t, inFlightOrDone["y"])

	_, stillThere := state.Get("batch-dead")
	assert.False(t, stillThere, "an expired batch should be dropped from state by Resume")
}

func TestIsBudgetExhausted(t *testing.T) {
	assert.True(t, IsBudgetExhausted(ErrBudgetExhausted))
	assert.False(t, IsBudgetExhausted(nil))
	assert.False(t, IsBudgetExhausted(context.Canceled))
}
