package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghsemantic/ingest/internal/asyncbuf"
	"github.com/ghsemantic/ingest/internal/item"
	"github.com/ghsemantic/ingest/internal/vectorstore"
)

// DefaultWorkers is the realtime driver's fixed worker pool size.
const DefaultWorkers = 48

// DefaultSubBatchSize is the item-count limit per provider call.
const DefaultSubBatchSize = 64

// DefaultMaxSubBatchChars is the byte budget per provider call; whichever
// of the two limits (count or bytes) fires first ends the sub-batch.
const DefaultMaxSubBatchChars = 120000

// RealtimeDriver pulls batches from an Async Buffer, packs them into
// provider-sized sub-batches, embeds them, and upserts the results.
type RealtimeDriver struct {
	provider        Provider
	keys            *Keyring
	store           *vectorstore.Store
	workers         int
	subBatchSize    int
	maxSubBatchChar int

	mu        sync.Mutex
	embedded  int
	costUSD   float64
	failedIDs []string
}

// RealtimeConfig configures a RealtimeDriver; zero values take the package
// defaults.
type RealtimeConfig struct {
	Workers         int
	SubBatchSize    int
	MaxSubBatchChar int
}

func (c *RealtimeConfig) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = DefaultSubBatchSize
	}
	if c.MaxSubBatchChar <= 0 {
		c.MaxSubBatchChar = DefaultMaxSubBatchChars
	}
}

// NewRealtimeDriver builds a driver against provider, rotating through
// keys for each provider call, upserting successful embeddings into store.
func NewRealtimeDriver(provider Provider, keys *Keyring, store *vectorstore.Store, cfg RealtimeConfig) *RealtimeDriver {
	cfg.setDefaults()
	return &RealtimeDriver{
		provider:        provider,
		keys:            keys,
		store:           store,
		workers:         cfg.Workers,
		subBatchSize:    cfg.SubBatchSize,
		maxSubBatchChar: cfg.MaxSubBatchChar,
	}
}

// Run drains buf with the configured worker pool until Finish()'d and
// drained empty. Returns once every worker has exited.
func (d *RealtimeDriver) Run(ctx context.Context, buf *asyncbuf.Buffer) error {
	var wg sync.WaitGroup
	errs := make(chan error, d.workers)

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.workerLoop(ctx, buf); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// workerLoop pulls sub-batches until the buffer is drained. A provider
// error is terminal for the sub-batch that produced it, not for the
// worker: embedAndUpsert has already recorded the failed IDs, so the
// worker moves on to the next sub-batch. The one exception is
// ErrBudgetExhausted, which means every further call will fail the same
// way, so it propagates out to let Run (and ultimately the Orchestrator)
// stop the whole run gracefully instead of grinding through the rest of
// the buffer.
func (d *RealtimeDriver) workerLoop(ctx context.Context, buf *asyncbuf.Buffer) error {
	for {
		items, ok := buf.Pull()
		if !ok {
			return nil
		}
		if len(items) == 0 {
			continue
		}
		for _, sub := range packSubBatches(items, d.subBatchSize, d.maxSubBatchChar) {
			if err := d.embedAndUpsert(ctx, sub); err != nil {
				if errors.Is(err, ErrBudgetExhausted) {
					return err
				}
				continue
			}
		}
	}
}

// packSubBatches splits items into groups respecting both a count limit
// and a cumulative byte budget, whichever fires first.
func packSubBatches(items []item.Item, maxCount, maxChars int) [][]item.Item {
	var batches [][]item.Item
	var current []item.Item
	currentChars := 0

	for _, it := range items {
		itemChars := len(it.Content)
		if len(current) > 0 && (len(current) >= maxCount || currentChars+itemChars > maxChars) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
		current = append(current, it)
		currentChars += itemChars
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (d *RealtimeDriver) embedAndUpsert(ctx context.Context, items []item.Item) error {
	ids := make([]string, len(items))
	texts := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
		texts[i] = it.Content
	}

	result, err := withRetry(ctx, func() (RealtimeResult, error) {
		return d.provider.EmbedRealtime(ctx, ids, texts, d.keys.Next())
	})
	if err != nil {
		d.mu.Lock()
		d.failedIDs = append(d.failedIDs, ids...)
		d.mu.Unlock()
		return fmt.Errorf("embed: sub-batch of %d items: %w", len(items), err)
	}

	points := make([]vectorstore.Point, len(result.Embeddings))
	byID := make(map[string]item.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	for i, e := range result.Embeddings {
		it := byID[e.ID]
		points[i] = vectorstore.Point{ID: e.ID, Vector: e.Vector, RepoName: it.Repo, ContentHash: it.ContentHash}
	}

	if err := d.store.Upsert(ctx, points); err != nil {
		return fmt.Errorf("embed: upsert sub-batch of %d points: %w", len(points), err)
	}

	d.mu.Lock()
	d.embedded += len(points)
	d.costUSD += result.CostUSD
	d.mu.Unlock()
	return nil
}

// Snapshot reports cumulative progress, safe for concurrent use while
// workers are still running.
func (d *RealtimeDriver) Snapshot() (embedded int, costUSD float64, failed []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	failedCopy := make([]string, len(d.failedIDs))
	copy(failedCopy, d.failedIDs)
	return d.embedded, d.costUSD, failedCopy
}
