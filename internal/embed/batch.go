package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghsemantic/ingest/internal/batchstate"
	"github.com/ghsemantic/ingest/internal/item"
	"github.com/ghsemantic/ingest/internal/vectorstore"
)

// DefaultBatchChunkSize is the number of items per submitted batch job.
const DefaultBatchChunkSize = 25000

// DefaultBatchParallel is the number of batch jobs submitted and polled
// concurrently.
const DefaultBatchParallel = 3

// DefaultPollInterval is how often an in-progress batch is re-polled.
const DefaultPollInterval = 30 * time.Second

// BatchDriverConfig configures a BatchDriver; zero values take defaults.
type BatchDriverConfig struct {
	ChunkSize    int
	Parallel     int
	PollInterval time.Duration
}

func (c *BatchDriverConfig) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultBatchChunkSize
	}
	if c.Parallel <= 0 {
		c.Parallel = DefaultBatchParallel
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// BatchDriver submits items to the provider's asynchronous batch endpoint
// in chunks, polls each to completion, and upserts the resulting vectors.
type BatchDriver struct {
	provider BatchProvider
	manifest func(ids, texts []string) ([]byte, error)
	state    *batchstate.Store
	store    *vectorstore.Store
	cfg      BatchDriverConfig

	progress ProgressReporter

	mu            sync.Mutex
	embeddedCount int
	failedCount   int
}

// ProgressReporter receives (completed, total) updates while a batch is
// in_progress. A nil ProgressReporter is a valid no-op.
type ProgressReporter interface {
	ReportBatchProgress(completed, total int)
}

// NewBatchDriver builds a BatchDriver. manifest builds the NDJSON request
// body for a chunk (see NebiusBatchProvider.BuildManifest); it is passed in
// rather than fixed to the provider so a DeepInfra-shaped batch endpoint
// could plug in later without changing this driver.
func NewBatchDriver(provider BatchProvider, manifest func(ids, texts []string) ([]byte, error), state *batchstate.Store, store *vectorstore.Store, progress ProgressReporter, cfg BatchDriverConfig) *BatchDriver {
	cfg.setDefaults()
	return &BatchDriver{provider: provider, manifest: manifest, state: state, store: store, progress: progress, cfg: cfg}
}

// Resume implements the resume protocol (§4.8): for every batch ID known
// to the state store, poll it, upsert completed results, and return the
// set of item IDs of every batch it found in the store (still in flight,
// just upserted, or dropped as dead) — callers must exclude these from any
// new submission.
func (d *BatchDriver) Resume(ctx context.Context) (inFlightOrDoneIDs map[string]bool, err error) {
	inFlightOrDoneIDs = make(map[string]bool)

	for batchID, b := range d.state.All() {
		status, _, err := d.provider.GetBatchStatus(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("embed: resume: poll %s: %w", batchID, err)
		}

		for _, ref := range b.Items {
			inFlightOrDoneIDs[ref.ID] = true
		}

		switch status {
		case BatchCompleted:
			if err := d.collectResults(ctx, batchID, b); err != nil {
				return nil, fmt.Errorf("embed: resume: collect %s: %w", batchID, err)
			}
		case BatchInProgress, BatchValidating:
			// left in the state store and in inFlightOrDoneIDs. Nothing in
			// this run polls them again; a later Resume picks them up.
		default:
			if err := d.state.Delete(batchID); err != nil {
				return nil, fmt.Errorf("embed: resume: drop dead batch %s: %w", batchID, err)
			}
		}
	}

	return inFlightOrDoneIDs, nil
}

// SubmitAndWait splits items into chunks of ChunkSize, submits up to
// Parallel of them concurrently, and blocks until every chunk reaches a
// terminal state. Returns ErrBudgetExhausted if the provider reports 402
// for any chunk; callers treat that as a graceful stop, not a failure.
func (d *BatchDriver) SubmitAndWait(ctx context.Context, items []item.Item) error {
	chunks := chunkItems(items, d.cfg.ChunkSize)

	sem := make(chan struct{}, d.cfg.Parallel)
	var wg sync.WaitGroup
	errs := make(chan error, len(chunks))

	for _, chunk := range chunks {
		sem <- struct{}{}
		wg.Add(1)
		go func(chunk []item.Item) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.runChunk(ctx, chunk); err != nil {
				errs <- err
			}
		}(chunk)
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

func chunkItems(items []item.Item, size int) [][]item.Item {
	var out [][]item.Item
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func (d *BatchDriver) runChunk(ctx context.Context, chunk []item.Item) error {
	ids := make([]string, len(chunk))
	texts := make([]string, len(chunk))
	refs := make([]batchstate.ItemRef, len(chunk))
	for i, it := range chunk {
		ids[i] = it.ID
		texts[i] = it.Content
		refs[i] = batchstate.ItemRef{ID: it.ID, Repo: it.Repo, ContentHash: it.ContentHash}
	}

	manifest, err := d.manifest(ids, texts)
	if err != nil {
		return fmt.Errorf("embed: build manifest: %w", err)
	}

	fileID, err := d.provider.UploadManifest(ctx, manifest)
	if err != nil {
		return fmt.Errorf("embed: upload manifest: %w", err)
	}

	batchID, err := d.provider.CreateBatch(ctx, fileID)
	if err != nil {
		return fmt.Errorf("embed: create batch: %w", err)
	}

	// Persisted before polling begins so a crash here still leaves the
	// batch discoverable by Resume on the next run.
	b := batchstate.Batch{Items: refs, CreatedAt: time.Now()}
	if err := d.state.Put(batchID, b); err != nil {
		return fmt.Errorf("embed: persist batch state: %w", err)
	}

	if err := d.pollToCompletion(ctx, batchID); err != nil {
		return err
	}

	return d.collectResults(ctx, batchID, b)
}

func (d *BatchDriver) pollToCompletion(ctx context.Context, batchID string) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, progress, err := d.provider.GetBatchStatus(ctx, batchID)
		if err != nil {
			return fmt.Errorf("embed: poll batch %s: %w", batchID, err)
		}

		if d.progress != nil && status == BatchInProgress {
			d.progress.ReportBatchProgress(progress.Completed, progress.Total)
		}

		if status.IsTerminal() {
			if status != BatchCompleted {
				return fmt.Errorf("embed: batch %s ended in terminal state %q", batchID, status)
			}
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *BatchDriver) collectResults(ctx context.Context, batchID string, b batchstate.Batch) error {
	results, err := d.provider.DownloadResults(ctx, batchID)
	if err != nil {
		return fmt.Errorf("embed: download batch %s results: %w", batchID, err)
	}

	byID := make(map[string]item.Item, len(b.Items))
	for _, ref := range b.Items {
		byID[ref.ID] = item.Item{ID: ref.ID, Repo: ref.Repo, ContentHash: ref.ContentHash}
	}

	points := make([]vectorstore.Point, 0, len(results.Embeddings))
	for id, vec := range results.Embeddings {
		it := byID[id]
		points = append(points, vectorstore.Point{ID: id, Vector: vec, RepoName: it.Repo, ContentHash: it.ContentHash})
	}

	for i := 0; i < len(points); i += vectorstore.UpsertBatchSize {
		end := i + vectorstore.UpsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := d.store.Upsert(ctx, points[i:end]); err != nil {
			return fmt.Errorf("embed: upsert batch %s results: %w", batchID, err)
		}
	}

	d.mu.Lock()
	d.embeddedCount += len(points)
	d.failedCount += len(results.Failed)
	d.mu.Unlock()

	if batchstate.ShouldRetain(len(b.Items), len(results.Failed)) {
		return nil // keep the entry for investigation or resubmission
	}
	return d.state.Delete(batchID)
}

// Snapshot reports cumulative progress, safe for concurrent use while
// chunks are still being submitted or polled.
func (d *BatchDriver) Snapshot() (embedded, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.embeddedCount, d.failedCount
}

// IsBudgetExhausted reports whether err (or any error it wraps) is the
// provider's budget-exhausted condition.
func IsBudgetExhausted(err error) bool {
	return errors.Is(err, ErrBudgetExhausted)
}
