// Package orchestrator drives the embedding pipeline's outer, file-chunked
// loop: it loads each chunk of README files through the item loader,
// estimates its cost, hands it to whichever embed driver is configured
// (realtime or batch), and grows the in-memory set of already-embedded
// IDs between chunks so later chunks never resubmit earlier work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ghsemantic/ingest/internal/asyncbuf"
	"github.com/ghsemantic/ingest/internal/embed"
	"github.com/ghsemantic/ingest/internal/item"
	"github.com/ghsemantic/ingest/internal/progress"
)

// DefaultAvgCharsPerToken approximates the provider's own tokenizer well
// enough for a pre-submission cost estimate; it is never used for billing.
const DefaultAvgCharsPerToken = 4

// Config configures an Orchestrator; zero values take defaults.
type Config struct {
	// ChunkSize is the number of README files loaded and embedded
	// together. The spec's default is BATCH_CHUNK_SIZE*BATCH_PARALLEL*2;
	// callers using the realtime pipeline typically pass something
	// smaller since there is no batch-chunk concept to size against.
	ChunkSize int

	// AsyncBufferSize and AsyncBufferBatch size the realtime driver's
	// Async Buffer; ignored when Realtime is nil.
	AsyncBufferSize  int
	AsyncBufferBatch int

	PricePerMillionTokens float64
}

func (c *Config) setDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = embed.DefaultBatchChunkSize * embed.DefaultBatchParallel * 2
	}
	if c.AsyncBufferSize <= 0 {
		c.AsyncBufferSize = 10000
	}
	if c.AsyncBufferBatch <= 0 {
		c.AsyncBufferBatch = embed.DefaultSubBatchSize
	}
}

// Orchestrator ties the item loader, one embed driver (realtime XOR
// batch), the vector store, and the progress aggregator together into
// the pipeline's outer loop.
type Orchestrator struct {
	loader      *item.Loader
	existingIDs map[string]bool

	realtime *embed.RealtimeDriver
	batch    *embed.BatchDriver

	progress *progress.Aggregator
	logger   *slog.Logger
	cfg      Config

	// Driver Snapshot methods report cumulative totals across the
	// driver's whole lifetime, not per-chunk deltas; these track the last
	// observed totals so each chunk adds only what changed.
	lastEmbedded int
	lastFailed   int
	lastCostUSD  float64
}

// New builds an Orchestrator. Exactly one of realtime or batch must be
// non-nil — the pipeline runs one delivery mode per invocation, selected
// by the CLI's --provider flag.
func New(readmesDir string, existingIDs map[string]bool, realtime *embed.RealtimeDriver, batch *embed.BatchDriver, prog *progress.Aggregator, logger *slog.Logger, cfg Config) (*Orchestrator, error) {
	if (realtime == nil) == (batch == nil) {
		return nil, fmt.Errorf("orchestrator: exactly one of realtime or batch driver must be set")
	}
	cfg.setDefaults()

	if existingIDs == nil {
		existingIDs = make(map[string]bool)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		existingIDs: existingIDs,
		realtime:    realtime,
		batch:       batch,
		progress:    prog,
		logger:      logger,
		cfg:         cfg,
	}
	o.loader = item.NewLoader(readmesDir, 0, func(id string) bool { return o.existingIDs[id] })
	return o, nil
}

// Run drives every filename in names through the outer chunked loop.
// Returns nil both on ordinary completion and on a provider budget
// exhaustion (a graceful stop, per §7): callers exit 0 either way.
func (o *Orchestrator) Run(ctx context.Context, names []string) error {
	for start := 0; start < len(names); start += o.cfg.ChunkSize {
		end := min(start+o.cfg.ChunkSize, len(names))
		chunk := names[start:end]

		if err := o.runChunk(ctx, chunk); err != nil {
			if errors.Is(err, embed.ErrBudgetExhausted) {
				o.logger.Info("budget exhausted, stopping gracefully", "processed", start)
				return nil
			}
			return fmt.Errorf("orchestrator: chunk %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (o *Orchestrator) runChunk(ctx context.Context, names []string) error {
	items, failedLoads, err := o.loader.LoadChunk(names)
	if err != nil {
		return fmt.Errorf("load chunk: %w", err)
	}
	if o.progress != nil {
		o.progress.AddFailed(failedLoads)
	}
	if len(items) == 0 {
		return nil
	}

	estimate := EstimateCost(items, o.cfg.PricePerMillionTokens)
	o.logger.Info("chunk loaded", "items", len(items), "failed_loads", failedLoads, "estimated_cost_usd", estimate)

	if o.realtime != nil {
		if err := o.runRealtime(ctx, items); err != nil {
			return err
		}
	} else {
		err := o.batch.SubmitAndWait(ctx, items)
		o.reportBatchDelta()
		if err != nil {
			return err
		}
	}

	for _, it := range items {
		o.existingIDs[it.ID] = true
	}
	return nil
}

func (o *Orchestrator) runRealtime(ctx context.Context, items []item.Item) error {
	buf := asyncbuf.New(o.cfg.AsyncBufferSize, o.cfg.AsyncBufferBatch)

	errCh := make(chan error, 1)
	go func() {
		errCh <- o.realtime.Run(ctx, buf)
	}()

	go func() {
		for _, it := range items {
			buf.Push(it)
		}
		buf.Finish()
	}()

	err := <-errCh
	// Workers that stop early (budget exhausted, or an error) leave items
	// behind; drain them so the producer above is not left blocked.
	for {
		if _, ok := buf.Pull(); !ok {
			break
		}
	}

	if o.progress != nil {
		embedded, cost, failed := o.realtime.Snapshot()
		o.progress.AddEmbedded(embedded-o.lastEmbedded, cost-o.lastCostUSD)
		o.progress.AddFailed(len(failed) - o.lastFailed)
		o.lastEmbedded, o.lastCostUSD, o.lastFailed = embedded, cost, len(failed)
	}
	return err
}

func (o *Orchestrator) reportBatchDelta() {
	if o.progress == nil {
		return
	}
	embedded, failed := o.batch.Snapshot()
	o.progress.AddEmbedded(embedded-o.lastEmbedded, 0)
	o.progress.AddFailed(failed - o.lastFailed)
	o.lastEmbedded, o.lastFailed = embedded, failed
}

// EstimateCost approximates the cost of embedding items from their
// character counts alone, before any provider call is made: sample mean
// characters per item, divided by DefaultAvgCharsPerToken to approximate
// tokens, times the provider's per-million-token price.
func EstimateCost(items []item.Item, pricePerMillionTokens float64) float64 {
	if len(items) == 0 {
		return 0
	}
	totalChars := 0
	for _, it := range items {
		totalChars += len(it.Content)
	}
	meanChars := float64(totalChars) / float64(len(items))
	estimatedTokens := meanChars / DefaultAvgCharsPerToken * float64(len(items))
	return estimatedTokens / 1_000_000 * pricePerMillionTokens
}
