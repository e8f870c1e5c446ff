// Package progress aggregates embedding-pipeline counters behind a single
// mutex so a caller can format a consistent snapshot without racing the
// goroutines that update it.
package progress

import (
	"log/slog"
	"sync"
)

// Aggregator holds the pipeline's counters; cmd/ingest reads them through
// Snapshot for its final summary line. Every field is read and written only through its
// methods; callers never touch fields directly.
type Aggregator struct {
	mu sync.Mutex

	embedded       int
	failed         int
	totalCostUSD   float64
	batchCompleted int
	batchTotal     int
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// AddEmbedded records n successfully embedded-and-upserted items at the
// given incremental cost.
func (a *Aggregator) AddEmbedded(n int, costUSD float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.embedded += n
	a.totalCostUSD += costUSD
}

// AddFailed records n items that failed embedding permanently.
func (a *Aggregator) AddFailed(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed += n
}

// SetBatchProgress overwrites the current batch driver's (completed,
// total) request counts with those of the most recent poll, whichever
// batch it was for. There is one in-flight batch-progress figure
// at a time by design — §4.11 aggregates per-worker counters, not
// per-batch ones, since batches are already chunked upstream.
func (a *Aggregator) SetBatchProgress(completed, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batchCompleted = completed
	a.batchTotal = total
}

// Snapshot is a point-in-time copy of every counter, safe to format
// outside the lock.
type Snapshot struct {
	Embedded       int
	Failed         int
	TotalCostUSD   float64
	BatchCompleted int
	BatchTotal     int
}

// Snapshot takes a copy of every counter under the lock.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		Embedded:       a.embedded,
		Failed:         a.failed,
		TotalCostUSD:   a.totalCostUSD,
		BatchCompleted: a.batchCompleted,
		BatchTotal:     a.batchTotal,
	}
}

// ReportBatchProgress implements embed.ProgressReporter so a BatchDriver
// can feed poll results straight into the aggregator.
func (a *Aggregator) ReportBatchProgress(completed, total int) {
	a.SetBatchProgress(completed, total)
}

// Log writes the current snapshot as one structured log line.
func (a *Aggregator) Log(logger *slog.Logger) {
	s := a.Snapshot()
	logger.Info("progress",
		"embedded", s.Embedded,
		"failed", s.Failed,
		"cost_usd", s.TotalCostUSD,
		"batch_completed", s.BatchCompleted,
		"batch_total", s.BatchTotal,
	)
}
