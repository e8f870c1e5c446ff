// Package embed implements the embedding pipeline's two delivery modes:
// a realtime driver that calls a synchronous embeddings endpoint from a
// pool of workers, and a batch driver that submits the provider's
// asynchronous batch job API and polls it to completion. Both sit behind
// the same Provider abstraction so the Orchestrator can switch between a
// Nebius/OpenAI-compatible backend and a DeepInfra backend without caring
// which one is live.
package embed

import (
	"context"
	"errors"
)

// Embedding is one item's resulting vector alongside token usage, used to
// compute cost without re-deriving it from raw character counts.
type Embedding struct {
	ID     string
	Vector []float32
	Tokens int
}

// RealtimeResult is the outcome of one synchronous embedding call.
type RealtimeResult struct {
	Embeddings []Embedding
	CostUSD    float64
}

// Provider is the uniform interface the Realtime Embed Driver calls
// against, regardless of which concrete backend is configured.
type Provider interface {
	// EmbedRealtime embeds texts (ids[i] corresponds to texts[i]) using the
	// given API key and returns one Embedding per input, in input order.
	EmbedRealtime(ctx context.Context, ids, texts []string, apiKey string) (RealtimeResult, error)
	// Dimension is the vector size this provider's model produces.
	Dimension() int
	// PricePerMillionTokens is used for cost estimation and reporting.
	PricePerMillionTokens() float64
}

// ErrBudgetExhausted is returned by a batch provider when the account's
// spending budget has been exhausted (HTTP 402 from Nebius/OpenAI-style
// batch APIs). The Orchestrator treats this as a graceful stop, not a
// failure: in-flight state is preserved and the process exits cleanly.
var ErrBudgetExhausted = errors.New("embed: provider budget exhausted")

// BatchStatus is the terminal/non-terminal state of a submitted batch job.
type BatchStatus string

const (
	BatchInProgress BatchStatus = "in_progress"
	BatchValidating BatchStatus = "validating"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
	BatchCancelled  BatchStatus = "cancelled"
)

// IsTerminal reports whether status requires no further polling.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	default:
		return false
	}
}

// BatchProgress reports a poll's (completed, total) request counts for
// progress aggregation while a batch is still in_progress.
type BatchProgress struct {
	Completed int
	Total     int
}

// BatchResult is the outcome of a completed batch job.
type BatchResult struct {
	Embeddings map[string][]float32 // item ID -> vector
	Failed     map[string]string    // item ID -> provider error message
}

// BatchProvider is the uniform interface the Batch Embed Driver calls
// against for the provider's asynchronous batch job API.
type BatchProvider interface {
	// UploadManifest uploads an NDJSON request manifest and returns a file ID.
	UploadManifest(ctx context.Context, ndjson []byte) (fileID string, err error)
	// CreateBatch creates a batch job against the uploaded manifest and
	// returns its batch ID.
	CreateBatch(ctx context.Context, fileID string) (batchID string, err error)
	// GetBatchStatus polls a batch's current state.
	GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, BatchProgress, error)
	// DownloadResults streams and decodes a completed batch's NDJSON
	// result file into per-item embeddings and failures.
	DownloadResults(ctx context.Context, batchID string) (BatchResult, error)
	// Dimension is the vector size this provider's model produces.
	Dimension() int
}
