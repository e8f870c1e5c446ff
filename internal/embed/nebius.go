package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// NebiusModel is the embedding model served by Nebius's OpenAI-compatible
// endpoint.
const NebiusModel = "BAAI/bge-en-icl"

// NebiusDimension is the vector size NebiusModel produces.
const NebiusDimension = 4096

// NebiusPricePerMillionTokens is used for cost estimation and reporting.
const NebiusPricePerMillionTokens = 0.01

// NebiusProvider embeds via Nebius's OpenAI-compatible realtime endpoint
// (the batch API is driven by NebiusBatchProvider). It constructs a fresh openai.Client per call carrying the
// caller-selected API key, since the SDK binds a key at client
// construction and the driver round-robins keys per request.
type NebiusProvider struct {
	baseURL string
	model   string
}

// NewNebiusProvider builds a provider pointed at baseURL (Nebius's
// OpenAI-compatible API root). model defaults to NebiusModel if empty.
func NewNebiusProvider(baseURL, model string) *NebiusProvider {
	if model == "" {
		model = NebiusModel
	}
	return &NebiusProvider{baseURL: baseURL, model: model}
}

func (p *NebiusProvider) client(apiKey string) openai.Client {
	return openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(p.baseURL))
}

func (p *NebiusProvider) Dimension() int { return NebiusDimension }

func (p *NebiusProvider) PricePerMillionTokens() float64 { return NebiusPricePerMillionTokens }

// EmbedRealtime implements Provider.
func (p *NebiusProvider) EmbedRealtime(ctx context.Context, ids, texts []string, apiKey string) (RealtimeResult, error) {
	if len(ids) != len(texts) {
		return RealtimeResult{}, fmt.Errorf("embed: ids/texts length mismatch (%d vs %d)", len(ids), len(texts))
	}

	client := p.client(apiKey)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      p.model,
		Dimensions: openai.Int(int64(p.Dimension())),
	})
	if err != nil {
		return RealtimeResult{}, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return RealtimeResult{}, fmt.Errorf("embed: provider returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	embeddings := make([]Embedding, len(texts))
	totalTokens := 0
	for i, d := range resp.Data {
		embeddings[i] = Embedding{ID: ids[i], Vector: toFloat32(d.Embedding)}
	}
	if resp.Usage.TotalTokens > 0 {
		totalTokens = int(resp.Usage.TotalTokens)
	}
	// Token usage is reported once for the whole request; spread it
	// proportionally by embedding count so per-item accounting stays
	// consistent even though the provider doesn't break it down further.
	if totalTokens > 0 && len(embeddings) > 0 {
		per := totalTokens / len(embeddings)
		for i := range embeddings {
			embeddings[i].Tokens = per
		}
	}

	cost := float64(totalTokens) / 1_000_000 * p.PricePerMillionTokens()
	return RealtimeResult{Embeddings: embeddings, CostUSD: cost}, nil
}

// classifyOpenAIError maps a 429/5xx SDK error to a value withRetry
// recognizes as retryable (see retry.go); everything else passes through
// as a permanent failure for that sub-batch.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return &RetryableError{Status: apiErr.StatusCode, Cause: err}
		case apiErr.StatusCode == 402:
			return ErrBudgetExhausted
		}
	}
	return err
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
