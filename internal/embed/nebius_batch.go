package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// NebiusBatchProvider drives Nebius's OpenAI-compatible asynchronous batch
// API: upload an NDJSON manifest as a file, create a batch job against it,
// poll for completion, then download the NDJSON result file.
type NebiusBatchProvider struct {
	client openai.Client
	model  string
}

// NewNebiusBatchProvider builds a batch provider against baseURL using a
// single API key for the whole batch lifecycle — unlike the realtime
// driver, a batch job is tied to whichever key created it, so every batch
// this provider creates uses the one key it was built with.
func NewNebiusBatchProvider(baseURL, apiKey, model string) *NebiusBatchProvider {
	if model == "" {
		model = NebiusModel
	}
	return &NebiusBatchProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)),
		model:  model,
	}
}

func (p *NebiusBatchProvider) Dimension() int { return NebiusDimension }

type batchManifestLine struct {
	CustomID string                    `json:"custom_id"`
	Method   string                    `json:"method"`
	URL      string                    `json:"url"`
	Body     openai.EmbeddingNewParams `json:"body"`
}

// BuildManifest renders the NDJSON request manifest for a chunk of items,
// one line per item carrying custom_id=item.id and the embedding request
// body, per the batch API's upload format.
func (p *NebiusBatchProvider) BuildManifest(ids, texts []string) ([]byte, error) {
	if len(ids) != len(texts) {
		return nil, fmt.Errorf("embed: ids/texts length mismatch (%d vs %d)", len(ids), len(texts))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range ids {
		line := batchManifestLine{
			CustomID: ids[i],
			Method:   "POST",
			URL:      "/v1/embeddings",
			Body: openai.EmbeddingNewParams{
				Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{texts[i]}},
				Model:      p.model,
				Dimensions: openai.Int(int64(p.Dimension())),
			},
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("embed: encode manifest line %s: %w", ids[i], err)
		}
	}
	return buf.Bytes(), nil
}

// UploadManifest implements BatchProvider.
func (p *NebiusBatchProvider) UploadManifest(ctx context.Context, ndjson []byte) (string, error) {
	file, err := p.client.Files.New(ctx, openai.FileNewParams{
		File:    bytes.NewReader(ndjson),
		Purpose: openai.FilePurposeBatch,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	return file.ID, nil
}

// CreateBatch implements BatchProvider.
func (p *NebiusBatchProvider) CreateBatch(ctx context.Context, fileID string) (string, error) {
	batch, err := p.client.Batches.New(ctx, openai.BatchNewParams{
		InputFileID:      fileID,
		Endpoint:         openai.BatchNewParamsEndpointV1Embeddings,
		CompletionWindow: openai.BatchNewParamsCompletionWindow24h,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	return batch.ID, nil
}

// GetBatchStatus implements BatchProvider.
func (p *NebiusBatchProvider) GetBatchStatus(ctx context.Context, batchID string) (BatchStatus, BatchProgress, error) {
	batch, err := p.client.Batches.Get(ctx, batchID)
	if err != nil {
		return "", BatchProgress{}, classifyOpenAIError(err)
	}

	progress := BatchProgress{
		Completed: int(batch.RequestCounts.Completed),
		Total:     int(batch.RequestCounts.Total),
	}
	return mapNebiusStatus(string(batch.Status)), progress, nil
}

func mapNebiusStatus(s string) BatchStatus {
	switch s {
	case "completed":
		return BatchCompleted
	case "failed":
		return BatchFailed
	case "expired":
		return BatchExpired
	case "cancelled", "cancelling":
		return BatchCancelled
	case "validating", "finalizing":
		return BatchValidating
	default:
		return BatchInProgress
	}
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		Body struct {
			Data []struct {
				Embedding []float64 `json:"embedding"`
			} `json:"data"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// DownloadResults implements BatchProvider.
func (p *NebiusBatchProvider) DownloadResults(ctx context.Context, batchID string) (BatchResult, error) {
	batch, err := p.client.Batches.Get(ctx, batchID)
	if err != nil {
		return BatchResult{}, classifyOpenAIError(err)
	}
	if batch.OutputFileID == "" {
		return BatchResult{}, errors.New("embed: completed batch has no output file")
	}

	content, err := p.client.Files.Content(ctx, batch.OutputFileID)
	if err != nil {
		return BatchResult{}, classifyOpenAIError(err)
	}
	defer content.Body.Close()

	result := BatchResult{
		Embeddings: make(map[string][]float32),
		Failed:     make(map[string]string),
	}

	dec := json.NewDecoder(content.Body)
	for dec.More() {
		var line batchResultLine
		if err := dec.Decode(&line); err != nil {
			return BatchResult{}, fmt.Errorf("embed: decode batch result line: %w", err)
		}

		switch {
		case line.Error != nil:
			result.Failed[line.CustomID] = line.Error.Message
		case line.Response != nil && len(line.Response.Body.Data) > 0:
			result.Embeddings[line.CustomID] = toFloat32(line.Response.Body.Data[0].Embedding)
		default:
			result.Failed[line.CustomID] = "embed: malformed batch result line"
		}
	}

	return result, nil
}
