package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DeepInfraModel is the embedding model requested from DeepInfra.
const DeepInfraModel = "BAAI/bge-en-icl"

// DeepInfraDimension is the vector size DeepInfraModel produces.
const DeepInfraDimension = 4096

// DeepInfraPricePerMillionTokens is used for cost estimation and reporting.
const DeepInfraPricePerMillionTokens = 0.01

// DeepInfraProvider embeds via DeepInfra's custom inference endpoint,
// which does not follow the OpenAI request/response shape closely enough
// to reuse the openai-go SDK: it takes {inputs: []string} and returns
// {embeddings: [][]float32, input_tokens: int} directly, with no per-item
// usage breakdown at all.
type DeepInfraProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewDeepInfraProvider builds a provider against baseURL
// (https://api.deepinfra.com/v1/inference by convention) using httpClient
// for requests; pass a client with a proxy-aware Transport to route
// through the proxy pool, or http.DefaultClient to skip proxying.
func NewDeepInfraProvider(baseURL, model string, httpClient *http.Client) *DeepInfraProvider {
	if model == "" {
		model = DeepInfraModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &DeepInfraProvider{baseURL: baseURL, model: model, client: httpClient}
}

func (p *DeepInfraProvider) Dimension() int { return DeepInfraDimension }

func (p *DeepInfraProvider) PricePerMillionTokens() float64 { return DeepInfraPricePerMillionTokens }

type deepInfraRequest struct {
	Inputs     []string `json:"inputs"`
	Normalize  bool     `json:"normalize"`
	Dimensions int      `json:"dimensions"`
}

type deepInfraResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	InputTokens     int         `json:"input_tokens"`
	InferenceStatus struct {
		Cost float64 `json:"cost"`
	} `json:"inference_status"`
}

// EmbedRealtime implements Provider.
func (p *DeepInfraProvider) EmbedRealtime(ctx context.Context, ids, texts []string, apiKey string) (RealtimeResult, error) {
	if len(ids) != len(texts) {
		return RealtimeResult{}, fmt.Errorf("embed: ids/texts length mismatch (%d vs %d)", len(ids), len(texts))
	}

	body, err := json.Marshal(deepInfraRequest{Inputs: texts, Normalize: false, Dimensions: p.Dimension()})
	if err != nil {
		return RealtimeResult{}, fmt.Errorf("embed: encode deepinfra request: %w", err)
	}

	url := p.baseURL + "/" + p.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RealtimeResult{}, fmt.Errorf("embed: build deepinfra request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return RealtimeResult{}, fmt.Errorf("embed: deepinfra request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return RealtimeResult{}, fmt.Errorf("embed: read deepinfra response: %w", err)
	}

	if resp.StatusCode == 402 {
		return RealtimeResult{}, ErrBudgetExhausted
	}
	if resp.StatusCode == 429 || resp.StatusCode >= 500 {
		return RealtimeResult{}, &RetryableError{Status: resp.StatusCode, Cause: fmt.Errorf("%s", raw)}
	}
	if resp.StatusCode != 200 {
		return RealtimeResult{}, fmt.Errorf("embed: deepinfra status %d: %s", resp.StatusCode, raw)
	}

	var decoded deepInfraResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return RealtimeResult{}, fmt.Errorf("embed: decode deepinfra response: %w", err)
	}
	if len(decoded.Embeddings) != len(texts) {
		return RealtimeResult{}, fmt.Errorf("embed: deepinfra returned %d embeddings for %d inputs", len(decoded.Embeddings), len(texts))
	}

	embeddings := make([]Embedding, len(texts))
	perItemTokens := 0
	if len(texts) > 0 {
		perItemTokens = decoded.InputTokens / len(texts)
	}
	for i, v := range decoded.Embeddings {
		embeddings[i] = Embedding{ID: ids[i], Vector: v, Tokens: perItemTokens}
	}

	cost := decoded.InferenceStatus.Cost
	if cost == 0 {
		cost = float64(decoded.InputTokens) / 1_000_000 * p.PricePerMillionTokens()
	}
	return RealtimeResult{Embeddings: embeddings, CostUSD: cost}, nil
}
