package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRuntime implements Runtime against a token-level inference sidecar
// serving the acquired model (the sidecar shares the artifact cache
// directory). It is safe for concurrent use.
type HTTPRuntime struct {
	baseURL string
	model   string
	client  *http.Client
}

// HTTPRuntimeConfig holds the settings for constructing an HTTPRuntime.
type HTTPRuntimeConfig struct {
	// BaseURL is the runtime base URL (e.g. "http://localhost:8191").
	BaseURL string
	// Model is the model identifier the runtime should serve.
	Model string
	// Timeout bounds each forward request. Defaults to 120s; batch
	// inference on CPU is slow and the indexer embeds whole documents.
	Timeout time.Duration
}

// NewHTTPRuntime constructs an HTTPRuntime from the given config.
func NewHTTPRuntime(cfg *HTTPRuntimeConfig) *HTTPRuntime {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPRuntime{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

// forwardRequest is the JSON body sent to the runtime /v1/forward endpoint.
type forwardRequest struct {
	Model         string    `json:"model"`
	InputIDs      [][]int32 `json:"input_ids"`
	AttentionMask [][]int32 `json:"attention_mask"`
}

// forwardResponse is the JSON body returned from /v1/forward.
type forwardResponse struct {
	HiddenStates [][][]float32 `json:"hidden_states"`
	Error        string        `json:"error,omitempty"`
}

// Forward runs a forward pass and returns token-level hidden states,
// one sequence per input row, order-preserved.
func (r *HTTPRuntime) Forward(ctx context.Context, batch *Batch) ([][][]float32, error) {
	body := forwardRequest{
		Model:         r.model,
		InputIDs:      batch.InputIDs,
		AttentionMask: batch.AttentionMask,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("runtime: marshal request: %w", err)
	}

	url := r.baseURL + "/v1/forward"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("runtime: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("runtime: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result forwardResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("runtime: decode response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, fmt.Errorf("runtime: %s", msg)
	}

	if len(result.HiddenStates) != len(batch.InputIDs) {
		return nil, fmt.Errorf("runtime: expected %d sequences, got %d",
			len(batch.InputIDs), len(result.HiddenStates))
	}

	return result.HiddenStates, nil
}
