// Package embedder implements the sentence-embedding engine: lazy model
// artifact acquisition, WordPiece batch tokenisation, a token-level
// inference runtime, mean pooling over the attention mask, and L2
// normalisation.
//
// The model is not loaded at process start. The first embed call acquires
// the artifacts (from a local cache when present, otherwise from the model
// registry, persisting them for subsequent process starts) and constructs
// the tokenizer and runtime. First use is guarded by a mutex so concurrent
// callers trigger exactly one load.
//
// Vectors are L2-normalised on the way out, so downstream similarity
// search can use plain dot product as cosine similarity.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Tokenizer converts a batch of texts into padded token ID sequences with
// an attention mask. The whole batch is encoded together so padding is
// computed once across the batch.
type Tokenizer interface {
	Encode(texts []string) *Batch
}

// Runtime runs a forward pass over an encoded batch and returns
// token-level hidden states, shape (batch, seq_len, hidden_size).
// Implementations must be safe for concurrent use.
type Runtime interface {
	Forward(ctx context.Context, batch *Batch) ([][][]float32, error)
}

// Batch is a tokenised input batch. InputIDs and AttentionMask are
// parallel, rectangular (padded to the longest sequence), with mask value
// 1 for real tokens and 0 for padding.
type Batch struct {
	InputIDs      [][]int32 `json:"input_ids"`
	AttentionMask [][]int32 `json:"attention_mask"`
}

// Config holds the embedding engine settings.
type Config struct {
	// ModelName is the registry identifier of the embedding model.
	ModelName string
	// RegistryURL is the base URL artifacts are fetched from on first use.
	RegistryURL string
	// CacheDir is the local directory acquired artifacts persist in.
	CacheDir string
	// RuntimeURL is the base URL of the token-level inference runtime.
	RuntimeURL string
	// Dimensions is the expected embedding vector size.
	Dimensions int
	// MaxSequenceLength caps tokenised input length per text.
	MaxSequenceLength int
}

// Engine generates dense sentence embeddings. Construct with New and
// share one instance per process; all methods are safe for concurrent use.
type Engine struct {
	cfg *Config
	log *slog.Logger

	// mu guards lazy initialisation of tok and rt. Strict single load:
	// concurrent first users block until the winner finishes.
	mu     sync.Mutex
	loaded bool
	tok    Tokenizer
	rt     Runtime
}

// New constructs an Engine. No model artifacts are touched until the
// first embed call.
func New(cfg *Config, log *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder: config must not be nil")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("embedder: model name must not be empty")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedder: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.MaxSequenceLength <= 0 {
		cfg.MaxSequenceLength = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, log: log}, nil
}

// NewWithParts constructs an Engine with a pre-built tokenizer and
// runtime, skipping artifact acquisition. Used by tests and by callers
// that manage model loading themselves.
func NewWithParts(cfg *Config, log *slog.Logger, tok Tokenizer, rt Runtime) (*Engine, error) {
	e, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	if tok == nil || rt == nil {
		return nil, fmt.Errorf("embedder: tokenizer and runtime must not be nil")
	}
	e.tok = tok
	e.rt = rt
	e.loaded = true
	return e, nil
}

// Dimensions returns the configured embedding vector size.
func (e *Engine) Dimensions() int { return e.cfg.Dimensions }

// EmbedText embeds a single string. An empty or all-whitespace input is a
// caller error: nothing should reach the embed path with nothing to embed.
func (e *Engine) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedder: embed called with an empty string")
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds a batch of texts in a single forward pass and returns
// one vector per input, order-preserved. An empty batch returns an empty
// result without error, so callers can pass a possibly-empty list down an
// unconditional path.
//
// Inference failures are logged with the batch size and propagated to the
// caller unmodified; the engine never swallows them, because a caller
// needs to know a vector is missing before treating the operation as
// successful.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	batch := e.tok.Encode(texts)

	hidden, err := e.rt.Forward(ctx, batch)
	if err != nil {
		e.log.Error("embedder: inference failed",
			slog.Int("batch_size", len(texts)),
			slog.String("model", e.cfg.ModelName),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if len(hidden) != len(texts) {
		return nil, fmt.Errorf("embedder: runtime returned %d sequences for %d inputs", len(hidden), len(texts))
	}

	vectors := MeanPool(hidden, batch.AttentionMask)
	L2Normalize(vectors)

	for i, v := range vectors {
		if len(v) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedder: vector %d has dimension %d, want %d", i, len(v), e.cfg.Dimensions)
		}
	}

	e.log.Debug("embedder: batch embedded",
		slog.Int("batch_size", len(texts)),
		slog.Int("dimensions", e.cfg.Dimensions),
	)
	return vectors, nil
}

// ensureLoaded acquires model artifacts and constructs the tokenizer and
// runtime on first use. Subsequent calls return immediately.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}

	dir, err := acquireArtifacts(ctx, e.cfg, e.log)
	if err != nil {
		return fmt.Errorf("embedder: acquiring model artifacts: %w", err)
	}

	tok, err := LoadWordPiece(dir, e.cfg.MaxSequenceLength)
	if err != nil {
		return fmt.Errorf("embedder: loading tokenizer: %w", err)
	}

	e.tok = tok
	e.rt = NewHTTPRuntime(&HTTPRuntimeConfig{
		BaseURL: e.cfg.RuntimeURL,
		Model:   e.cfg.ModelName,
	})
	e.loaded = true

	e.log.Info("embedder: model ready",
		slog.String("model", e.cfg.ModelName),
		slog.String("cache_dir", dir),
	)
	return nil
}
