package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/castellan-ai/castellan/internal/blob"
	"github.com/castellan-ai/castellan/internal/chunker"
	"github.com/castellan-ai/castellan/internal/config"
	"github.com/castellan-ai/castellan/internal/embedder"
	"github.com/castellan-ai/castellan/internal/indexer"
	"github.com/castellan-ai/castellan/internal/provider"
	"github.com/castellan-ai/castellan/internal/search"
	"github.com/castellan-ai/castellan/internal/store"
)

// providerConfig maps the YAML model section onto the provider package's
// backend-neutral configuration.
func providerConfig(mc *config.ModelConfig) *provider.Config {
	pc := &provider.Config{
		Backend:     provider.Backend(mc.Provider),
		MaxTokens:   mc.MaxNewTokens,
		Temperature: mc.Temperature,
	}

	switch pc.Backend {
	case provider.BackendOpenAI:
		pc.Model = mc.OpenAI.Model
		pc.APIKey = mc.OpenAI.APIKey
	case provider.BackendAzure:
		pc.BaseURL = mc.Azure.Endpoint
		pc.APIKey = mc.Azure.APIKey
		pc.AzureDeployment = mc.Azure.Deployment
		pc.AzureAPIVersion = mc.Azure.APIVersion
	default:
		pc.Model = mc.Ollama.Model
		pc.BaseURL = mc.Ollama.Host
	}

	return pc
}

// newEmbedder constructs the embedding engine from configuration. Model
// artifacts are acquired lazily on first use, not here.
func newEmbedder(log *slog.Logger) (*embedder.Engine, error) {
	return embedder.New(&embedder.Config{
		ModelName:         cfg.Embedding.ModelName,
		RegistryURL:       cfg.Embedding.RegistryURL,
		CacheDir:          cfg.Embedding.CacheDir,
		RuntimeURL:        cfg.Embedding.RuntimeURL,
		Dimensions:        cfg.Embedding.Dimensions,
		MaxSequenceLength: cfg.Embedding.MaxSequenceLength,
	}, log)
}

// newBlobStore connects to the object store and ensures the bucket exists.
func newBlobStore(ctx context.Context, log *slog.Logger) (*blob.MinIO, error) {
	return blob.NewMinIO(ctx, &blob.MinIOConfig{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
		UseSSL:    cfg.Blob.UseSSL,
	}, log)
}

// newOrchestrator assembles the indexing pipeline: chunker, embedder, and
// the optional Qdrant mirror. The returned cleanup func closes the mirror
// connection and must be called even when a later setup step fails.
func newOrchestrator(ctx context.Context, st *store.Store, blobs *blob.MinIO, emb *embedder.Engine, log *slog.Logger) (*indexer.Orchestrator, func(), error) {
	ch, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, func() {}, fmt.Errorf("chunker: %w", err)
	}

	var opts []indexer.Option
	cleanup := func() {}

	if cfg.Qdrant.Enabled {
		q, err := search.NewQdrant(ctx, &search.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			VectorSize: uint64(cfg.Embedding.Dimensions), //nolint:gosec // dimensions are bounded
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.TLS,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("qdrant mirror: %w", err)
		}
		opts = append(opts, indexer.WithMirror(q))
		cleanup = func() { _ = q.Close() }
		log.Info("qdrant mirror enabled",
			slog.String("host", cfg.Qdrant.Host),
			slog.Int("port", cfg.Qdrant.Port),
			slog.String("collection", cfg.Qdrant.Collection),
		)
	}

	return indexer.New(st, blobs, ch, emb, log, opts...), cleanup, nil
}
