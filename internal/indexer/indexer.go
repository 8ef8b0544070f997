// Package indexer drives the document indexing pipeline: download the
// blob, extract text, chunk, embed, and persist chunks atomically with
// the final document status. The orchestrator makes no retry decisions;
// it records FAILED and returns the error so the task runner owns the
// retry policy.
package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/castellan-ai/castellan/internal/chunker"
	"github.com/castellan-ai/castellan/internal/extract"
	"github.com/castellan-ai/castellan/internal/search"
	"github.com/castellan-ai/castellan/internal/store"
)

// DocumentStore is the slice of the relational store the orchestrator
// needs.
type DocumentStore interface {
	Document(ctx context.Context, id int64) (*store.Document, error)
	SetStatus(ctx context.Context, id int64, to store.Status) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	PersistIndexed(ctx context.Context, docID int64, chunks []store.Chunk) error
}

// BlobGetter fetches the raw document bytes from object storage.
type BlobGetter interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Embedder turns chunk texts into vectors, one per input, order-preserved.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Orchestrator indexes one document at a time. Safe for concurrent use
// across distinct documents.
type Orchestrator struct {
	store    DocumentStore
	blobs    BlobGetter
	chunker  *chunker.Chunker
	embedder Embedder
	log      *slog.Logger

	// mirror is the optional secondary vector index. Mirror failures are
	// logged, never fatal: the relational store is the source of truth.
	mirror search.Searcher

	// extractText is swapped by tests; defaults to extract.Text.
	extractText func(path string) (string, error)

	// scratchDir holds temporary blob downloads.
	scratchDir string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMirror attaches a secondary vector index that receives a copy of
// every persisted chunk.
func WithMirror(m search.Searcher) Option {
	return func(o *Orchestrator) { o.mirror = m }
}

// WithScratchDir overrides the directory used for temporary downloads.
func WithScratchDir(dir string) Option {
	return func(o *Orchestrator) { o.scratchDir = dir }
}

// WithExtractor overrides text extraction. Used by tests.
func WithExtractor(fn func(path string) (string, error)) Option {
	return func(o *Orchestrator) { o.extractText = fn }
}

// New constructs an Orchestrator.
func New(st DocumentStore, blobs BlobGetter, ch *chunker.Chunker, emb Embedder, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		blobs:       blobs,
		chunker:     ch,
		embedder:    emb,
		log:         log,
		extractText: extract.Text,
		scratchDir:  os.TempDir(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Index runs the full pipeline for one document. The protocol is strictly
// ordered: a missing row fails immediately with nothing to mark, every
// failure after the PROCESSING transition records FAILED with the reason
// and returns the error to the caller, and the source blob is never
// deleted here because later retries need it.
func (o *Orchestrator) Index(ctx context.Context, docID int64) error {
	doc, err := o.store.Document(ctx, docID)
	if err != nil {
		return fmt.Errorf("indexer: load document %d: %w", docID, err)
	}

	if err := o.store.SetStatus(ctx, docID, store.StatusProcessing); err != nil {
		return fmt.Errorf("indexer: document %d: %w", docID, err)
	}

	if err := o.run(ctx, doc); err != nil {
		if markErr := o.store.MarkFailed(ctx, docID, err.Error()); markErr != nil {
			o.log.Error("indexer: could not record failure",
				slog.Int64("document_id", docID),
				slog.String("error", markErr.Error()),
			)
		}
		return fmt.Errorf("indexer: document %d: %w", docID, err)
	}

	o.log.Info("indexer: document indexed",
		slog.Int64("document_id", docID),
		slog.String("title", doc.Title),
	)
	return nil
}

// run executes download through persist. Scratch cleanup always happens;
// a cleanup failure is logged and never escalated.
func (o *Orchestrator) run(ctx context.Context, doc *store.Document) error {
	scratch, err := o.download(ctx, doc)
	if scratch != "" {
		defer func() {
			if rmErr := os.Remove(scratch); rmErr != nil && !os.IsNotExist(rmErr) {
				o.log.Warn("indexer: scratch cleanup failed",
					slog.String("path", scratch),
					slog.String("error", rmErr.Error()),
				)
			}
		}()
	}
	if err != nil {
		return err
	}

	text, err := o.extractText(scratch)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	texts := o.chunker.Split(text)
	if len(texts) == 0 {
		return fmt.Errorf("document has no extractable text")
	}

	// Embedding runs outside any transaction: model inference is the slow
	// step and must not hold a database connection.
	vectors, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedding count %d does not match chunk count %d", len(vectors), len(texts))
	}

	chunks := make([]store.Chunk, len(texts))
	for i, content := range texts {
		chunks[i] = store.Chunk{
			DocumentID: doc.ID,
			Position:   i,
			Content:    content,
			Tier:       doc.Tier,
			Embedding:  vectors[i],
			TokenCount: len(strings.Fields(content)),
			Metadata:   map[string]any{"title": doc.Title},
			Active:     true,
		}
	}

	if err := o.store.PersistIndexed(ctx, doc.ID, chunks); err != nil {
		return err
	}

	o.mirrorChunks(ctx, doc, chunks)
	return nil
}

// download copies the blob into a scratch file and returns its path. The
// path is returned even on error so the caller can clean up a partial
// write.
func (o *Orchestrator) download(ctx context.Context, doc *store.Document) (string, error) {
	rc, err := o.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("download blob: %w", err)
	}
	defer rc.Close()

	f, err := os.CreateTemp(o.scratchDir, "castellan-*"+strings.ToLower(filepath.Ext(doc.Filename)))
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return path, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return path, fmt.Errorf("close scratch file: %w", err)
	}
	return path, nil
}

// mirrorChunks copies persisted chunks into the secondary index.
// Best-effort: the mirror re-syncs on the next re-index.
func (o *Orchestrator) mirrorChunks(ctx context.Context, doc *store.Document, chunks []store.Chunk) {
	if o.mirror == nil {
		return
	}
	points := make([]search.Point, len(chunks))
	for i, c := range chunks {
		points[i] = search.Point{
			ChunkID:    c.ID,
			DocumentID: doc.ID,
			Content:    c.Content,
			Tier:       c.Tier,
			Vector:     c.Embedding,
		}
	}
	if err := o.mirror.Upsert(ctx, points); err != nil {
		o.log.Warn("indexer: vector mirror upsert failed",
			slog.Int64("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
	}
}
