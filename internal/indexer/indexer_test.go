package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/castellan-ai/castellan/internal/blob"
	"github.com/castellan-ai/castellan/internal/chunker"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tier"
)

// fakeStore records status transitions and persisted chunks in memory.
type fakeStore struct {
	docs       map[int64]*store.Document
	chunks     map[int64][]store.Chunk
	persistErr error
	failures   []string
}

func newFakeStore(docs ...*store.Document) *fakeStore {
	f := &fakeStore{
		docs:   make(map[int64]*store.Document),
		chunks: make(map[int64][]store.Chunk),
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *fakeStore) Document(_ context.Context, id int64) (*store.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d: %w", id, store.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) SetStatus(_ context.Context, id int64, to store.Status) error {
	d := f.docs[id]
	if !store.CanTransition(d.Status, to) {
		return fmt.Errorf("illegal transition %s -> %s", d.Status, to)
	}
	d.Status = to
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64, reason string) error {
	d := f.docs[id]
	d.Status = store.StatusFailed
	d.LastError = reason
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeStore) PersistIndexed(_ context.Context, docID int64, chunks []store.Chunk) error {
	if f.persistErr != nil {
		// Atomic: on failure nothing is written.
		return f.persistErr
	}
	f.chunks[docID] = chunks
	d := f.docs[docID]
	d.Status = store.StatusIndexed
	d.ChunkCount = len(chunks)
	return nil
}

// fakeEmbedder returns a unit vector per input, or a canned error.
type fakeEmbedder struct {
	err   error
	short bool
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func testOrchestrator(t *testing.T, fs *fakeStore, emb Embedder, body string) *Orchestrator {
	t.Helper()

	blobs := blob.NewMemory()
	if body != "" {
		key := "MID/2026/01/01/doc_x.txt"
		if err := blobs.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
			t.Fatal(err)
		}
	}

	ch, err := chunker.New(400, 50)
	if err != nil {
		t.Fatal(err)
	}
	return New(fs, blobs, ch, emb, slog.New(slog.DiscardHandler), WithScratchDir(t.TempDir()))
}

func testDoc() *store.Document {
	return &store.Document{
		ID:         1,
		Title:      "handbook",
		Tier:       tier.Mid,
		Status:     store.StatusPending,
		StorageKey: "MID/2026/01/01/doc_x.txt",
		Filename:   "doc.txt",
	}
}

func TestIndex_ThousandCharsYieldsThreeChunks(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("a", 1000)
	fs := newFakeStore(testDoc())
	o := testOrchestrator(t, fs, &fakeEmbedder{}, body)

	if err := o.Index(context.Background(), 1); err != nil {
		t.Fatalf("Index: %v", err)
	}

	d := fs.docs[1]
	if d.Status != store.StatusIndexed {
		t.Fatalf("status = %s, want INDEXED", d.Status)
	}
	if d.ChunkCount != 3 {
		t.Errorf("chunk_count = %d, want 3", d.ChunkCount)
	}
	chunks := fs.chunks[1]
	if len(chunks) != 3 {
		t.Fatalf("persisted %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Position != i {
			t.Errorf("chunk %d has position %d", i, c.Position)
		}
		if c.Tier != tier.Mid {
			t.Errorf("chunk %d tier = %s, want parent tier MID", i, c.Tier)
		}
		if !c.Active {
			t.Errorf("chunk %d not active", i)
		}
	}
}

func TestIndex_MissingDocumentFailsWithoutMarking(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	o := testOrchestrator(t, fs, &fakeEmbedder{}, "")

	err := o.Index(context.Background(), 42)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(fs.failures) != 0 {
		t.Errorf("nothing should be marked failed for a missing row: %v", fs.failures)
	}
}

func TestIndex_EmptyTextIsHardFailure(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(testDoc())
	o := testOrchestrator(t, fs, &fakeEmbedder{}, "   \n\t  ")

	if err := o.Index(context.Background(), 1); err == nil {
		t.Fatal("expected error for whitespace-only document")
	}
	if fs.docs[1].Status != store.StatusFailed {
		t.Errorf("status = %s, want FAILED", fs.docs[1].Status)
	}
	if fs.docs[1].LastError == "" {
		t.Error("expected a recorded failure reason")
	}
}

func TestIndex_EmbeddingCountMismatchIsHardFailure(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(testDoc())
	o := testOrchestrator(t, fs, &fakeEmbedder{short: true}, strings.Repeat("b", 1000))

	if err := o.Index(context.Background(), 1); err == nil {
		t.Fatal("expected error for vector/chunk count mismatch")
	}
	if fs.docs[1].Status != store.StatusFailed {
		t.Errorf("status = %s, want FAILED", fs.docs[1].Status)
	}
	if len(fs.chunks[1]) != 0 {
		t.Errorf("no chunks may be persisted on mismatch, got %d", len(fs.chunks[1]))
	}
}

func TestIndex_PersistFailureLeavesNoChunks(t *testing.T) {
	t.Parallel()

	fs := newFakeStore(testDoc())
	fs.persistErr = errors.New("connection reset")
	o := testOrchestrator(t, fs, &fakeEmbedder{}, strings.Repeat("c", 1000))

	err := o.Index(context.Background(), 1)
	if err == nil {
		t.Fatal("expected persist error to propagate")
	}
	if fs.docs[1].Status != store.StatusFailed {
		t.Errorf("status = %s, want FAILED", fs.docs[1].Status)
	}
	if len(fs.chunks[1]) != 0 {
		t.Errorf("partial chunk set persisted: %d rows", len(fs.chunks[1]))
	}
}

func TestIndex_EmbedderErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("model unavailable")
	fs := newFakeStore(testDoc())
	o := testOrchestrator(t, fs, &fakeEmbedder{err: boom}, strings.Repeat("d", 500))

	err := o.Index(context.Background(), 1)
	if !errors.Is(err, boom) {
		t.Fatalf("expected embedder error, got %v", err)
	}
	if fs.docs[1].Status != store.StatusFailed {
		t.Errorf("status = %s, want FAILED", fs.docs[1].Status)
	}
}

func TestIndex_RedeliveryFromProcessing(t *testing.T) {
	t.Parallel()

	// A crash mid-attempt leaves the row PROCESSING; the recovered job
	// re-runs the whole attempt and must be able to finish it.
	doc := testDoc()
	doc.Status = store.StatusProcessing
	fs := newFakeStore(doc)
	o := testOrchestrator(t, fs, &fakeEmbedder{}, strings.Repeat("f", 1000))

	if err := o.Index(context.Background(), 1); err != nil {
		t.Fatalf("redelivered attempt must be legal: %v", err)
	}
	if fs.docs[1].Status != store.StatusIndexed {
		t.Errorf("status = %s, want INDEXED", fs.docs[1].Status)
	}
	if len(fs.chunks[1]) != 3 {
		t.Errorf("persisted %d chunks, want 3", len(fs.chunks[1]))
	}
}

func TestIndex_RetryReentryFromFailed(t *testing.T) {
	t.Parallel()

	doc := testDoc()
	doc.Status = store.StatusFailed
	fs := newFakeStore(doc)
	o := testOrchestrator(t, fs, &fakeEmbedder{}, strings.Repeat("e", 1000))

	if err := o.Index(context.Background(), 1); err != nil {
		t.Fatalf("retry from FAILED must be legal: %v", err)
	}
	if fs.docs[1].Status != store.StatusIndexed {
		t.Errorf("status = %s, want INDEXED", fs.docs[1].Status)
	}
}
