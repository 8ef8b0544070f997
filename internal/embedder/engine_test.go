package embedder

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
)

// fakeTokenizer maps each text to a fixed-length sequence of its rune
// count, padding the batch like the real tokenizer does.
type fakeTokenizer struct{}

func (fakeTokenizer) Encode(texts []string) *Batch {
	b := &Batch{
		InputIDs:      make([][]int32, len(texts)),
		AttentionMask: make([][]int32, len(texts)),
	}
	for i := range texts {
		b.InputIDs[i] = []int32{1, 2, 3}
		b.AttentionMask[i] = []int32{1, 1, 0}
	}
	return b
}

// fakeRuntime returns canned hidden states or a canned error.
type fakeRuntime struct {
	hidden [][][]float32
	err    error
}

func (f *fakeRuntime) Forward(_ context.Context, _ *Batch) ([][][]float32, error) {
	return f.hidden, f.err
}

func testEngine(t *testing.T, rt Runtime) *Engine {
	t.Helper()
	e, err := NewWithParts(&Config{
		ModelName:         "test/model",
		Dimensions:        3,
		MaxSequenceLength: 8,
	}, slog.New(slog.DiscardHandler), fakeTokenizer{}, rt)
	if err != nil {
		t.Fatalf("NewWithParts: %v", err)
	}
	return e
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	e := testEngine(t, &fakeRuntime{})
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("expected empty result, got %d vectors", len(vecs))
	}
}

func TestEmbedText_RejectsEmptyString(t *testing.T) {
	t.Parallel()

	e := testEngine(t, &fakeRuntime{})
	if _, err := e.EmbedText(context.Background(), "   "); err == nil {
		t.Fatal("expected error for whitespace-only input")
	}
}

func TestEmbedBatch_NormalisesAndPreservesOrder(t *testing.T) {
	t.Parallel()

	// Two sequences of three tokens each; the third token is padding
	// (mask 0) and carries garbage the pool must ignore.
	rt := &fakeRuntime{hidden: [][][]float32{
		{{2, 0, 0}, {4, 0, 0}, {99, 99, 99}},
		{{0, 1, 0}, {0, 3, 0}, {-5, -5, -5}},
	}}
	e := testEngine(t, rt)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}

	// Masked mean of the first row is (3,0,0); after L2 it must point
	// along the first axis. The second points along the second axis.
	if vecs[0][0] < 0.99 || vecs[1][1] < 0.99 {
		t.Fatalf("order or pooling broken: %v", vecs)
	}
	for i, v := range vecs {
		var sq float64
		for _, x := range v {
			sq += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sq)-1.0) > 1e-5 {
			t.Errorf("vector %d norm = %v, want 1.0", i, math.Sqrt(sq))
		}
	}
}

func TestEmbedBatch_PropagatesRuntimeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("inference exploded")
	e := testEngine(t, &fakeRuntime{err: boom})
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected runtime error propagated unmodified, got %v", err)
	}
}

func TestEmbedBatch_RejectsCountMismatch(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{hidden: [][][]float32{{{1, 0, 0}}}}
	e := testEngine(t, rt)
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when runtime returns fewer sequences than inputs")
	}
}

func TestEmbedBatch_RejectsWrongDimension(t *testing.T) {
	t.Parallel()

	rt := &fakeRuntime{hidden: [][][]float32{
		{{1, 0}, {1, 0}, {0, 0}},
	}}
	e := testEngine(t, rt)
	if _, err := e.EmbedBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error for 2-dim vector when 3 configured")
	}
}

func TestL2Normalize_ZeroVectorStaysZero(t *testing.T) {
	t.Parallel()

	vecs := [][]float32{{0, 0, 0}}
	L2Normalize(vecs)
	for _, x := range vecs[0] {
		if x != 0 {
			t.Fatalf("zero vector was modified: %v", vecs[0])
		}
	}
}

func TestMeanPool_AllPaddingRow(t *testing.T) {
	t.Parallel()

	hidden := [][][]float32{{{5, 5}, {5, 5}}}
	mask := [][]int32{{0, 0}}
	out := MeanPool(hidden, mask)
	// Divisor is clipped, not zero, so the result is finite.
	for _, x := range out[0] {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			t.Fatalf("non-finite pooled value: %v", out[0])
		}
	}
}
