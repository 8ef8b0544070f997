package embedder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeVocab(t *testing.T, lines []string) string {
	t.Helper()
	dir := t.TempDir()
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, artifactVocab), []byte(content), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return dir
}

func testVocab(t *testing.T) *WordPiece {
	t.Helper()
	dir := writeVocab(t, []string{
		tokenPad, tokenUnk, tokenCls, tokenSep, // 0..3
		"hello", "world", "un", "##break", "##able", ".", // 4..9
	})
	tok, err := LoadWordPiece(dir, 16)
	if err != nil {
		t.Fatalf("LoadWordPiece: %v", err)
	}
	return tok
}

func TestLoadWordPiece_MissingSpecialToken(t *testing.T) {
	t.Parallel()

	dir := writeVocab(t, []string{tokenPad, tokenUnk, tokenCls, "hello"})
	if _, err := LoadWordPiece(dir, 16); err == nil {
		t.Fatal("expected error for vocab without [SEP]")
	}
}

func TestEncode_WrapsAndSubwords(t *testing.T) {
	t.Parallel()

	tok := testVocab(t)
	batch := tok.Encode([]string{"Hello unbreakable world."})
	if len(batch.InputIDs) != 1 {
		t.Fatalf("expected 1 sequence, got %d", len(batch.InputIDs))
	}
	seq := batch.InputIDs[0]

	// [CLS] hello un ##break ##able world . [SEP], lowercased with the
	// trailing period split off as its own token.
	want := []int32{2, 4, 6, 7, 8, 5, 9, 3}
	if len(seq) != len(want) {
		t.Fatalf("sequence %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("sequence %v, want %v", seq, want)
		}
	}
	for _, m := range batch.AttentionMask[0] {
		if m != 1 {
			t.Fatalf("unpadded sequence must have all-ones mask: %v", batch.AttentionMask[0])
		}
	}
}

func TestEncode_PadsBatchToLongest(t *testing.T) {
	t.Parallel()

	tok := testVocab(t)
	batch := tok.Encode([]string{"hello world", "hello"})

	if len(batch.InputIDs[0]) != len(batch.InputIDs[1]) {
		t.Fatalf("batch not rectangular: %d vs %d", len(batch.InputIDs[0]), len(batch.InputIDs[1]))
	}
	short := batch.InputIDs[1]
	mask := batch.AttentionMask[1]
	last := len(short) - 1
	if short[last] != 0 {
		t.Errorf("expected [PAD] id at tail of short sequence, got %d", short[last])
	}
	if mask[last] != 0 {
		t.Errorf("expected mask 0 over padding, got %d", mask[last])
	}
}

func TestEncode_TruncatesToMaxLen(t *testing.T) {
	t.Parallel()

	dir := writeVocab(t, []string{tokenPad, tokenUnk, tokenCls, tokenSep, "hello"})
	tok, err := LoadWordPiece(dir, 4)
	if err != nil {
		t.Fatalf("LoadWordPiece: %v", err)
	}

	batch := tok.Encode([]string{"hello hello hello hello hello"})
	seq := batch.InputIDs[0]
	if len(seq) != 4 {
		t.Fatalf("expected truncation to 4 tokens, got %d", len(seq))
	}
	if seq[0] != tok.clsID || seq[len(seq)-1] != tok.sepID {
		t.Fatalf("truncated sequence must keep [CLS] and [SEP]: %v", seq)
	}
}

func TestEncode_UnknownWordBecomesUnk(t *testing.T) {
	t.Parallel()

	tok := testVocab(t)
	batch := tok.Encode([]string{"zzzqqq"})
	seq := batch.InputIDs[0]
	if len(seq) != 3 || seq[1] != tok.unkID {
		t.Fatalf("expected [CLS] [UNK] [SEP], got %v", seq)
	}
}
