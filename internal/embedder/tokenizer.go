package embedder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Special token literals used by BERT-family vocabularies.
const (
	tokenPad = "[PAD]"
	tokenUnk = "[UNK]"
	tokenCls = "[CLS]"
	tokenSep = "[SEP]"

	// maxWordChars guards the greedy matcher against pathological inputs;
	// longer words map straight to [UNK], matching common tokenizer behaviour.
	maxWordChars = 100
)

// WordPiece is a greedy longest-match subword tokenizer over a
// BERT-style vocab.txt (one token per line, ID = line number). It
// lowercases input (uncased models) and splits on whitespace and
// punctuation before subword matching; continuation pieces carry the
// "##" prefix.
type WordPiece struct {
	vocab  map[string]int32
	maxLen int

	padID, unkID, clsID, sepID int32
}

// LoadWordPiece reads vocab.txt from dir and constructs a WordPiece
// tokenizer with the given maximum sequence length (including the [CLS]
// and [SEP] markers).
func LoadWordPiece(dir string, maxLen int) (*WordPiece, error) {
	path := filepath.Join(dir, artifactVocab)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab %s: %w", path, err)
	}
	defer f.Close()

	vocab := make(map[string]int32, 32768)
	scanner := bufio.NewScanner(f)
	var id int32
	for scanner.Scan() {
		vocab[strings.TrimRight(scanner.Text(), "\r\n")] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab %s: %w", path, err)
	}

	tok := &WordPiece{vocab: vocab, maxLen: maxLen}
	for _, sp := range []struct {
		lit string
		dst *int32
	}{
		{tokenPad, &tok.padID},
		{tokenUnk, &tok.unkID},
		{tokenCls, &tok.clsID},
		{tokenSep, &tok.sepID},
	} {
		v, ok := vocab[sp.lit]
		if !ok {
			return nil, fmt.Errorf("vocab %s is missing special token %s", path, sp.lit)
		}
		*sp.dst = v
	}
	return tok, nil
}

// Encode tokenises a batch of texts together: each text is truncated to
// the maximum sequence length, then the whole batch is padded to its
// longest member so padding is computed once across the batch.
func (w *WordPiece) Encode(texts []string) *Batch {
	ids := make([][]int32, len(texts))
	longest := 0
	for i, text := range texts {
		seq := w.encodeOne(text)
		ids[i] = seq
		if len(seq) > longest {
			longest = len(seq)
		}
	}

	batch := &Batch{
		InputIDs:      make([][]int32, len(texts)),
		AttentionMask: make([][]int32, len(texts)),
	}
	for i, seq := range ids {
		padded := make([]int32, longest)
		mask := make([]int32, longest)
		copy(padded, seq)
		for p := range padded {
			if p < len(seq) {
				mask[p] = 1
			} else {
				padded[p] = w.padID
			}
		}
		batch.InputIDs[i] = padded
		batch.AttentionMask[i] = mask
	}
	return batch
}

// encodeOne produces [CLS] pieces... [SEP], truncated to maxLen.
func (w *WordPiece) encodeOne(text string) []int32 {
	out := []int32{w.clsID}
	budget := w.maxLen - 2 // reserve [CLS] and [SEP]

	for _, word := range splitWords(strings.ToLower(text)) {
		if len(out)-1 >= budget {
			break
		}
		pieces := w.wordPieces(word)
		for _, p := range pieces {
			if len(out)-1 >= budget {
				break
			}
			out = append(out, p)
		}
	}
	return append(out, w.sepID)
}

// wordPieces runs greedy longest-match over a single word, emitting
// "##"-prefixed continuation pieces. A word with no match anywhere
// becomes a single [UNK].
func (w *WordPiece) wordPieces(word string) []int32 {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int32{w.unkID}
	}

	var pieces []int32
	start := 0
	for start < len(runes) {
		end := len(runes)
		var match int32 = -1
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if id, ok := w.vocab[candidate]; ok {
				match = id
				break
			}
			end--
		}
		if match < 0 {
			return []int32{w.unkID}
		}
		pieces = append(pieces, match)
		start = end
	}
	return pieces
}

// splitWords breaks text into words on whitespace, emitting punctuation
// runes as standalone words, BERT basic-tokenizer style.
func splitWords(text string) []string {
	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			words = append(words, b.String())
			b.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return words
}
