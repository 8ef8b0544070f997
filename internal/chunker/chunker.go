// Package chunker splits normalised document text into overlapping
// fixed-size character windows for embedding.
//
// Chunking is done on characters rather than tokens: it keeps the package
// dependency-free while producing reasonably uniform chunks for the
// embedding model. The overlap creates a sliding window so each chunk
// shares context with its neighbours, reducing the chance that a relevant
// sentence is split across a chunk boundary.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
)

// Default window geometry, matching the embedding model's useful input size.
const (
	DefaultSize    = 400
	DefaultOverlap = 50
)

// Chunker splits text into overlapping windows of Size characters,
// advancing Size-Overlap characters per step. It is stateless and safe
// for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New constructs a Chunker. overlap must be strictly smaller than size;
// anything else is a configuration error, never retried downstream.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunker: size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunker: overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunker: overlap (%d) must be smaller than size (%d)", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window size in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured window overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

// Split divides text into overlapping chunks.
//
// Whitespace runs are collapsed to single spaces and the ends trimmed
// before windowing, which prevents near-empty chunks from documents with
// heavy blank-line padding. Empty or all-whitespace input returns a nil
// slice without error. Each window is trimmed; windows that are empty
// after trimming are dropped.
//
// Split is deterministic: the same input always yields the same chunk
// sequence and count. Chunk position in the returned slice is used as a
// uniqueness key downstream, so this determinism is load-bearing.
func (c *Chunker) Split(text string) []string {
	text = normalise(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	stride := c.size - c.overlap

	var chunks []string
	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// normalise collapses every whitespace run (spaces, tabs, newlines) into a
// single space and trims the ends.
func normalise(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
