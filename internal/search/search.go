// Package search defines the secondary vector-index surface. The
// relational store in internal/store is the source of truth for chunks;
// a Searcher mirrors chunk vectors into a dedicated ANN index for
// deployments where Postgres-side search is too slow.
package search

import (
	"context"

	"github.com/castellan-ai/castellan/internal/tier"
)

// Point is one mirrored chunk vector plus the payload needed to filter
// and display a hit without touching the relational store.
type Point struct {
	// ChunkID is the relational chunk row ID, reused as the point ID.
	ChunkID int64

	// DocumentID is the parent document row ID.
	DocumentID int64

	// Content is the chunk text.
	Content string

	// Tier gates visibility, denormalized exactly like the chunk row.
	Tier tier.Tier

	// Vector is the L2-normalized embedding.
	Vector []float32

	// Score is the cosine similarity assigned during search. Zero on upsert.
	Score float32
}

// Searcher mirrors chunk vectors and answers tier-filtered similarity
// queries. Implementations must be safe for concurrent use.
type Searcher interface {
	// Upsert stores or replaces a batch of points.
	Upsert(ctx context.Context, points []Point) error

	// Search returns the top-k points among the permitted tiers with
	// score at or above minScore, descending by score.
	Search(ctx context.Context, vector []float32, tiers []tier.Tier, k int, minScore float32) ([]Point, error)

	// DeleteDocument removes every point belonging to a document.
	DeleteDocument(ctx context.Context, documentID int64) error

	// Close releases the underlying connection.
	Close() error
}
