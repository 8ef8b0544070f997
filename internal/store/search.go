package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/castellan-ai/castellan/internal/tier"
)

// SearchChunks runs the tier-constrained similarity search. Only active
// chunks whose tier is in the permitted set are eligible; similarity is
// cosine (1 minus the pgvector cosine distance), candidates below
// minSimilarity are discarded before ranking, and the survivors come back
// in descending similarity order truncated to k.
func (s *Store) SearchChunks(ctx context.Context, queryVec []float32, tiers []tier.Tier, k int, minSimilarity float64) ([]ScoredChunk, error) {
	if len(tiers) == 0 {
		return nil, nil
	}

	var hits []ScoredChunk
	err := s.db.NewSelect().Model(&hits).
		ColumnExpr("c.*").
		ColumnExpr("1 - (c.embedding <=> ?) AS similarity", pgvector(queryVec)).
		Where("c.active = TRUE").
		Where("c.tier IN (?)", bun.In(tiers)).
		Where("1 - (c.embedding <=> ?) >= ?", pgvector(queryVec), minSimilarity).
		OrderExpr("similarity DESC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: search chunks: %w", err)
	}
	return hits, nil
}

// pgvector renders a float32 slice as a pgvector literal. The driver has
// no native codec for the vector type, so the value is bound as text and
// cast server-side by the <=> operator.
func pgvector(v []float32) string {
	buf := make([]byte, 0, len(v)*12+2)
	buf = append(buf, '[')
	for i, x := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = fmt.Appendf(buf, "%g", x)
	}
	return string(append(buf, ']'))
}
