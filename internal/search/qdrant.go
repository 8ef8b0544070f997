package search

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/castellan-ai/castellan/internal/tier"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name chunk vectors mirror into.
	Collection string

	// VectorSize is the dimensionality of the mirrored embeddings.
	VectorSize uint64

	// APIKey is the optional API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Qdrant implements Searcher backed by a Qdrant collection.
type Qdrant struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrant connects to Qdrant and ensures the target collection exists.
func NewQdrant(ctx context.Context, cfg *QdrantConfig) (*Qdrant, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create qdrant client: %w", err)
	}

	q := &Qdrant{client: client, cfg: cfg}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// ensureCollection creates the collection if it does not already exist.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("search: check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("search: create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// Upsert mirrors a batch of chunk points into the collection.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(p.ChunkID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": p.DocumentID,
				"content":     p.Content,
				"tier":        string(p.Tier),
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("search: upsert: %w", err)
	}
	return nil
}

// Search runs a cosine similarity query filtered to the permitted tiers.
// The tier filter is applied server-side so over-tier content never
// leaves the index.
func (q *Qdrant) Search(ctx context.Context, vector []float32, tiers []tier.Tier, k int, minScore float32) ([]Point, error) {
	if len(tiers) == 0 {
		return nil, nil
	}

	keywords := make([]string, len(tiers))
	for i, t := range tiers {
		keywords[i] = string(t)
	}

	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		ScoreThreshold: &minScore,
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords("tier", keywords...),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}

	points := make([]Point, 0, len(results))
	for _, r := range results {
		p := Point{
			ChunkID: int64(r.Id.GetNum()),
			Score:   r.Score,
		}
		if payload := r.Payload; payload != nil {
			if v, ok := payload["document_id"]; ok {
				p.DocumentID = v.GetIntegerValue()
			}
			if v, ok := payload["content"]; ok {
				p.Content = v.GetStringValue()
			}
			if v, ok := payload["tier"]; ok {
				p.Tier = tier.Tier(v.GetStringValue())
			}
		}
		points = append(points, p)
	}
	return points, nil
}

// DeleteDocument removes every mirrored point for a document.
func (q *Qdrant) DeleteDocument(ctx context.Context, documentID int64) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("search: delete document %d: %w", documentID, err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}
