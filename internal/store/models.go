package store

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/castellan-ai/castellan/internal/tier"
)

// Document is one uploaded file's metadata row. The blob itself lives in
// object storage under StorageKey.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID         int64     `bun:"id,pk,autoincrement"`
	OwnerID    *int64    `bun:"owner_id"`
	Title      string    `bun:"title,notnull,unique"`
	Tier       tier.Tier `bun:"tier,notnull"`
	FileType   string    `bun:"file_type,notnull"`
	SizeBytes  int64     `bun:"size_bytes,notnull"`
	StorageKey string    `bun:"storage_key,notnull"`
	Filename   string    `bun:"filename,notnull"`
	Status     Status    `bun:"status,notnull,default:'PENDING'"`
	ChunkCount int       `bun:"chunk_count,notnull,default:0"`
	LastError  string    `bun:"last_error,nullzero"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Chunk is one fragment of a document's text plus its embedding. Tier is
// denormalized from the parent at index time so retrieval filters without
// a join; a later tier change on the parent does not rewrite chunks
// unless the document is re-indexed.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         int64          `bun:"id,pk,autoincrement"`
	DocumentID int64          `bun:"document_id,notnull,unique:uq_chunk_doc_pos"`
	Position   int            `bun:"position,notnull,unique:uq_chunk_doc_pos"`
	Content    string         `bun:"content,notnull"`
	Tier       tier.Tier      `bun:"tier,notnull"`
	Embedding  []float32      `bun:"embedding,notnull,type:vector(384)"`
	TokenCount int            `bun:"token_count,notnull,default:0"`
	Metadata   map[string]any `bun:"metadata,type:jsonb,nullzero"`
	Active     bool           `bun:"active,notnull,default:true"`
	CreatedAt  time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}

// QueryHistory is the immutable audit record of one query attempt.
// Exactly one row is written per attempt, success or failure, and no row
// is ever updated afterward.
type QueryHistory struct {
	bun.BaseModel `bun:"table:query_history,alias:qh"`

	ID             int64     `bun:"id,pk,autoincrement"`
	IdentityID     *int64    `bun:"identity_id"`
	ConversationID *int64    `bun:"conversation_id"`
	QueryText      string    `bun:"query_text,notnull"`
	QueryVector    []float32 `bun:"query_vector,type:vector(384),nullzero"`
	ChunkCount     int       `bun:"chunk_count,notnull,default:0"`
	ChunkIDs       []int64   `bun:"chunk_ids,array,nullzero"`
	Answer         string    `bun:"answer,nullzero"`
	Provenance     string    `bun:"provenance,notnull"`
	LatencyMS      int64     `bun:"latency_ms,notnull,default:0"`
	TokenCount     int       `bun:"token_count,notnull,default:0"`
	Tier           tier.Tier `bun:"tier,notnull"`
	ErrorReason    string    `bun:"error_reason,nullzero"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Conversation groups a sequence of query exchanges under a title.
type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:cv"`

	ID         int64     `bun:"id,pk,autoincrement"`
	IdentityID *int64    `bun:"identity_id"`
	Title      string    `bun:"title,notnull"`
	Deleted    bool      `bun:"deleted,notnull,default:false"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ScoredChunk is a retrieval hit: the chunk plus its cosine similarity.
type ScoredChunk struct {
	Chunk
	Similarity float64 `bun:"similarity,scanonly"`
}
