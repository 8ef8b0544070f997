// Package store persists documents, chunks and query audit records in
// Postgres with the pgvector extension. All chunk writes for a document
// happen in one transaction so a crash can never leave an INDEXED row
// with missing chunks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/castellan-ai/castellan/internal/tier"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the relational/vector database.
type Store struct {
	db  *bun.DB
	log *slog.Logger
}

// Open connects to Postgres at dsn and runs schema migration.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	s := &Store{db: db, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing bun.DB without migrating. Used by tests.
func NewWithDB(db *bun.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("store: enable pgvector: %w", err)
	}

	models := []any{
		(*Document)(nil),
		(*Chunk)(nil),
		(*Conversation)(nil),
		(*QueryHistory)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("store: migrate %T: %w", m, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_chunks_tier_active ON chunks (tier, active)",
		"CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)",
		"CREATE INDEX IF NOT EXISTS idx_query_history_identity ON query_history (identity_id, created_at)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store: migrate index: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// CreateDocument inserts a new PENDING document row and fills in its ID.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if _, err := s.db.NewInsert().Model(doc).Exec(ctx); err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	return nil
}

// Document loads one document by ID.
func (s *Store) Document(ctx context.Context, id int64) (*Document, error) {
	doc := new(Document)
	err := s.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load document %d: %w", id, err)
	}
	return doc, nil
}

// Documents lists documents whose tier is in the permitted set, newest
// first.
func (s *Store) Documents(ctx context.Context, tiers []tier.Tier, limit int) ([]Document, error) {
	var docs []Document
	q := s.db.NewSelect().Model(&docs).
		Where("d.tier IN (?)", bun.In(tiers)).
		OrderExpr("d.created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	return docs, nil
}

// SetStatus moves a document to a new status, validating the transition
// against the document's current status.
func (s *Store) SetStatus(ctx context.Context, id int64, to Status) error {
	doc, err := s.Document(ctx, id)
	if err != nil {
		return err
	}
	if err := checkTransition(doc.Status, to); err != nil {
		return err
	}

	_, err = s.db.NewUpdate().Model((*Document)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: set status %s on document %d: %w", to, id, err)
	}
	return nil
}

// MarkFailed records a failed indexing attempt: status FAILED plus the
// human-readable reason.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.NewUpdate().Model((*Document)(nil)).
		Set("status = ?", StatusFailed).
		Set("last_error = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: mark document %d failed: %w", id, err)
	}
	return nil
}

// PersistIndexed writes all chunk rows and flips the document to INDEXED
// with the matching chunk_count, atomically. Any existing chunks for the
// document are replaced, so a retry after a failed attempt cannot leave a
// stale partial set behind.
func (s *Store) PersistIndexed(ctx context.Context, docID int64, chunks []Chunk) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).
			Where("document_id = ?", docID).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear previous chunks: %w", err)
		}

		if _, err := tx.NewInsert().Model(&chunks).Exec(ctx); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}

		res, err := tx.NewUpdate().Model((*Document)(nil)).
			Set("status = ?", StatusIndexed).
			Set("chunk_count = ?", len(chunks)).
			Set("last_error = NULL").
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", docID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: persist indexed document %d: %w", docID, err)
	}
	return nil
}

// ChunkCount reports the number of persisted chunk rows for a document.
func (s *Store) ChunkCount(ctx context.Context, docID int64) (int, error) {
	n, err := s.db.NewSelect().Model((*Chunk)(nil)).
		Where("document_id = ?", docID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: count chunks for document %d: %w", docID, err)
	}
	return n, nil
}

// UpdateDocumentTier reclassifies the document row only. Chunk rows keep
// the tier they were indexed with; a re-index is the one path that
// propagates the new tier into retrieval.
func (s *Store) UpdateDocumentTier(ctx context.Context, id int64, t tier.Tier) error {
	if !t.Valid() {
		return fmt.Errorf("store: invalid tier %q", t)
	}
	res, err := s.db.NewUpdate().Model((*Document)(nil)).
		Set("tier = ?", t).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: update tier for document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes the document row; chunk rows cascade through the
// explicit delete so the two never drift.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Chunk)(nil)).
			Where("document_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*Document)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: delete document %d: %w", id, err)
	}
	return nil
}
