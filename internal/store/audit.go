package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Answer provenance tags persisted in the audit trail.
const (
	ProvenanceLLM        = "LLM"
	ProvenanceExtractive = "EXTRACTIVE"
	ProvenanceNoResults  = "NO_RESULTS"
	ProvenanceError      = "ERROR"
)

// RecordQuery appends one immutable audit row. Callers write exactly one
// per query attempt, including failed ones.
func (s *Store) RecordQuery(ctx context.Context, rec *QueryHistory) error {
	rec.CreatedAt = time.Now().UTC()
	if _, err := s.db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("store: record query: %w", err)
	}
	return nil
}

// CreateConversation starts a new conversation thread.
func (s *Store) CreateConversation(ctx context.Context, identityID *int64, title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		IdentityID: identityID,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(conv).Exec(ctx); err != nil {
		return nil, fmt.Errorf("store: create conversation: %w", err)
	}
	return conv, nil
}

// Conversation fetches one conversation row. Soft-deleted conversations
// read as not found.
func (s *Store) Conversation(ctx context.Context, id int64) (*Conversation, error) {
	conv := new(Conversation)
	err := s.db.NewSelect().Model(conv).
		Where("cv.id = ?", id).
		Where("NOT cv.deleted").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: conversation %d: %w", id, err)
	}
	return conv, nil
}

// ConversationHistory returns the audit rows attached to a conversation,
// oldest first.
func (s *Store) ConversationHistory(ctx context.Context, conversationID int64, limit int) ([]QueryHistory, error) {
	var rows []QueryHistory
	q := s.db.NewSelect().Model(&rows).
		Where("qh.conversation_id = ?", conversationID).
		OrderExpr("qh.created_at ASC, qh.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("store: conversation history: %w", err)
	}
	return rows, nil
}

// DeleteConversation soft-deletes a conversation; its audit rows remain.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	_, err := s.db.NewUpdate().Model((*Conversation)(nil)).
		Set("deleted = TRUE").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: delete conversation %d: %w", id, err)
	}
	return nil
}
