package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/store"
)

// handleCreateConversation handles POST /api/conversations. Anonymous
// callers may open threads; the audit trail records a null identity.
func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}

	var identityID *int64
	if identity := identityFrom(r); identity != nil {
		id := identity.ID
		identityID = &id
	}

	conv, err := s.convs.CreateConversation(r.Context(), identityID, req.Title)
	if err != nil {
		logging.FromContext(r.Context()).Error("conversation: create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create the conversation")
		return
	}

	writeJSON(w, http.StatusCreated, conversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
	})
}

// handleConversation handles GET /api/conversations/{id}: the thread's
// past exchanges, oldest first.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.visibleConversation(w, r)
	if !ok {
		return
	}

	rows, err := s.convs.ConversationHistory(r.Context(), conv.ID, 0)
	if err != nil {
		logging.FromContext(r.Context()).Error("conversation: history failed", "error", err, "conversation_id", conv.ID)
		writeError(w, http.StatusInternalServerError, "could not load the conversation")
		return
	}

	exchanges := make([]exchangeResponse, 0, len(rows))
	for _, row := range rows {
		exchanges = append(exchanges, exchangeResponse{
			ID:         row.ID,
			Query:      row.QueryText,
			Answer:     row.Answer,
			Provenance: row.Provenance,
			CreatedAt:  row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, exchanges)
}

// handleDeleteConversation handles DELETE /api/conversations/{id}. The
// delete is soft; audit rows are immutable and remain.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.visibleConversation(w, r)
	if !ok {
		return
	}

	if err := s.convs.DeleteConversation(r.Context(), conv.ID); err != nil {
		logging.FromContext(r.Context()).Error("conversation: delete failed", "error", err, "conversation_id", conv.ID)
		writeError(w, http.StatusInternalServerError, "could not delete the conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// visibleConversation loads the {id} conversation and enforces ownership.
// Another caller's thread reads as 404, never 403, so thread IDs do not
// leak.
func (s *Server) visibleConversation(w http.ResponseWriter, r *http.Request) (*store.Conversation, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return nil, false
	}

	conv, err := s.convs.Conversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("conversation: lookup failed", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, "could not load the conversation")
		return nil, false
	}

	if conv.IdentityID != nil {
		identity := identityFrom(r)
		if identity == nil || identity.ID != *conv.IdentityID {
			writeError(w, http.StatusNotFound, "conversation not found")
			return nil, false
		}
	}
	return conv, true
}
