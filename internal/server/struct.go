package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/castellan-ai/castellan/internal/blob"
	"github.com/castellan-ai/castellan/internal/rag"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tier"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Defaults to 5 minutes; generation on CPU is slow.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	Logger *slog.Logger
	// RateLimit is the sustained request rate allowed per IP on
	// rate-limited endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20.
	RateBurst int
	// MaxUploadBytes caps document upload size. Defaults to 50 MiB.
	MaxUploadBytes int64
	// PresignTTL is the lifetime of generated download URLs. Defaults to
	// 15 minutes.
	PresignTTL time.Duration
}

// querier is the interface handleQuery calls. *rag.Pipeline satisfies it;
// tests inject a fake.
type querier interface {
	Query(ctx context.Context, req rag.Request) *rag.Response
}

// documentStore is the slice of the relational store the handlers use.
type documentStore interface {
	CreateDocument(ctx context.Context, doc *store.Document) error
	Document(ctx context.Context, id int64) (*store.Document, error)
	Documents(ctx context.Context, tiers []tier.Tier, limit int) ([]store.Document, error)
}

// conversationStore groups query exchanges into threads.
type conversationStore interface {
	CreateConversation(ctx context.Context, identityID *int64, title string) (*store.Conversation, error)
	Conversation(ctx context.Context, id int64) (*store.Conversation, error)
	ConversationHistory(ctx context.Context, conversationID int64, limit int) ([]store.QueryHistory, error)
	DeleteConversation(ctx context.Context, id int64) error
}

// enqueuer schedules background indexing after the document row commits.
type enqueuer interface {
	Enqueue(ctx context.Context, documentID int64) error
}

// Server exposes the upload and query API.
type Server struct {
	cfg        *Config
	pipeline   querier
	docs       documentStore
	convs      conversationStore
	blobs      blob.Store
	queue      enqueuer
	httpServer *http.Server
	log        *slog.Logger
	metrics    *serverMetrics
	// stopRL stops the rate limiter's eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural-language question.
	Query string `json:"query"`
	// ConversationID optionally attaches the exchange to a conversation.
	ConversationID *int64 `json:"conversation_id,omitempty"`
}

// uploadResponse is the JSON response for POST /api/documents.
type uploadResponse struct {
	// ID is the new document row ID.
	ID int64 `json:"id"`
	// Title echoes the stored title.
	Title string `json:"title"`
	// Tier is the security tier the document was stored under.
	Tier tier.Tier `json:"tier"`
	// Status is the initial lifecycle status (always PENDING).
	Status store.Status `json:"status"`
}

// documentResponse is the JSON shape of one document row.
type documentResponse struct {
	ID         int64        `json:"id"`
	Title      string       `json:"title"`
	Tier       tier.Tier    `json:"tier"`
	FileType   string       `json:"file_type"`
	SizeBytes  int64        `json:"size_bytes"`
	Status     store.Status `json:"status"`
	ChunkCount int          `json:"chunk_count"`
	LastError  string       `json:"last_error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// presignResponse is the JSON response for GET /api/documents/{id}/download.
type presignResponse struct {
	// URL is the time-limited download URL.
	URL string `json:"url"`
	// ExpiresIn is the URL lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// conversationRequest is the JSON body for POST /api/conversations.
type conversationRequest struct {
	// Title names the thread. Defaults to "New conversation".
	Title string `json:"title"`
}

// conversationResponse is the JSON shape of one conversation row.
type conversationResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// exchangeResponse is one past query/answer pair in a conversation.
type exchangeResponse struct {
	ID         int64     `json:"id"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer,omitempty"`
	Provenance string    `json:"provenance"`
	CreatedAt  time.Time `json:"created_at"`
}

// errorResponse is the JSON error payload.
type errorResponse struct {
	Error string `json:"error"`
}
