// Package rag runs the query pipeline: resolve the identity's permitted
// tiers, embed the question, retrieve similar chunks, assemble a bounded
// context, generate a grounded answer, and write exactly one audit
// record. The pipeline never lets an error escape its boundary; every
// failure becomes a structured failure response with an ERROR audit row.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/castellan-ai/castellan/internal/generator"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tier"
)

// Embedder produces the query vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs the tier-constrained similarity search.
type Retriever interface {
	SearchChunks(ctx context.Context, queryVec []float32, tiers []tier.Tier, k int, minSimilarity float64) ([]store.ScoredChunk, error)
}

// Generator produces the final answer. Never fails.
type Generator interface {
	Generate(ctx context.Context, query, contextText string) generator.Result
}

// Auditor persists the per-attempt audit record.
type Auditor interface {
	RecordQuery(ctx context.Context, rec *store.QueryHistory) error
}

// Config bounds retrieval and context assembly.
type Config struct {
	// TopK is the maximum number of chunks retrieved.
	TopK int
	// MinSimilarity discards low-confidence matches before ranking.
	MinSimilarity float64
	// MaxContextChars is the character budget for the assembled context.
	MaxContextChars int
}

// Request is one query attempt.
type Request struct {
	// Identity is nil for anonymous callers.
	Identity *tier.Identity
	// ConversationID optionally attaches the exchange to a conversation.
	ConversationID *int64
	// Query is the natural-language question.
	Query string
}

// Source describes one retrieved chunk in the response. Only chunks the
// identity was permitted to see ever appear here.
type Source struct {
	ChunkID    int64     `json:"chunk_id"`
	DocumentID int64     `json:"document_id"`
	Title      string    `json:"title"`
	Tier       tier.Tier `json:"tier"`
	Similarity float64   `json:"similarity"`
}

// Response is the structured result of a query attempt. A failed attempt
// has Success=false and a human-readable Error instead of a raw error.
type Response struct {
	Success    bool      `json:"success"`
	Answer     string    `json:"answer,omitempty"`
	Provenance string    `json:"provenance"`
	Sources    []Source  `json:"sources,omitempty"`
	Tier       tier.Tier `json:"tier"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// NoResultsMessage is returned when nothing above the similarity
// threshold is visible to the caller.
const NoResultsMessage = "No relevant information found in the document database."

// Pipeline wires the query path together.
type Pipeline struct {
	cfg       Config
	embedder  Embedder
	retriever Retriever
	generator Generator
	auditor   Auditor
	log       *slog.Logger
}

// New constructs a Pipeline.
func New(cfg Config, emb Embedder, ret Retriever, gen Generator, aud Auditor, log *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		embedder:  emb,
		retriever: ret,
		generator: gen,
		auditor:   aud,
		log:       log,
	}
}

// Query answers one question. It always returns a well-formed response
// and always writes exactly one audit record, whatever happens inside.
func (p *Pipeline) Query(ctx context.Context, req Request) *Response {
	start := time.Now()
	permitted, highest := tier.Resolve(req.Identity)

	audit := &store.QueryHistory{
		ConversationID: req.ConversationID,
		QueryText:      req.Query,
		Tier:           highest,
	}
	if req.Identity != nil {
		id := req.Identity.ID
		audit.IdentityID = &id
	}

	resp := p.run(ctx, req, permitted, highest, audit)
	resp.Tier = highest
	resp.LatencyMS = time.Since(start).Milliseconds()

	audit.Provenance = resp.Provenance
	audit.Answer = resp.Answer
	audit.LatencyMS = resp.LatencyMS
	audit.TokenCount = len(strings.Fields(resp.Answer))
	if err := p.auditor.RecordQuery(ctx, audit); err != nil {
		// The caller still gets their answer; the gap is operator-visible.
		p.log.Error("rag: audit record failed", slog.String("error", err.Error()))
	}
	return resp
}

// run executes embed, retrieve, assemble and generate, mutating the
// audit skeleton as facts become known.
func (p *Pipeline) run(ctx context.Context, req Request, permitted []tier.Tier, highest tier.Tier, audit *store.QueryHistory) *Response {
	if strings.TrimSpace(req.Query) == "" {
		audit.ErrorReason = "empty query"
		return &Response{Provenance: store.ProvenanceError, Error: "query must not be empty"}
	}

	vec, err := p.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		return p.fail(audit, "embed query", err)
	}
	audit.QueryVector = vec

	hits, err := p.retriever.SearchChunks(ctx, vec, permitted, p.cfg.TopK, p.cfg.MinSimilarity)
	if err != nil {
		return p.fail(audit, "retrieve chunks", err)
	}

	audit.ChunkCount = len(hits)
	for _, h := range hits {
		audit.ChunkIDs = append(audit.ChunkIDs, h.ID)
	}

	if len(hits) == 0 {
		// First-class outcome: nothing visible above the threshold. The
		// generator is skipped entirely.
		return &Response{
			Success:    true,
			Answer:     NoResultsMessage,
			Provenance: store.ProvenanceNoResults,
		}
	}

	contextText := AssembleContext(hits, p.cfg.MaxContextChars)
	result := p.generator.Generate(ctx, req.Query, contextText)

	return &Response{
		Success:    true,
		Answer:     result.Answer,
		Provenance: provenanceFor(result.Source),
		Sources:    sourcesFor(hits),
	}
}

// fail logs the step, stamps the audit row and builds the structured
// failure payload.
func (p *Pipeline) fail(audit *store.QueryHistory, step string, err error) *Response {
	p.log.Error("rag: query pipeline failed",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	audit.ErrorReason = fmt.Sprintf("%s: %s", step, err)
	return &Response{
		Provenance: store.ProvenanceError,
		Error:      "the query could not be processed",
	}
}

// AssembleContext packs chunk texts into a character budget, each
// prefixed with a source label, in the given similarity-descending
// order. The first chunk that would exceed the budget stops assembly, so
// a lower-similarity chunk never rides in ahead of a truncated better
// one.
func AssembleContext(hits []store.ScoredChunk, budget int) string {
	var b strings.Builder
	for i, h := range hits {
		block := fmt.Sprintf("[Source %d: %s]\n%s", i+1, chunkTitle(h), h.Content)
		need := len(block)
		if b.Len() > 0 {
			need += 2
		}
		if budget > 0 && b.Len()+need > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
	}
	return b.String()
}

func chunkTitle(h store.ScoredChunk) string {
	if h.Metadata != nil {
		if t, ok := h.Metadata["title"].(string); ok && t != "" {
			return t
		}
	}
	return fmt.Sprintf("document %d", h.DocumentID)
}

func sourcesFor(hits []store.ScoredChunk) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			ChunkID:    h.ID,
			DocumentID: h.DocumentID,
			Title:      chunkTitle(h),
			Tier:       h.Tier,
			Similarity: h.Similarity,
		}
	}
	return out
}

func provenanceFor(source string) string {
	switch source {
	case generator.SourceLLM:
		return store.ProvenanceLLM
	case generator.SourceExtractive:
		return store.ProvenanceExtractive
	default:
		return store.ProvenanceError
	}
}
