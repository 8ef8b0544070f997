// Package generator produces the final grounded answer. It tries the
// configured chat model first and degrades to a deterministic extractive
// fallback when the model is unavailable or misbehaves; Generate never
// returns an error.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/castellan-ai/castellan/internal/provider"
)

// Answer sources. The rag layer maps these onto audit provenance tags.
const (
	SourceLLM        = "LLM"
	SourceExtractive = "EXTRACTIVE"
)

// NoInformationMessage is returned when the extractive fallback has no
// context to extract from.
const NoInformationMessage = "No relevant information found in the document database."

// systemPrompt is intentionally strict: small models default to confident
// fabrication rather than refusal, so the grounding rules carry the
// security model, not just answer quality.
const systemPrompt = "You are a precise assistant that answers questions ONLY using " +
	"the context provided below. Rules you must follow:\n" +
	"1. If the context does NOT mention something, you MUST say it is " +
	"not mentioned. Never guess or assume.\n" +
	"2. If asked whether someone has a skill or experience that does " +
	"NOT appear in the context, answer: 'No, it is not mentioned in " +
	"the provided documents.'\n" +
	"3. Never add information from your own knowledge.\n" +
	"4. Be concise and factual."

// ChatModel is the slice of the eino chat model surface the generator
// uses. model.ChatModel satisfies it.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Result is a tagged answer: the text plus which path produced it.
type Result struct {
	Answer string
	Source string
}

// Engine holds the lazily loaded chat model.
type Engine struct {
	cfg *provider.Config
	log *slog.Logger

	// loader builds the chat model; swapped by tests.
	loader func(ctx context.Context) (ChatModel, error)

	// mu guards the lazy load so concurrent first users trigger exactly
	// one construction.
	mu    sync.Mutex
	model ChatModel
}

// New constructs an Engine. The chat model is not built until the first
// Generate call.
func New(cfg *provider.Config, log *slog.Logger) *Engine {
	e := &Engine{cfg: cfg, log: log}
	e.loader = func(ctx context.Context) (ChatModel, error) {
		return provider.New(ctx, cfg)
	}
	return e
}

// NewWithModel constructs an Engine around a pre-built model. Used by
// tests.
func NewWithModel(m ChatModel, log *slog.Logger) *Engine {
	return &Engine{
		cfg:    &provider.Config{},
		log:    log,
		loader: func(context.Context) (ChatModel, error) { return m, nil },
		model:  m,
	}
}

// Generate answers the query from the assembled context. The model path
// is attempted when a model loads; any model failure, including an empty
// or malformed response, falls through to the extractive path. This
// method never returns an error.
func (e *Engine) Generate(ctx context.Context, query, contextText string) Result {
	m, err := e.ensureModel(ctx)
	if err != nil {
		e.log.Warn("generator: model unavailable, using extractive fallback",
			slog.String("error", err.Error()),
		)
		return Result{Answer: Extractive(contextText), Source: SourceExtractive}
	}

	answer, err := e.generateLLM(ctx, m, query, contextText)
	if err != nil {
		e.log.Warn("generator: model generation failed, using extractive fallback",
			slog.String("error", err.Error()),
		)
		return Result{Answer: Extractive(contextText), Source: SourceExtractive}
	}
	return Result{Answer: answer, Source: SourceLLM}
}

// ensureModel builds the chat model on first use. A failed load is not
// cached: the backend may come up between queries.
func (e *Engine) ensureModel(ctx context.Context) (ChatModel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return e.model, nil
	}

	m, err := e.loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("generator: load model: %w", err)
	}
	e.model = m
	e.log.Info("generator: model ready", slog.String("backend", string(e.cfg.Backend)))
	return m, nil
}

func (e *Engine) generateLLM(ctx context.Context, m ChatModel, query, contextText string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(fmt.Sprintf(
			"Context:\n%s\n\nQuestion: %s\n\n"+
				"Answer based strictly on the context above. "+
				"If the information is not in the context, say so explicitly.",
			contextText, query,
		)),
	}

	// The bound is applied per call rather than at construction so every
	// backend honours it, including ollama, whose constructor takes no
	// token cap.
	var opts []model.Option
	if e.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(e.cfg.MaxTokens))
	}

	resp, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generator: inference: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("generator: model returned nil response")
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("generator: model produced an empty answer")
	}
	return answer, nil
}

// Extractive returns up to the first three sentence-delimited segments of
// the context verbatim, or the fixed no-information message when the
// context is empty. Pure and never fails.
func Extractive(contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return NoInformationMessage
	}

	flat := strings.ReplaceAll(contextText, "\n", " ")
	var sentences []string
	for _, s := range strings.Split(flat, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return NoInformationMessage
	}
	if len(sentences) > 3 {
		sentences = sentences[:3]
	}
	return strings.Join(sentences, ". ") + "."
}
