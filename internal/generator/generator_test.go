package generator

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/castellan-ai/castellan/internal/provider"
)

// fakeModel returns a canned response or error and records the options
// of the last call.
type fakeModel struct {
	content string
	err     error
	opts    []model.Option
}

func (f *fakeModel) Generate(_ context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestGenerate_LLMPath(t *testing.T) {
	t.Parallel()

	e := NewWithModel(&fakeModel{content: "The handbook allows 25 vacation days."}, discard())
	res := e.Generate(context.Background(), "how many vacation days?", "Employees get 25 vacation days.")

	if res.Source != SourceLLM {
		t.Fatalf("Source = %s, want LLM", res.Source)
	}
	if res.Answer != "The handbook allows 25 vacation days." {
		t.Errorf("Answer = %q", res.Answer)
	}
}

func TestGenerate_MaxTokensReachesModel(t *testing.T) {
	t.Parallel()

	fake := &fakeModel{content: "bounded answer"}
	e := NewWithModel(fake, discard())
	e.cfg = &provider.Config{MaxTokens: 128}

	if res := e.Generate(context.Background(), "q", "Some fact."); res.Source != SourceLLM {
		t.Fatalf("Source = %s, want LLM", res.Source)
	}

	got := model.GetCommonOptions(&model.Options{}, fake.opts...)
	if got.MaxTokens == nil || *got.MaxTokens != 128 {
		t.Fatalf("MaxTokens = %v, want 128", got.MaxTokens)
	}
}

func TestGenerate_NoBoundWhenUnconfigured(t *testing.T) {
	t.Parallel()

	fake := &fakeModel{content: "answer"}
	e := NewWithModel(fake, discard())
	e.Generate(context.Background(), "q", "Some fact.")

	got := model.GetCommonOptions(&model.Options{}, fake.opts...)
	if got.MaxTokens != nil {
		t.Fatalf("MaxTokens = %d, want unset", *got.MaxTokens)
	}
}

func TestGenerate_ModelErrorFallsBackExtractive(t *testing.T) {
	t.Parallel()

	e := NewWithModel(&fakeModel{err: errors.New("connection refused")}, discard())
	ctxText := "First fact. Second fact. Third fact. Fourth fact."
	res := e.Generate(context.Background(), "q", ctxText)

	if res.Source != SourceExtractive {
		t.Fatalf("Source = %s, want EXTRACTIVE", res.Source)
	}
	if res.Answer != "First fact. Second fact. Third fact." {
		t.Errorf("Answer = %q", res.Answer)
	}
}

func TestGenerate_EmptyModelAnswerFallsBack(t *testing.T) {
	t.Parallel()

	e := NewWithModel(&fakeModel{content: "   "}, discard())
	res := e.Generate(context.Background(), "q", "Only fact.")

	if res.Source != SourceExtractive {
		t.Fatalf("Source = %s, want EXTRACTIVE", res.Source)
	}
	if res.Answer != "Only fact." {
		t.Errorf("Answer = %q", res.Answer)
	}
}

func TestGenerate_LoaderFailureFallsBack(t *testing.T) {
	t.Parallel()

	e := NewWithModel(&fakeModel{}, discard())
	e.model = nil
	e.loader = func(context.Context) (ChatModel, error) {
		return nil, errors.New("no backend")
	}

	res := e.Generate(context.Background(), "q", "")
	if res.Source != SourceExtractive {
		t.Fatalf("Source = %s, want EXTRACTIVE", res.Source)
	}
	if res.Answer != NoInformationMessage {
		t.Errorf("Answer = %q", res.Answer)
	}
}

func TestExtractive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, in, want string
	}{
		{"empty", "", NoInformationMessage},
		{"whitespace", "  \n ", NoInformationMessage},
		{"dots only", "...", NoInformationMessage},
		{"one sentence", "Single fact.", "Single fact."},
		{"three of five", "A. B. C. D. E.", "A. B. C."},
		{"newlines flattened", "A\nfact. Another\nfact.", "A fact. Another fact."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Extractive(tc.in); got != tc.want {
				t.Errorf("Extractive(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
