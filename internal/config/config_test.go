package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, path, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != "" {
		t.Errorf("want empty loaded path, got %q", path)
	}
	if cfg.Chunking.Size != 400 || cfg.Chunking.Overlap != 50 {
		t.Errorf("default chunking: got %d/%d", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Retrieval.TopK)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("default dimensions: got %d", cfg.Embedding.Dimensions)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "castellan.yaml")
	yaml := `
chunking:
  size: 800
  overlap: 100
retrieval:
  top_k: 10
  min_similarity: 0.5
model:
  provider: openai
`
	if err := os.WriteFile(p, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, path, err := Load(p, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path != p {
		t.Errorf("loaded path: want %q, got %q", p, path)
	}
	if cfg.Chunking.Size != 800 || cfg.Chunking.Overlap != 100 {
		t.Errorf("yaml chunking not applied: got %d/%d", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
	if cfg.Retrieval.TopK != 10 || cfg.Retrieval.MinSimilarity != 0.5 {
		t.Errorf("yaml retrieval not applied: got %d/%v", cfg.Retrieval.TopK, cfg.Retrieval.MinSimilarity)
	}
	if cfg.Model.Provider != "openai" {
		t.Errorf("yaml provider not applied: got %q", cfg.Model.Provider)
	}
	// Values the file does not mention keep their defaults.
	if cfg.Server.Port != 8080 {
		t.Errorf("unset server port should default to 8080, got %d", cfg.Server.Port)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "castellan.yaml")
	if err := os.WriteFile(p, []byte("retrieval:\n  top_k: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RETRIEVAL_TOP_K", "3")
	t.Setenv("MODEL_PROVIDER", "azure")

	cfg, _, err := Load(p, discard())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("env should override yaml: want 3, got %d", cfg.Retrieval.TopK)
	}
	if cfg.Model.Provider != "azure" {
		t.Errorf("env provider: want azure, got %q", cfg.Model.Provider)
	}
}

func TestLoad_RejectsInvalidGeometry(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "castellan.yaml")
	if err := os.WriteFile(p, []byte("chunking:\n  size: 100\n  overlap: 100\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := Load(p, discard()); err == nil {
		t.Error("want validation error for overlap >= size, got nil")
	}
}

func TestValidate_MinSimilarityRange(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.MinSimilarity = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("want error for min_similarity > 1, got nil")
	}
}
