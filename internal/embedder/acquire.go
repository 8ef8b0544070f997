package embedder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact file names the engine expects inside the model cache directory.
// model.onnx is loaded by the inference runtime; vocab.txt by the tokenizer.
const (
	artifactVocab  = "vocab.txt"
	artifactModel  = "model.onnx"
	artifactConfig = "config.json"
)

var requiredArtifacts = []string{artifactVocab, artifactModel, artifactConfig}

// acquireArtifacts ensures every model artifact is present in the local
// cache, downloading missing ones from the registry. It returns the
// model's cache directory.
//
// Each artifact is written to a temp file and renamed into place, so a
// concurrent acquisition of the same model is an idempotent overwrite:
// the loser of the race re-writes identical bytes and nobody observes a
// half-written file.
func acquireArtifacts(ctx context.Context, cfg *Config, log *slog.Logger) (string, error) {
	dir := filepath.Join(cfg.CacheDir, safeModelDir(cfg.ModelName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	for _, name := range requiredArtifacts {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}

		src, err := url.JoinPath(cfg.RegistryURL, cfg.ModelName, "resolve", "main", name)
		if err != nil {
			return "", fmt.Errorf("build artifact URL for %s: %w", name, err)
		}

		log.Info("embedder: fetching model artifact, first use may take a while",
			slog.String("model", cfg.ModelName),
			slog.String("artifact", name),
		)
		if err := download(ctx, client, src, dst); err != nil {
			return "", fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	return dir, nil
}

// download streams src to dst via a temp file in the same directory,
// renaming only after a complete write.
func download(ctx context.Context, client *http.Client, src, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "castellan/1.0 (model artifact acquisition)")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving artifact into place: %w", err)
	}
	return nil
}

// safeModelDir flattens a registry model name (org/model) into a single
// directory component.
func safeModelDir(model string) string {
	return strings.ReplaceAll(model, "/", "__")
}
