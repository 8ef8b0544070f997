package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/castellan-ai/castellan/internal/generator"
	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/rag"
	"github.com/castellan-ai/castellan/internal/server"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tasks"
)

// NewServeCmd constructs the `castellan serve` command, which starts the
// HTTP API and the background indexing runner.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the castellan HTTP API and indexing runner",
		Long: `Start the castellan service.

The process runs two halves: the HTTP API (query, upload, document
listing, health, metrics) and the background task runner that drains
the durable indexing queue. Uploads accepted while the process is down
are indexed after restart; the queue survives crashes.

Examples:
  castellan serve
  castellan serve --port 9090
  MODEL_PROVIDER=openai castellan serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := newLogger()
			ctx = logging.WithLogger(ctx, log)

			// Flags beat YAML; YAML beats defaults.
			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			st, err := store.Open(ctx, cfg.Database.DSN, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			blobs, err := newBlobStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			orch, closeMirror, err := newOrchestrator(ctx, st, blobs, emb, log)
			defer closeMirror()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			queue, err := tasks.Open(cfg.Tasks.QueuePath, cfg.Tasks.MaxRetries+1, cfg.Tasks.RetryDelay)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = queue.Close() }()

			runner := tasks.NewRunner(queue, orch, blobs, st, cfg.Tasks.PollInterval, log)
			go func() {
				if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("task runner stopped", slog.Any("error", err))
				}
			}()

			gen := generator.New(providerConfig(&cfg.Model), log)
			pipeline := rag.New(rag.Config{
				TopK:            cfg.Retrieval.TopK,
				MinSimilarity:   cfg.Retrieval.MinSimilarity,
				MaxContextChars: cfg.Retrieval.MaxContextChars,
			}, emb, st, gen, st, log)

			srv, err := server.New(pipeline, st, st, blobs, queue, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				RateLimit: cfg.Server.RateLimit,
				RateBurst: cfg.Server.RateBurst,
			}, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}
