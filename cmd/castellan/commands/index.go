package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/store"
)

// NewIndexCmd constructs the `castellan index` command, which runs one
// synchronous indexing attempt for a document.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [document-id]",
		Short: "Index a document immediately, bypassing the task queue",
		Long: `Run one indexing attempt for a document in the foreground.

Unlike the queued path used by 'castellan serve', a failure here is
reported directly and nothing is retried. The document must be in
PENDING or FAILED state; re-indexing an INDEXED document is rejected.

Examples:
  castellan index 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			ctx = logging.WithLogger(ctx, log)

			docID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("index: invalid document id %q", args[0])
			}

			st, err := store.Open(ctx, cfg.Database.DSN, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer func() { _ = st.Close() }()

			blobs, err := newBlobStore(ctx, log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			orch, closeMirror, err := newOrchestrator(ctx, st, blobs, emb, log)
			defer closeMirror()
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			if err := orch.Index(ctx, docID); err != nil {
				return fmt.Errorf("index: document %d: %w", docID, err)
			}

			doc, err := st.Document(ctx, docID)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			fmt.Printf("document %d (%s) indexed: %d chunks\n", doc.ID, doc.Title, doc.ChunkCount)
			return nil
		},
	}

	return cmd
}
