package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/castellan-ai/castellan/internal/blob"
	"github.com/castellan-ai/castellan/internal/extract"
	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tasks"
	"github.com/castellan-ai/castellan/internal/tier"
)

// NewUploadCmd constructs the `castellan upload` command, which stores a
// local file and schedules it for indexing. The CLI bypasses the HTTP
// clearance check: it is an operator tool, not a user surface.
func NewUploadCmd() *cobra.Command {
	var title string
	var tierName string
	var ownerID int64

	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a document and schedule it for indexing",
		Long: `Store a local document in the blob store, record its metadata, and
enqueue an indexing job. A running 'castellan serve' process picks the
job up; run 'castellan index <id>' to index immediately instead.

Supported file types: .pdf, .docx, .txt, .md.

Examples:
  castellan upload ./handbook.pdf --title "HR Handbook" --tier MID
  castellan upload ./minutes.docx --title "Board Minutes" --tier VERY_HIGH --owner-id 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			ctx = logging.WithLogger(ctx, log)

			path := args[0]
			filename := filepath.Base(path)
			if !extract.Supported(filename) {
				return fmt.Errorf("upload: unsupported file type %q", filepath.Ext(filename))
			}

			docTier := tier.Tier(strings.ToUpper(tierName))
			if !docTier.Valid() {
				return fmt.Errorf("upload: tier must be one of LOW, MID, HIGH, VERY_HIGH")
			}
			if title == "" {
				return fmt.Errorf("upload: --title is required")
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			st, err := store.Open(ctx, cfg.Database.DSN, log)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer func() { _ = st.Close() }()

			blobs, err := newBlobStore(ctx, log)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			queue, err := tasks.Open(cfg.Tasks.QueuePath, cfg.Tasks.MaxRetries+1, cfg.Tasks.RetryDelay)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer func() { _ = queue.Close() }()

			key := blob.Key(docTier, title, filename, time.Now())
			contentType := mime.TypeByExtension(filepath.Ext(filename))
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			if err := blobs.Put(ctx, key, f, info.Size(), contentType); err != nil {
				return fmt.Errorf("upload: store blob: %w", err)
			}

			doc := &store.Document{
				Title:      title,
				Tier:       docTier,
				FileType:   contentType,
				SizeBytes:  info.Size(),
				StorageKey: key,
				Filename:   filename,
			}
			if ownerID != 0 {
				id := ownerID
				doc.OwnerID = &id
			}
			if err := st.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("upload: record document: %w", err)
			}

			if err := queue.Enqueue(ctx, doc.ID); err != nil {
				return fmt.Errorf("upload: schedule indexing: %w", err)
			}

			fmt.Printf("document %d (%s) uploaded at tier %s, indexing queued\n", doc.ID, doc.Title, doc.Tier)
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (must be unique)")
	cmd.Flags().StringVar(&tierName, "tier", "LOW", "Security tier (LOW, MID, HIGH, VERY_HIGH)")
	cmd.Flags().Int64Var(&ownerID, "owner-id", 0, "Numeric user ID recorded as the document owner")

	return cmd
}
