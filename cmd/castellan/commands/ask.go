package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/castellan-ai/castellan/internal/generator"
	"github.com/castellan-ai/castellan/internal/logging"
	"github.com/castellan-ai/castellan/internal/rag"
	"github.com/castellan-ai/castellan/internal/store"
	"github.com/castellan-ai/castellan/internal/tier"
)

// NewAskCmd constructs the `castellan ask` command, which runs a single
// query through the full pipeline and prints the grounded answer.
func NewAskCmd() *cobra.Command {
	var userID int64
	var role string
	var email string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question against the indexed document corpus",
		Long: `Run one natural-language query through the retrieval pipeline.

Without --role the query runs anonymously and only LOW-tier content is
searched. The query is audited exactly like an API request.

Examples:
  castellan ask "what is the vacation policy?"
  castellan ask --role MANAGER --user-id 7 "summarise the Q3 board minutes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := newLogger()
			ctx = logging.WithLogger(ctx, log)

			st, err := store.Open(ctx, cfg.Database.DSN, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = st.Close() }()

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			gen := generator.New(providerConfig(&cfg.Model), log)
			pipeline := rag.New(rag.Config{
				TopK:            cfg.Retrieval.TopK,
				MinSimilarity:   cfg.Retrieval.MinSimilarity,
				MaxContextChars: cfg.Retrieval.MaxContextChars,
			}, emb, st, gen, st, log)

			var identity *tier.Identity
			if role != "" {
				identity = &tier.Identity{
					ID:    userID,
					Email: email,
					Role:  tier.Role(strings.ToUpper(role)),
				}
			}

			resp := pipeline.Query(ctx, rag.Request{
				Identity: identity,
				Query:    strings.Join(args, " "),
			})
			if !resp.Success {
				return fmt.Errorf("ask: %s", resp.Error)
			}

			fmt.Println(resp.Answer)
			if len(resp.Sources) > 0 {
				fmt.Println()
				for i, src := range resp.Sources {
					fmt.Printf("  [%d] %s (%s, similarity %.2f)\n", i+1, src.Title, src.Tier, src.Similarity)
				}
			}
			fmt.Printf("\nprovenance=%s tier=%s latency=%dms\n", resp.Provenance, resp.Tier, resp.LatencyMS)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "Numeric user ID recorded on the audit trail")
	cmd.Flags().StringVar(&role, "role", "", "Caller role (GUEST, EMPLOYEE, MANAGER, VICE_PRESIDENT, CEO)")
	cmd.Flags().StringVar(&email, "email", "", "Caller email, informational only")

	return cmd
}
