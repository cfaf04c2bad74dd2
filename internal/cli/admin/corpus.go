package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/tutorion/internal/config"
	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/service"
)

// ProcessCmd rebuilds a corpus from its documents.
func ProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <owner> <corpus>",
		Short: "Build the indexes of a corpus",
		Long:  "Read every .txt document of the corpus, rebuild its chunk list, lexical and vector indexes, and save them",
		Args:  cobra.ExactArgs(2),
		RunE:  runProcess,
	}

	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")

	key, err := domain.NewCorpusKey(args[0], args[1])
	if err != nil {
		return err
	}

	rt, err := loadRuntime(ctx, runtimeOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	start := time.Now()
	if err := rt.Service.Rebuild(ctx, key); err != nil {
		return fmt.Errorf("failed to process corpus %s: %w", key, err)
	}

	corpus, err := rt.Engine.LoadCorpus(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load processed corpus %s: %w", key, err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	if outputFormat == "json" {
		return printJSON(map[string]interface{}{
			"owner_id":    key.OwnerID,
			"corpus_id":   key.CorpusID,
			"chunks":      len(corpus.Chunks),
			"quotes":      corpus.Lexical.Len(),
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	fmt.Printf("Processed %s: %d chunks, %d quotes in %s\n", key, len(corpus.Chunks), corpus.Lexical.Len(), elapsed)
	return nil
}

// QueryCmd answers a query against a corpus, building it first if needed.
func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <owner> <corpus> <text>",
		Short: "Query a corpus",
		Long:  "Resolve a query against a corpus through the exact, fuzzy, semantic and fallback tiers",
		Args:  cobra.ExactArgs(3),
		RunE:  runQuery,
	}

	cmd.Flags().IntP("top-k", "k", 0, "Chunks returned by the semantic tier (0 uses TOP_K)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	outputFormat, _ := cmd.Flags().GetString("output")
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	k, _ := cmd.Flags().GetInt("top-k")

	key, err := domain.NewCorpusKey(args[0], args[1])
	if err != nil {
		return err
	}

	rt, err := loadRuntime(ctx, runtimeOptions{Migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := rt.Service.Retrieve(ctx, service.RetrieveInput{Key: key, Query: args[2], K: k})
	if err != nil {
		return fmt.Errorf("failed to query corpus %s: %w", key, err)
	}

	if outputFormat == "json" {
		return printJSON(map[string]interface{}{
			"text":     out.Text,
			"tier":     out.Tier,
			"ordinals": out.Ordinals,
			"score":    out.Score,
		})
	}

	fmt.Printf("[%s] chunks %v\n\n%s\n", out.Tier, out.Ordinals, out.Text)
	return nil
}

// DeleteCmd removes the saved indexes of a corpus.
func DeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <owner> <corpus>",
		Short: "Delete the indexes of a corpus",
		Long:  "Remove the chunk list, lexical and vector index of a corpus. Documents are kept.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			key, err := domain.NewCorpusKey(args[0], args[1])
			if err != nil {
				return err
			}

			rt, err := loadRuntime(ctx, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Service.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete corpus %s: %w", key, err)
			}
			fmt.Printf("Deleted indexes of %s\n", key)
			return nil
		},
	}
}

func loadRuntime(ctx context.Context, opts runtimeOptions) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newRuntime(ctx, cfg, opts)
}

func printJSON(v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
