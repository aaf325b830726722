package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"multirag/internal/adapter/retriever"
	"multirag/internal/domain"
)

var compareTopK int

var compareCmd = &cobra.Command{
	Use:   "compare <question...>",
	Short: "Show how each recipe ranks passages for a question",
	Long: `Run the retrieval for one question and print every recipe's own top hits
next to the merged ranking, with a similarity rating per hit. Useful for
judging whether a recipe is pulling its weight.

Example:
  multirag compare "cancellation fees"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().IntVarP(&compareTopK, "top-k", "k", 5, "hits shown per recipe")
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()
	question := strings.Join(args, " ")

	svc, err := openServices(ctx, cfg, GetRootDir(), true)
	if err != nil {
		return err
	}
	defer svc.Close()

	r := retriever.NewMultiRecipeRetriever(svc.embedder, svc.store, cfg.Store.Collection, cfg.Retrieve.SearchTimeout, log)
	names := make([]string, len(cfg.Recipes))
	for i, rc := range cfg.Recipes {
		names[i] = rc.Name
	}

	retrieval, err := r.Retrieve(ctx, question, names, compareTopK)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	fmt.Println("RECIPE COMPARISON")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Query: %q\n", question)
	fmt.Printf("Model: %s (%d dimensions)\n\n", svc.embedder.ModelName(), svc.embedder.Dimension())

	byRecipe := make(map[string][]domain.SearchHit, len(names))
	for _, h := range retrieval.Hits {
		byRecipe[h.Payload.RecipeName] = append(byRecipe[h.Payload.RecipeName], h)
	}
	failed := make(map[string]error, len(retrieval.Failures))
	for _, f := range retrieval.Failures {
		failed[f.Recipe] = f.Err
	}

	for _, name := range names {
		fmt.Printf("%s\n", name)
		fmt.Println(strings.Repeat("-", 70))
		if err, ok := failed[name]; ok {
			fmt.Printf("  search failed: %v\n\n", err)
			continue
		}
		hits := byRecipe[name]
		if len(hits) == 0 {
			fmt.Printf("  no passages\n\n")
			continue
		}

		total := 0.0
		for i, h := range hits {
			score := retriever.Cosine(retrieval.QueryVector, h.Vector)
			total += score
			fmt.Printf("%d. [%s %.3f] %s#%d\n", i+1, rating(score), score, h.Payload.SourcePath, h.Payload.ChunkIndex)
			fmt.Printf("   %s\n", oneLine(h.Payload.Text, 150))
		}
		fmt.Printf("  Average similarity: %.3f\n\n", total/float64(len(hits)))
	}

	merged := retriever.Merge(retrieval.Hits, retrieval.QueryVector)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("MERGED: %d hits, %d distinct passages\n", len(retrieval.Hits), len(merged))
	for i, c := range merged {
		if i == compareTopK {
			break
		}
		fmt.Printf("%d. [%s %.3f] %s (%s)\n", i+1, rating(c.Rerank), c.Rerank, c.Payload.SourcePath, c.Payload.RecipeName)
	}
	return nil
}

func rating(similarity float64) string {
	switch {
	case similarity > 0.7:
		return "HIGH"
	case similarity > 0.5:
		return "GOOD"
	case similarity > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}

func oneLine(text string, n int) string {
	return strings.ReplaceAll(preview(text, n), "\n", " ")
}
