package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"multirag/internal/adapter/retriever"
	"multirag/internal/usecase"
)

// previewRunes caps how much of each passage is printed.
const previewRunes = 400

var (
	queryTopK      int
	queryPerRecipe int
	queryJSON      bool
	queryNoRerank  bool
	queryRecipes   []string
)

var queryCmd = &cobra.Command{
	Use:   "query [question...]",
	Short: "Ask a question against the indexed corpus",
	Long: `Search every recipe for passages relevant to the question, merge and
deduplicate them, and print the best ones. Without a question, starts an
interactive loop that reads one question per line until EOF or "exit".

Examples:
  multirag query "how do refunds work"
  multirag query --top-k 10 --no-rerank "shipping times"
  multirag query --recipe small --json "warranty"`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().IntVar(&queryPerRecipe, "per-recipe", 0, "hits fetched per recipe (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryNoRerank, "no-rerank", false, "skip the LLM judge even if enabled")
	queryCmd.Flags().StringSliceVar(&queryRecipes, "recipe", nil, "restrict the search to these recipes")
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := openServices(ctx, cfg, GetRootDir(), true)
	if err != nil {
		return err
	}
	defer svc.Close()

	judge, err := newJudge(ctx, cfg, cfg.Rerank.Enabled && !queryNoRerank)
	if err != nil {
		return err
	}

	recipes := make([]string, len(cfg.Recipes))
	for i, r := range cfg.Recipes {
		recipes[i] = r.Name
	}

	queryUC := usecase.NewQueryUseCase(
		retriever.NewMultiRecipeRetriever(svc.embedder, svc.store, cfg.Store.Collection, cfg.Retrieve.SearchTimeout, log),
		judge,
		recipes,
		cfg.Retrieve.FinalK,
		cfg.Retrieve.PerRecipeLimit,
		log,
	)
	opts := usecase.QueryOptions{
		FinalK:         queryTopK,
		PerRecipeLimit: queryPerRecipe,
		Recipes:        queryRecipes,
	}

	if len(args) > 0 {
		return answer(ctx, queryUC, strings.Join(args, " "), opts)
	}
	return interactive(ctx, queryUC, opts)
}

func answer(ctx context.Context, queryUC *usecase.QueryUseCase, question string, opts usecase.QueryOptions) error {
	result, err := queryUC.Query(ctx, question, opts)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}
	printQueryResult(result)
	return nil
}

func interactive(ctx context.Context, queryUC *usecase.QueryUseCase, opts usecase.QueryOptions) error {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Println("Type a question and press Enter. Type 'exit' or press Ctrl+D to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("? "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.ToLower(line) == "exit" {
			return nil
		}

		if err := answer(ctx, queryUC, line, opts); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func printQueryResult(result *usecase.QueryResult) {
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	for _, f := range result.Failures {
		fmt.Println(yellow(fmt.Sprintf("warning: %v", f)))
	}
	if result.FallbackReason != "" {
		fmt.Println(yellow(fmt.Sprintf("warning: judge unavailable (%s), showing cosine order", result.FallbackReason)))
	}

	if len(result.Results) == 0 {
		fmt.Println("No results found.")
		return
	}

	var total time.Duration
	for _, s := range result.Trace {
		total += s.Duration
	}

	fmt.Printf("Top %d of %d passages for: %s\n\n", len(result.Results), len(result.Candidates), result.Question)
	for i, c := range result.Results {
		score := fmt.Sprintf("score %.4f", c.Rerank)
		if c.JudgeScore != nil {
			score = fmt.Sprintf("judge %.2f, %s", *c.JudgeScore, score)
		}
		fmt.Printf("%s %s %s\n", cyan(fmt.Sprintf("[%d] %s", i+1, c.Payload.SourcePath)), faint("("+c.Payload.RecipeName+")"), score)
		fmt.Println(preview(c.Payload.Text, previewRunes))
		fmt.Println()
	}
	fmt.Println(faint(fmt.Sprintf("answered in %s", total.Round(time.Millisecond))))
}

func preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
