package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"multirag/internal/adapter/chunker"
	"multirag/internal/adapter/fs"
	"multirag/internal/domain"
	"multirag/internal/usecase"
)

var indexQuiet bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Chunk, embed and store a corpus under every recipe",
	Long: `Index every ingestible file (.txt, .md, .markdown, .pdf, .xlsx by default)
in the given directory. Each file is chunked once per configured recipe and
every chunk is embedded and upserted into the configured collection.
Re-running on an unchanged corpus overwrites the same passages.

Examples:
  multirag index              # Index ./data
  multirag index ./handbook   # Index a specific directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "hide the progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := "data"
	if len(args) > 0 {
		path = args[0]
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	cfg := GetConfig()
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, err := openServices(ctx, cfg, GetRootDir(), true)
	if err != nil {
		return err
	}
	defer svc.Close()

	indexUC := usecase.NewIndexUseCase(
		fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes),
		fs.NewExtractor(),
		chunker.NewRecursiveChunker(),
		svc.embedder,
		svc.store,
		cfg.Store.Collection,
		cfg.DomainRecipes(),
		usecase.IndexOptions{
			Concurrency:   cfg.Index.Concurrency,
			ProgressEvery: cfg.Index.ProgressEvery,
		},
		log,
	)

	fmt.Printf("Indexing %s into %s (%s, %s)...\n", path, cfg.Store.Collection, cfg.Store.Backend, svc.embedder.ModelName())

	result, err := indexUC.Index(ctx, path, newProgressBar(indexQuiet))
	if err != nil {
		if errors.Is(err, domain.ErrNoDocuments) {
			return fmt.Errorf("nothing to index: %w", err)
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	printIndexResult(result)
	return nil
}

// newProgressBar returns a progress callback that draws a bar once the total
// chunk count is known.
func newProgressBar(quiet bool) usecase.ProgressFunc {
	if quiet {
		return nil
	}

	var (
		bar       *progressbar.ProgressBar
		mu        sync.Mutex
		startTime time.Time
	)
	return func(p usecase.Progress) {
		mu.Lock()
		defer mu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(p.Total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)
		}

		bar.Set(p.Processed)

		elapsed := time.Since(startTime)
		rate := float64(p.Processed) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(p.Total-p.Processed)/rate) * time.Second
			desc := fmt.Sprintf("[cyan]Embedding[reset] ETA: %s", formatDuration(eta))
			if p.Failed > 0 {
				desc += fmt.Sprintf(" [red]%d failed[reset]", p.Failed)
			}
			bar.Describe(desc)
		}
	}
}

func printIndexResult(result *usecase.IndexResult) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s\n", bold("Indexing complete:"))
	fmt.Printf("  Documents: %d\n", result.Documents)
	if result.Skipped > 0 {
		fmt.Printf("  Skipped:   %d (unreadable or empty)\n", result.Skipped)
	}
	fmt.Printf("  Chunks:    %d\n", result.Chunks)
	fmt.Printf("  Upserted:  %s\n", green(result.Upserted))
	if result.Failed > 0 {
		fmt.Printf("  Failed:    %s\n", red(result.Failed))
	}
	for _, r := range GetConfig().Recipes {
		fmt.Printf("    %-12s %d\n", r.Name, result.PerRecipe[r.Name])
	}
	fmt.Printf("  Duration:  %s\n", formatDuration(result.Duration))

	if len(result.Failures) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, f := range result.Failures {
			fmt.Printf("  - %s\n", f)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
