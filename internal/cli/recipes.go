package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"multirag/internal/domain"
	"multirag/internal/port"
)

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "List configured recipes and their stored passage counts",
	Args:  cobra.NoArgs,
	RunE:  runRecipes,
}

func init() {
	rootCmd.AddCommand(recipesCmd)
}

func runRecipes(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	svc, err := openServices(ctx, cfg, GetRootDir(), false)
	if err != nil {
		return err
	}
	defer svc.Close()

	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("Collection %s (%s backend)\n\n", bold(cfg.Store.Collection), cfg.Store.Backend)
	fmt.Printf("%-12s %10s %10s %10s\n", "RECIPE", "SIZE", "OVERLAP", "PASSAGES")

	total := 0
	for _, r := range cfg.DomainRecipes() {
		n, err := svc.store.Count(ctx, cfg.Store.Collection, port.RecipeFilter(r.Name))
		if errors.Is(err, domain.ErrCollectionNotFound) {
			fmt.Printf("%-12s %10d %10d %10s\n", r.Name, r.ChunkSize, r.ChunkOverlap, "-")
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to count recipe %s: %w", r.Name, err)
		}
		total += n
		fmt.Printf("%-12s %10d %10d %10d\n", r.Name, r.ChunkSize, r.ChunkOverlap, n)
	}

	all, err := svc.store.Count(ctx, cfg.Store.Collection, nil)
	if err == nil && all != total {
		// passages under recipes that are no longer configured
		fmt.Printf("%-12s %10s %10s %10d\n", "(other)", "", "", all-total)
	}
	return nil
}
