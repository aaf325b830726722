package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"multirag/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.Recipes) != 2 {
		t.Fatalf("expected 2 default recipes, got %d", len(cfg.Recipes))
	}
	if cfg.Recipes[0] != (RecipeConfig{Name: "small", ChunkSize: 1000, ChunkOverlap: 200}) {
		t.Errorf("unexpected first recipe: %+v", cfg.Recipes[0])
	}
	if cfg.Recipes[1] != (RecipeConfig{Name: "large", ChunkSize: 2048, ChunkOverlap: 400}) {
		t.Errorf("unexpected second recipe: %+v", cfg.Recipes[1])
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("expected Dimension=768, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Store.Collection != "pdf_chat_embeddings" {
		t.Errorf("expected collection pdf_chat_embeddings, got %s", cfg.Store.Collection)
	}
	if cfg.Rerank.MaxCandidates != 50 {
		t.Errorf("expected MaxCandidates=50, got %d", cfg.Rerank.MaxCandidates)
	}
	if cfg.Index.ProgressEvery != 20 {
		t.Errorf("expected ProgressEvery=20, got %d", cfg.Index.ProgressEvery)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "multirag.yaml")

	content := `
recipes:
  - name: tiny
    chunk_size: 256
    chunk_overlap: 32
retrieve:
  final_k: 3
  search_timeout: 2s
rerank:
  enabled: true
  provider: ollama
  model: llama3
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Recipes) != 1 || cfg.Recipes[0].Name != "tiny" || cfg.Recipes[0].ChunkSize != 256 {
		t.Errorf("unexpected recipes: %+v", cfg.Recipes)
	}
	if cfg.Retrieve.FinalK != 3 {
		t.Errorf("expected FinalK=3, got %d", cfg.Retrieve.FinalK)
	}
	if cfg.Retrieve.SearchTimeout != 2*time.Second {
		t.Errorf("expected SearchTimeout=2s, got %v", cfg.Retrieve.SearchTimeout)
	}
	if cfg.Retrieve.PerRecipeLimit != 20 {
		t.Errorf("expected default PerRecipeLimit=20 to survive, got %d", cfg.Retrieve.PerRecipeLimit)
	}
	if !cfg.Rerank.Enabled || cfg.Rerank.Provider != "ollama" {
		t.Errorf("unexpected rerank config: %+v", cfg.Rerank)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".multirag"), 0755); err != nil {
		t.Fatal(err)
	}

	content := `
store:
  backend: bolt
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".multirag", "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Backend != "bolt" {
		t.Errorf("expected Backend=bolt, got %s", cfg.Store.Backend)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multirag.yaml")
	cfg := DefaultConfig()
	cfg.Retrieve.FinalK = 9

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Retrieve.FinalK != 9 {
		t.Errorf("expected FinalK=9, got %d", loaded.Retrieve.FinalK)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errRecipe bool
	}{
		{"defaults", func(c *Config) {}, false, false},
		{"no recipes", func(c *Config) { c.Recipes = nil }, true, false},
		{"duplicate recipe", func(c *Config) { c.Recipes[1].Name = c.Recipes[0].Name }, true, true},
		{"overlap too large", func(c *Config) { c.Recipes[0].ChunkOverlap = 1000 }, true, true},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, true, false},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, true, false},
		{"unknown store", func(c *Config) { c.Store.Backend = "faiss" }, true, false},
		{"zero final k", func(c *Config) { c.Retrieve.FinalK = 0 }, true, false},
		{"rerank provider ignored when disabled", func(c *Config) { c.Rerank.Provider = "x" }, false, false},
		{"bad rerank provider", func(c *Config) { c.Rerank.Enabled = true; c.Rerank.Provider = "x" }, true, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.errRecipe && !errors.Is(err, domain.ErrInvalidRecipe) {
				t.Errorf("expected ErrInvalidRecipe, got %v", err)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/root", "a/b.db"); got != filepath.Join("/root", "a/b.db") {
		t.Errorf("unexpected %s", got)
	}
	if got := ResolvePath("/root", "/abs.db"); got != "/abs.db" {
		t.Errorf("unexpected %s", got)
	}
}

func TestEnsureStatePath(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "nested", "vectors.db")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative", ".multirag/embeddings.db", filepath.Join(dir, ".multirag", "embeddings.db"), false},
		{"absolute", abs, abs, false},
		{"empty", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EnsureStatePath(dir, tc.path)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got path %s", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
			if info, err := os.Stat(filepath.Dir(got)); err != nil || !info.IsDir() {
				t.Errorf("expected parent directory of %s to exist: %v", got, err)
			}
		})
	}
}
