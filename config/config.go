package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"multirag/internal/domain"
)

// Config holds all configuration for the multi-recipe retrieval tool.
type Config struct {
	Recipes   []RecipeConfig  `yaml:"recipes"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RecipeConfig is one named chunking configuration.
type RecipeConfig struct {
	Name         string `yaml:"name"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// IndexConfig holds indexing configuration.
type IndexConfig struct {
	Includes      []string `yaml:"includes"`
	Excludes      []string `yaml:"excludes"`
	ProgressEvery int      `yaml:"progress_every"`
	Concurrency   int      `yaml:"concurrency"` // Parallel embed+upsert calls (1 = sequential)
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`    // "gemini", "openai", "ollama", "mock"
	Model     string        `yaml:"model"`       // e.g., "gemini-embedding-001"
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL   string        `yaml:"base_url"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CacheConfig holds embedding cache configuration.
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // "bolt", "redis", "memory", "none"
	Path       string        `yaml:"path"`
	RedisAddr  string        `yaml:"redis_addr"`
	RedisTTL   time.Duration `yaml:"redis_ttl"`
	MemorySize int           `yaml:"memory_size"`
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	Backend         string `yaml:"backend"` // "qdrant", "bolt", "memory"
	Collection      string `yaml:"collection"`
	QdrantHost      string `yaml:"qdrant_host"`
	QdrantPort      int    `yaml:"qdrant_port"`
	QdrantAPIKeyEnv string `yaml:"qdrant_api_key_env"`
	QdrantTLS       bool   `yaml:"qdrant_tls"`
	Path            string `yaml:"path"`
	Wait            bool   `yaml:"wait"` // Block upserts until the server acknowledges persistence
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	PerRecipeLimit int           `yaml:"per_recipe_limit"`
	FinalK         int           `yaml:"final_k"`
	SearchTimeout  time.Duration `yaml:"search_timeout"`
}

// RerankConfig holds LLM judge configuration.
type RerankConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Provider      string        `yaml:"provider"` // "gemini", "openai", "ollama", "bedrock"
	Model         string        `yaml:"model"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	BaseURL       string        `yaml:"base_url"`
	Region        string        `yaml:"region"`
	MaxCandidates int           `yaml:"max_candidates"`
	Timeout       time.Duration `yaml:"timeout"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Recipes: []RecipeConfig{
			{Name: "small", ChunkSize: 1000, ChunkOverlap: 200},
			{Name: "large", ChunkSize: 2048, ChunkOverlap: 400},
		},
		Index: IndexConfig{
			Includes:      []string{"**/*.txt", "**/*.md", "**/*.markdown", "**/*.pdf", "**/*.xlsx"},
			Excludes:      []string{"**/.git/**", "**/node_modules/**", "**/.multirag/**"},
			ProgressEvery: 20,
			Concurrency:   1,
		},
		Embedding: EmbeddingConfig{
			Provider:  "gemini",
			Model:     "gemini-embedding-001",
			APIKeyEnv: "GEMINI_API_KEY",
			Dimension: 768,
			Timeout:   60 * time.Second,
		},
		Cache: CacheConfig{
			Backend:    "bolt",
			Path:       filepath.Join(".multirag", "embeddings.db"),
			RedisAddr:  "localhost:6379",
			RedisTTL:   30 * 24 * time.Hour,
			MemorySize: 10000,
		},
		Store: StoreConfig{
			Backend:         "qdrant",
			Collection:      "pdf_chat_embeddings",
			QdrantHost:      "localhost",
			QdrantPort:      6334,
			QdrantAPIKeyEnv: "QDRANT_API_KEY",
			Path:            filepath.Join(".multirag", "vectors.db"),
		},
		Retrieve: RetrieveConfig{
			PerRecipeLimit: 20,
			FinalK:         5,
			SearchTimeout:  15 * time.Second,
		},
		Rerank: RerankConfig{
			Enabled:       false, // Disabled by default (requires API key)
			Provider:      "gemini",
			Model:         "gemini-2.0-flash",
			APIKeyEnv:     "GEMINI_API_KEY",
			Region:        "us-east-1",
			MaxCandidates: 50,
			Timeout:       30 * time.Second,
			Temperature:   0,
			MaxTokens:     1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for multirag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "multirag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".multirag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DomainRecipes converts the configured recipes into domain recipes.
func (c *Config) DomainRecipes() []domain.Recipe {
	recipes := make([]domain.Recipe, len(c.Recipes))
	for i, r := range c.Recipes {
		recipes[i] = domain.Recipe{Name: r.Name, ChunkSize: r.ChunkSize, ChunkOverlap: r.ChunkOverlap}
	}
	return recipes
}

// Validate reports configuration errors. Any error returned here is fatal.
func (c *Config) Validate() error {
	if len(c.Recipes) == 0 {
		return fmt.Errorf("no recipes configured")
	}
	seen := make(map[string]bool, len(c.Recipes))
	for _, r := range c.DomainRecipes() {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate recipe name %q", domain.ErrInvalidRecipe, r.Name)
		}
		seen[r.Name] = true
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if !oneOf(c.Embedding.Provider, "gemini", "openai", "ollama", "mock") {
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}
	if !oneOf(c.Cache.Backend, "bolt", "redis", "memory", "none", "") {
		return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
	if !oneOf(c.Store.Backend, "qdrant", "bolt", "memory") {
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("store.collection must be set")
	}
	if c.Retrieve.PerRecipeLimit <= 0 {
		return fmt.Errorf("retrieve.per_recipe_limit must be positive, got %d", c.Retrieve.PerRecipeLimit)
	}
	if c.Retrieve.FinalK <= 0 {
		return fmt.Errorf("retrieve.final_k must be positive, got %d", c.Retrieve.FinalK)
	}
	if c.Rerank.Enabled && !oneOf(c.Rerank.Provider, "gemini", "openai", "ollama", "bedrock") {
		return fmt.Errorf("unsupported rerank provider: %s", c.Rerank.Provider)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// ResolvePath makes a relative state path absolute against dir.
func ResolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// EnsureStatePath resolves path against dir and creates its parent directory
// so a local store or cache file can be opened there.
func EnsureStatePath(dir, path string) (string, error) {
	path = ResolvePath(dir, path)
	if path == "" {
		return "", fmt.Errorf("empty state path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return path, nil
}
