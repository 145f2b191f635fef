package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the codebase search engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	VectorDB   VectorDBConfig   `yaml:"vectordb"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Ignore     IgnoreConfig     `yaml:"ignore_patterns"`
	Languages  LanguagesConfig  `yaml:"supported_languages"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChunkingConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`    // measured in cl100k_base tokens
	ChunkOverlap int  `yaml:"chunk_overlap"` // must stay < ChunkSize
	UseAST       bool `yaml:"use_ast"`       // prefer the AST splitter when a parser exists
	// Hierarchical chunking: split large classes/interfaces into a summary
	// chunk plus one chunk per member.
	EnableHierarchicalChunking bool `yaml:"enable_hierarchical_chunking"`
	MaxFileSizeMB              int  `yaml:"max_file_size_mb"`
}

type IndexingConfig struct {
	BatchSize       int  `yaml:"batch_size"`
	ParallelWorkers int  `yaml:"parallel_workers"`
	Background      bool `yaml:"background"`
	ChunkLimit      int  `yaml:"chunk_limit"` // 0 means unlimited
}

type SearchConfig struct {
	DefaultLimit      int     `yaml:"default_limit"`
	MinScoreThreshold float64 `yaml:"min_score_threshold"`
	RRFConstant       int     `yaml:"rrf_constant"` // k in 1/(k+rank)
	CandidateMultiple int     `yaml:"candidate_multiple"`
}

type EmbeddingsConfig struct {
	Provider      string `yaml:"provider"` // openai | voyage | gemini | ollama
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	OllamaURL     string `yaml:"ollama_url"`
	BatchSize     int    `yaml:"batch_size"`
	Dimension     int    `yaml:"dimension"`      // target MRL dimension (64, 128, 256, 512, 768)
	FullDimension int    `yaml:"full_dimension"` // native dimension of the provider's model
	Normalize     bool   `yaml:"normalize"`
	UseMRL        bool   `yaml:"use_mrl"`
}

type VectorDBConfig struct {
	Provider string `yaml:"provider"` // sqlite-vec | milvus
	Path     string `yaml:"path"`     // sqlite-vec file, or milvus address
}

type CacheConfig struct {
	Directory string `yaml:"directory"` // hash maps + snapshot live here
}

type LoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type IgnoreConfig struct {
	Patterns []string `yaml:"patterns"` // CUSTOM_IGNORE_PATTERNS, merged with built-ins
}

type LanguagesConfig struct {
	Go         LanguageConfig `yaml:"go"`
	Python     LanguageConfig `yaml:"python"`
	Java       LanguageConfig `yaml:"java"`
	TypeScript LanguageConfig `yaml:"typescript"`
	JavaScript LanguageConfig `yaml:"javascript"`
}

type LanguageConfig struct {
	Extensions []string `yaml:"extensions"`
	Parser     string   `yaml:"parser"`
}

// Load loads configuration from file (if any) and applies environment
// variable overrides on top, matching the precedence the engine documents
// in its external interfaces: env vars always win.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if configPath := getConfigPath(); configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	cfg.Cache.Directory = expandPath(cfg.Cache.Directory)
	cfg.Logging.Directory = expandPath(cfg.Logging.Directory)
	cfg.VectorDB.Path = expandPath(cfg.VectorDB.Path)

	return cfg, nil
}

// DefaultConfig returns the engine's defaults before file/env overrides.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "codebase-context-engine",
			Version: "0.1.0",
		},
		Chunking: ChunkingConfig{
			ChunkSize:                  200,
			ChunkOverlap:               20,
			UseAST:                     true,
			EnableHierarchicalChunking: true,
			MaxFileSizeMB:              1,
		},
		Indexing: IndexingConfig{
			BatchSize:       100,
			ParallelWorkers: runtime.NumCPU(),
			Background:      true,
			ChunkLimit:      450_000,
		},
		Search: SearchConfig{
			DefaultLimit:      10,
			MinScoreThreshold: 0.3,
			RRFConstant:       60,
			CandidateMultiple: 4,
		},
		Embeddings: EmbeddingsConfig{
			Provider:      "ollama",
			Model:         "nomic-embed-text",
			OllamaURL:     "http://localhost:11434",
			BatchSize:     100,
			Dimension:     256,
			FullDimension: 768,
			Normalize:     true,
			UseMRL:        true,
		},
		VectorDB: VectorDBConfig{
			Provider: "sqlite-vec",
			Path:     "~/.context/vectordb",
		},
		Cache: CacheConfig{
			Directory: "~/.context",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Directory:  "~/.context/logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Ignore: IgnoreConfig{
			Patterns: nil,
		},
		Languages: LanguagesConfig{
			Go:         LanguageConfig{Extensions: []string{".go"}, Parser: "tree-sitter-go"},
			Python:     LanguageConfig{Extensions: []string{".py"}, Parser: "tree-sitter-python"},
			Java:       LanguageConfig{Extensions: []string{".java"}, Parser: "tree-sitter-java"},
			TypeScript: LanguageConfig{Extensions: []string{".ts", ".tsx"}, Parser: "tree-sitter-typescript"},
			JavaScript: LanguageConfig{Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}, Parser: "tree-sitter-javascript"},
		},
	}
}

func getConfigPath() string {
	if path := os.Getenv("SEMANTIC_SEARCH_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	home, err := os.UserHomeDir()
	if err == nil {
		path := filepath.Join(home, ".context", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides implements the full external-interface env var table:
// EMBEDDING_PROVIDER, EMBEDDING_MODEL, EMBEDDING_DIMENSION,
// EMBEDDING_BATCH_SIZE, CHUNK_LIMIT, CUSTOM_IGNORE_PATTERNS,
// VECTOR_DB_PROVIDER, VECTOR_DB_PATH, plus the per-provider API key each
// embedding provider needs to authenticate.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embeddings.Model = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embeddings.Dimension = n
		}
	}
	if v := os.Getenv("EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("CHUNK_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexing.ChunkLimit = n
		}
	}
	if v := os.Getenv("CUSTOM_IGNORE_PATTERNS"); v != "" {
		cfg.Ignore.Patterns = splitAndTrim(v, ",")
	}
	if v := os.Getenv("VECTOR_DB_PROVIDER"); v != "" {
		cfg.VectorDB.Provider = v
	}
	if v := os.Getenv("VECTOR_DB_PATH"); v != "" {
		cfg.VectorDB.Path = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.Embeddings.OllamaURL = v
	}

	switch cfg.Embeddings.Provider {
	case "openai":
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.Embeddings.APIKey = v
		}
	case "voyage":
		if v := os.Getenv("VOYAGE_API_KEY"); v != "" {
			cfg.Embeddings.APIKey = v
		}
	case "gemini":
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			cfg.Embeddings.APIKey = v
		}
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
