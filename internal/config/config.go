// Package config holds the service configuration. Values come from the
// environment (every knob the pipeline honors is enumerated here), optionally
// overlaid on a YAML file for local development. The resolved Config is built
// once in the composition root and passed down explicitly; nothing reads the
// environment after startup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Groundline.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Generate  GenerateConfig  `yaml:"generate"`
	Database  DatabaseConfig  `yaml:"database"`
	Object    ObjectConfig    `yaml:"object_store"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"http_port"`

	// QueryDeadline and IngestDeadline are the per-request deadlines.
	QueryDeadline  time.Duration `yaml:"query_deadline"`
	IngestDeadline time.Duration `yaml:"ingest_deadline"`
}

type LimitsConfig struct {
	// MaxRequestBytes bounds the total upload size of one ingest request.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
	// MaxFilesPerRequest bounds the file count of one ingest request.
	MaxFilesPerRequest int `yaml:"max_files_per_request"`
	// RatePerMinute is the per-client token bucket capacity.
	RatePerMinute int `yaml:"rate_limit_per_minute"`
	// FanOut bounds in-request parallelism (document parsing, batch embeds).
	FanOut int `yaml:"fan_out"`
}

type ChunkingConfig struct {
	MaxChars            int     `yaml:"max_chars"`
	MinChars            int     `yaml:"min_chars"`
	OverlapChars        int     `yaml:"overlap_chars"`
	SimilarityThreshold float64 `yaml:"semantic_similarity_threshold"`
}

type EmbeddingConfig struct {
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Dim      int           `yaml:"dim"`
	BatchMax int           `yaml:"batch_max"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RetrievalConfig struct {
	TopKDefault         int `yaml:"top_k_default"`
	TopKMax             int `yaml:"top_k_max"`
	CandidateMultiplier int `yaml:"candidate_multiplier"`

	// Rerank signal weights; defaults 0.50/0.35/0.15 per the retrieval
	// contract, configurable pending evaluation data.
	RerankRetrievalWeight float64 `yaml:"rerank_retrieval_weight"`
	RerankSemanticWeight  float64 `yaml:"rerank_semantic_weight"`
	RerankLengthWeight    float64 `yaml:"rerank_length_weight"`
}

type GenerateConfig struct {
	Provider string        `yaml:"provider"` // "openai" or "anthropic"
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	MaxTokens          int           `yaml:"max_tokens"`
	ContextTokenBudget int           `yaml:"context_token_budget"`
	Timeout            time.Duration `yaml:"timeout"`
	RecentMessages     int           `yaml:"recent_messages"`
}

type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string for the chunk store and the
	// pgvector index.
	DSN             string        `yaml:"dsn"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type ObjectConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type SessionsConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration defaults of the service contract.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			HTTPPort:       8080,
			QueryDeadline:  30 * time.Second,
			IngestDeadline: 90 * time.Second,
		},
		Limits: LimitsConfig{
			MaxRequestBytes:    10 * 1024 * 1024,
			MaxFilesPerRequest: 10,
			RatePerMinute:      60,
			FanOut:             8,
		},
		Chunking: ChunkingConfig{
			MaxChars:            2800,
			MinChars:            500,
			OverlapChars:        256,
			SimilarityThreshold: 0.75,
		},
		Embedding: EmbeddingConfig{
			Model:    "text-embedding-3-small",
			Dim:      768,
			BatchMax: 96,
			Timeout:  30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopKDefault:           5,
			TopKMax:               20,
			CandidateMultiplier:   3,
			RerankRetrievalWeight: 0.50,
			RerankSemanticWeight:  0.35,
			RerankLengthWeight:    0.15,
		},
		Generate: GenerateConfig{
			Provider:           "openai",
			Model:              "gpt-4o-mini",
			MaxTokens:          8000,
			ContextTokenBudget: 4000,
			Timeout:            60 * time.Second,
			RecentMessages:     6,
		},
		Database: DatabaseConfig{
			MaxConnections:  32,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Object: ObjectConfig{
			Region: "us-east-1",
		},
		Sessions: SessionsConfig{
			RedisAddr: "localhost:6379",
			TTL:       30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
	}
}

// LoadFile overlays a YAML configuration file on the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants the pipeline relies on.
func (c *Config) Validate() error {
	if c.Limits.MaxFilesPerRequest <= 0 {
		return fmt.Errorf("max_files_per_request must be positive")
	}
	if c.Limits.MaxRequestBytes <= 0 {
		return fmt.Errorf("max_request_bytes must be positive")
	}
	if c.Chunking.MinChars >= c.Chunking.MaxChars {
		return fmt.Errorf("chunk min_chars (%d) must be below max_chars (%d)",
			c.Chunking.MinChars, c.Chunking.MaxChars)
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding dim must be positive")
	}
	if c.Retrieval.TopKDefault > c.Retrieval.TopKMax {
		return fmt.Errorf("top_k_default (%d) exceeds top_k_max (%d)",
			c.Retrieval.TopKDefault, c.Retrieval.TopKMax)
	}
	w := c.Retrieval.RerankRetrievalWeight + c.Retrieval.RerankSemanticWeight + c.Retrieval.RerankLengthWeight
	if w < 0.999 || w > 1.001 {
		return fmt.Errorf("rerank weights must sum to 1.0, got %.3f", w)
	}
	if c.Generate.ContextTokenBudget > c.Generate.MaxTokens {
		return fmt.Errorf("context_token_budget (%d) exceeds max_tokens (%d)",
			c.Generate.ContextTokenBudget, c.Generate.MaxTokens)
	}
	return nil
}
