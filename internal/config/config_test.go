package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Limits.MaxRequestBytes != 10*1024*1024 {
		t.Errorf("MaxRequestBytes = %d, want 10 MiB", cfg.Limits.MaxRequestBytes)
	}
	if cfg.Limits.MaxFilesPerRequest != 10 {
		t.Errorf("MaxFilesPerRequest = %d, want 10", cfg.Limits.MaxFilesPerRequest)
	}
	if cfg.Limits.RatePerMinute != 60 {
		t.Errorf("RatePerMinute = %d, want 60", cfg.Limits.RatePerMinute)
	}
	if cfg.Chunking.MaxChars != 2800 || cfg.Chunking.MinChars != 500 {
		t.Errorf("chunking defaults = %d/%d, want 2800/500", cfg.Chunking.MaxChars, cfg.Chunking.MinChars)
	}
	if cfg.Embedding.Dim != 768 {
		t.Errorf("EmbedDim = %d, want 768", cfg.Embedding.Dim)
	}
	if cfg.Server.QueryDeadline != 30*time.Second {
		t.Errorf("QueryDeadline = %v, want 30s", cfg.Server.QueryDeadline)
	}
	if cfg.Server.IngestDeadline != 90*time.Second {
		t.Errorf("IngestDeadline = %v, want 90s", cfg.Server.IngestDeadline)
	}
	if cfg.Sessions.TTL != 30*24*time.Hour {
		t.Errorf("Session TTL = %v, want 30 days", cfg.Sessions.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("QUERY_DEADLINE_S", "2")
	t.Setenv("SESSION_TTL_DAYS", "7")
	t.Setenv("RERANK_RETRIEVAL_WEIGHT", "0.6")
	t.Setenv("CHUNK_MAX_CHARS", "1200")

	cfg := FromEnv()

	if cfg.Limits.RatePerMinute != 5 {
		t.Errorf("RatePerMinute = %d, want 5", cfg.Limits.RatePerMinute)
	}
	if cfg.Server.QueryDeadline != 2*time.Second {
		t.Errorf("QueryDeadline = %v, want 2s", cfg.Server.QueryDeadline)
	}
	if cfg.Sessions.TTL != 7*24*time.Hour {
		t.Errorf("TTL = %v, want 7 days", cfg.Sessions.TTL)
	}
	if cfg.Retrieval.RerankRetrievalWeight != 0.6 {
		t.Errorf("RerankRetrievalWeight = %v, want 0.6", cfg.Retrieval.RerankRetrievalWeight)
	}
	if cfg.Chunking.MaxChars != 1200 {
		t.Errorf("ChunkMaxChars = %d, want 1200", cfg.Chunking.MaxChars)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chunk min above max", func(c *Config) { c.Chunking.MinChars = 5000 }},
		{"topk default above max", func(c *Config) { c.Retrieval.TopKDefault = 50 }},
		{"weights not normalized", func(c *Config) { c.Retrieval.RerankLengthWeight = 0.5 }},
		{"context budget above gen tokens", func(c *Config) { c.Generate.ContextTokenBudget = 100000 }},
		{"zero files", func(c *Config) { c.Limits.MaxFilesPerRequest = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
