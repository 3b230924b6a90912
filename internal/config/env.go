package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv builds the configuration from the environment on top of the
// defaults. Every variable of the deployment contract is read here and
// nowhere else.
func FromEnv() *Config {
	cfg := Default()

	envStr(&cfg.Server.Host, "HOST")
	envInt(&cfg.Server.HTTPPort, "HTTP_PORT")
	envSeconds(&cfg.Server.QueryDeadline, "QUERY_DEADLINE_S")
	envSeconds(&cfg.Server.IngestDeadline, "INGEST_DEADLINE_S")

	envInt64(&cfg.Limits.MaxRequestBytes, "MAX_REQUEST_BYTES")
	envInt(&cfg.Limits.MaxFilesPerRequest, "MAX_FILES_PER_REQUEST")
	envInt(&cfg.Limits.RatePerMinute, "RATE_LIMIT_PER_MINUTE")
	envInt(&cfg.Limits.FanOut, "FAN_OUT")

	envInt(&cfg.Chunking.MaxChars, "CHUNK_MAX_CHARS")
	envInt(&cfg.Chunking.MinChars, "CHUNK_MIN_CHARS")
	envInt(&cfg.Chunking.OverlapChars, "CHUNK_OVERLAP_CHARS")
	envFloat(&cfg.Chunking.SimilarityThreshold, "SEMANTIC_SIMILARITY_THRESHOLD")

	envStr(&cfg.Embedding.APIKey, "EMBED_API_KEY")
	envStr(&cfg.Embedding.BaseURL, "EMBED_BASE_URL")
	envStr(&cfg.Embedding.Model, "EMBED_MODEL")
	envInt(&cfg.Embedding.Dim, "EMBED_DIM")
	envInt(&cfg.Embedding.BatchMax, "EMBED_BATCH_MAX")
	envSeconds(&cfg.Embedding.Timeout, "EMBED_TIMEOUT_S")

	envInt(&cfg.Retrieval.TopKDefault, "TOPK_DEFAULT")
	envInt(&cfg.Retrieval.TopKMax, "TOPK_MAX")
	envInt(&cfg.Retrieval.CandidateMultiplier, "CANDIDATE_MULTIPLIER")
	envFloat(&cfg.Retrieval.RerankRetrievalWeight, "RERANK_RETRIEVAL_WEIGHT")
	envFloat(&cfg.Retrieval.RerankSemanticWeight, "RERANK_SEMANTIC_WEIGHT")
	envFloat(&cfg.Retrieval.RerankLengthWeight, "RERANK_LENGTH_WEIGHT")

	envStr(&cfg.Generate.Provider, "GEN_PROVIDER")
	envStr(&cfg.Generate.APIKey, "GEN_API_KEY")
	envStr(&cfg.Generate.BaseURL, "GEN_BASE_URL")
	envStr(&cfg.Generate.Model, "GEN_MODEL")
	envInt(&cfg.Generate.MaxTokens, "MAX_GEN_TOKENS")
	envInt(&cfg.Generate.ContextTokenBudget, "CONTEXT_TOKEN_BUDGET")
	envSeconds(&cfg.Generate.Timeout, "GEN_TIMEOUT_S")
	envInt(&cfg.Generate.RecentMessages, "RECENT_MESSAGES")

	envStr(&cfg.Database.DSN, "DATABASE_URL")
	envInt(&cfg.Database.MaxConnections, "DATABASE_MAX_CONNECTIONS")

	envStr(&cfg.Object.Bucket, "OBJECT_BUCKET")
	envStr(&cfg.Object.Region, "OBJECT_REGION")
	envStr(&cfg.Object.Endpoint, "OBJECT_ENDPOINT")
	envStr(&cfg.Object.AccessKeyID, "OBJECT_ACCESS_KEY_ID")
	envStr(&cfg.Object.SecretAccessKey, "OBJECT_SECRET_ACCESS_KEY")
	envBool(&cfg.Object.UsePathStyle, "OBJECT_USE_PATH_STYLE")

	envStr(&cfg.Sessions.RedisAddr, "REDIS_ADDR")
	envStr(&cfg.Sessions.RedisPassword, "REDIS_PASSWORD")
	envInt(&cfg.Sessions.RedisDB, "REDIS_DB")
	if days, ok := lookupInt("SESSION_TTL_DAYS"); ok {
		cfg.Sessions.TTL = time.Duration(days) * 24 * time.Hour
	}

	envStr(&cfg.Logging.Level, "LOG_LEVEL")
	envStr(&cfg.Logging.Format, "LOG_FORMAT")

	envStr(&cfg.Tracing.Endpoint, "OTLP_ENDPOINT")
	envFloat(&cfg.Tracing.SamplingRate, "TRACE_SAMPLING_RATE")
	envBool(&cfg.Tracing.Insecure, "OTLP_INSECURE")

	return cfg
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := lookupInt(key); ok {
		*dst = v
	}
}

func envInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v, ok := lookupInt(key); ok {
		*dst = time.Duration(v) * time.Second
	}
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
