// Package config loads service configuration from the environment. Every
// tunable the pipeline exposes (risk thresholds, retrieval weights, timeouts)
// lives here so callers can inspect and override them.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type GenerationConfig struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

// RetrievalConfig controls the hybrid retriever. SemanticWeight and
// KeywordWeight must sum to 1 for combined scores to stay in [0,1].
type RetrievalConfig struct {
	SemanticWeight float64
	KeywordWeight  float64
	BackendTimeout time.Duration
	RetryBackoff   time.Duration
	TopK           int
}

// RiskConfig holds the EDFL gate thresholds and formula coefficients. The
// thresholds are part of the public contract: responses echo them so callers
// understand why a request was gated.
type RiskConfig struct {
	AnswerMaxRoH  float64
	ClarifyMaxRoH float64

	BudgetBaseBits        float64
	BudgetBitsPerConcept  float64
	BudgetBitsPerJuris    float64
	BudgetBitsPerLogToken float64

	BitsPerCandidate   float64
	RedundancyDiscount float64
	SaturationCapBits  float64

	RoHDecay            float64
	PartialPenalty      float64
	TierConflictPenalty float64
}

type ChunkingConfig struct {
	TargetTokens  int
	OverlapTokens int
}

type Config struct {
	HTTPAddr    string
	Workers     int
	DataDir     string
	PostgresDSN string
	Neo4jURI    string
	Neo4jUser   string
	Neo4jPass   string
	AuditDir    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Embeddings EmbeddingConfig
	Generation GenerationConfig
	Retrieval  RetrievalConfig
	Risk       RiskConfig
	Chunking   ChunkingConfig
}

func Load() Config {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	return Config{
		HTTPAddr:    getEnv("LEXGATE_ADDR", ":8080"),
		Workers:     getEnvInt("LEXGATE_WORKERS", 8),
		DataDir:     getEnv("LEXGATE_DATA_DIR", "./data"),
		PostgresDSN: getEnv("POSTGRES_DSN", "postgres://localhost:5432/lexgate?sslmode=disable"),
		Neo4jURI:    getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:   getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:   getEnv("NEO4J_PASSWORD", "password"),
		AuditDir:    getEnv("LEXGATE_AUDIT_DIR", "./audit"),

		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		Embeddings: EmbeddingConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOllama),
			Model:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
		},
		Generation: GenerationConfig{
			Provider: getEnv("GENERATION_PROVIDER", ProviderOllama),
			Model:    getEnv("GENERATION_MODEL", "llama3.1"),
			Timeout:  getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			SemanticWeight: getEnvFloat("RETRIEVAL_SEMANTIC_WEIGHT", 0.7),
			KeywordWeight:  getEnvFloat("RETRIEVAL_KEYWORD_WEIGHT", 0.3),
			BackendTimeout: getEnvDuration("RETRIEVAL_BACKEND_TIMEOUT", 2*time.Second),
			RetryBackoff:   getEnvDuration("RETRIEVAL_RETRY_BACKOFF", 100*time.Millisecond),
			TopK:           getEnvInt("RETRIEVAL_TOP_K", 8),
		},
		Risk: RiskConfig{
			AnswerMaxRoH:  getEnvFloat("RISK_ANSWER_MAX_ROH", 0.05),
			ClarifyMaxRoH: getEnvFloat("RISK_CLARIFY_MAX_ROH", 0.15),

			BudgetBaseBits:        getEnvFloat("RISK_BUDGET_BASE_BITS", 2),
			BudgetBitsPerConcept:  getEnvFloat("RISK_BUDGET_BITS_PER_CONCEPT", 1.5),
			BudgetBitsPerJuris:    getEnvFloat("RISK_BUDGET_BITS_PER_JURISDICTION", 1),
			BudgetBitsPerLogToken: getEnvFloat("RISK_BUDGET_BITS_PER_LOG_TOKEN", 0.75),

			BitsPerCandidate:   getEnvFloat("RISK_BITS_PER_CANDIDATE", 16),
			RedundancyDiscount: getEnvFloat("RISK_REDUNDANCY_DISCOUNT", 0.35),
			SaturationCapBits:  getEnvFloat("RISK_SATURATION_CAP_BITS", 60),

			RoHDecay:            getEnvFloat("RISK_ROH_DECAY", 1.8),
			PartialPenalty:      getEnvFloat("RISK_PARTIAL_PENALTY", 1.6),
			TierConflictPenalty: getEnvFloat("RISK_TIER_CONFLICT_PENALTY", 1.3),
		},
		Chunking: ChunkingConfig{
			TargetTokens:  getEnvInt("CHUNK_TARGET_TOKENS", 512),
			OverlapTokens: getEnvInt("CHUNK_OVERLAP_TOKENS", 50),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
