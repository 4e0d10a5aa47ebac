// Package config loads service configuration from the environment.
//
// Every service in the suite shares one Config type; each binary reads
// the sections it needs. Values come from environment variables with
// sensible defaults for a docker-compose deployment, and a local .env
// file is honored when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Ingestion    IngestionConfig
	Gateway      GatewayConfig
	Reranker     RerankerConfig
	Orchestrator OrchestratorConfig
	Qdrant       QdrantConfig
	Ollama       OllamaConfig
	Redis        RedisConfig
	Logging      LoggingConfig
}

// ServerConfig carries the HTTP settings shared by all four services.
// Each binary picks its own port from the service-specific sections.
type ServerConfig struct {
	Host           string
	Mode           string // "debug" or "release"
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration // long enough for SSE streams
	IdleTimeout    time.Duration
	CORSOrigins    []string
	RequestLogging bool
}

// IngestionConfig configures the control-plane service (port 8000).
type IngestionConfig struct {
	Port         string
	DatabasePath string
	PromptsDir   string

	// Pipeline versions stamped onto persisted documents.
	NormalizationVersion     string
	ChunkingVersion          string
	ContextualizationVersion string
}

// GatewayConfig configures the inference gateway (port 8010).
type GatewayConfig struct {
	Port            string
	RerankerURL     string
	RerankerTimeout time.Duration

	// Read-through cache for embedding calls, keyed by model + input hash.
	EmbedCacheEnabled bool
	EmbedCacheTTL     time.Duration
}

// RerankerConfig configures the cross-encoder scoring service (port 8020).
type RerankerConfig struct {
	Port               string
	DefaultModel       string
	ModelsConfigPath   string
	ModelDir           string
	Device             string // "auto", "cpu", "cuda"
	MaxLength          int
	BatchSize          int
	UseFP16            bool
	UnloadAfterRequest bool
}

// OrchestratorConfig configures the RAG answering service (port 8030).
type OrchestratorConfig struct {
	Port             string
	InferenceAPIURL  string
	InferenceTimeout time.Duration

	ChatModel      string
	EmbeddingModel string
	RerankModel    string

	SessionsPath   string
	CheckpointPath string
	PromptsDir     string

	HistoryWindow        int
	TopK                 int
	DenseTopK            int
	SparseTopK           int
	DenseWeight          float64
	RerankCandidateCount int
}

type QdrantConfig struct {
	URL              string
	Timeout          time.Duration
	CollectionPrefix string
}

type OllamaConfig struct {
	URL            string
	Timeout        time.Duration
	KeepAlive      string
	ChatModel      string
	EmbeddingModel string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

func Load() *Config {
	// Best effort; absent .env files are fine in containers.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Mode:           getEnv("GIN_MODE", "release"),
			ReadTimeout:    getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationEnv("WRITE_TIMEOUT", 300*time.Second),
			IdleTimeout:    getDurationEnv("IDLE_TIMEOUT", 120*time.Second),
			CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"*"}),
			RequestLogging: getBoolEnv("REQUEST_LOGGING", true),
		},
		Ingestion: IngestionConfig{
			Port:         getEnv("INGESTION_PORT", "8000"),
			DatabasePath: getEnv("INGESTION_DATABASE_PATH", "./data/control_plane.db"),
			PromptsDir:   getEnv("PROMPTS_DIR", "./prompts"),

			NormalizationVersion:     getEnv("NORMALIZATION_VERSION", "v1"),
			ChunkingVersion:          getEnv("CHUNKING_VERSION", "v1"),
			ContextualizationVersion: getEnv("CONTEXTUALIZATION_VERSION", "anthropic-style-v1"),
		},
		Gateway: GatewayConfig{
			Port:            getEnv("INFERENCE_PORT", "8010"),
			RerankerURL:     getEnv("RERANKER_API_URL", "http://backend-reranker:8020/v1"),
			RerankerTimeout: getDurationEnv("RERANKER_TIMEOUT", 120*time.Second),

			EmbedCacheEnabled: getBoolEnv("EMBED_CACHE_ENABLED", true),
			EmbedCacheTTL:     getDurationEnv("EMBED_CACHE_TTL", 1*time.Hour),
		},
		Reranker: RerankerConfig{
			Port:               getEnv("RERANKER_PORT", "8020"),
			DefaultModel:       getEnv("RERANKER_MODEL", "BAAI/bge-reranker-v2-m3"),
			ModelsConfigPath:   getEnv("RERANKER_MODELS_CONFIG", "./models.yaml"),
			ModelDir:           getEnv("RERANKER_MODEL_DIR", "./models"),
			Device:             getEnv("RERANKER_DEVICE", "auto"),
			MaxLength:          getIntEnv("RERANKER_MAX_LENGTH", 1024),
			BatchSize:          getIntEnv("RERANKER_BATCH_SIZE", 16),
			UseFP16:            getBoolEnv("RERANKER_USE_FP16", true),
			UnloadAfterRequest: getBoolEnv("RERANKER_UNLOAD_AFTER_REQUEST", false),
		},
		Orchestrator: OrchestratorConfig{
			Port:             getEnv("RAG_PORT", "8030"),
			InferenceAPIURL:  getEnv("INFERENCE_API_URL", "http://backend-inference:8010/v1"),
			InferenceTimeout: getDurationEnv("INFERENCE_TIMEOUT", 300*time.Second),

			ChatModel:      getEnv("RAG_CHAT_MODEL", "gpt-oss:20b"),
			EmbeddingModel: getEnv("RAG_EMBEDDING_MODEL", "bge-m3:latest"),
			RerankModel:    getEnv("RAG_RERANK_MODEL", "BAAI/bge-reranker-v2-m3"),

			SessionsPath:   getEnv("RAG_SESSIONS_PATH", "./data/rag_sessions.db"),
			CheckpointPath: getEnv("RAG_CHECKPOINT_PATH", "./data/rag_checkpoints.db"),
			PromptsDir:     getEnv("PROMPTS_DIR", "./prompts"),

			HistoryWindow:        getIntEnv("RAG_HISTORY_WINDOW", 8),
			TopK:                 getIntEnv("RAG_TOP_K", 6),
			DenseTopK:            getIntEnv("RAG_DENSE_TOP_K", 24),
			SparseTopK:           getIntEnv("RAG_SPARSE_TOP_K", 24),
			DenseWeight:          getFloatEnv("RAG_DENSE_WEIGHT", 0.65),
			RerankCandidateCount: getIntEnv("RAG_RERANK_CANDIDATES", 16),
		},
		Qdrant: QdrantConfig{
			// gRPC endpoint; REST listens one port below.
			URL:              getEnv("QDRANT_URL", "http://qdrant:6334"),
			Timeout:          getDurationEnv("QDRANT_TIMEOUT", 30*time.Second),
			CollectionPrefix: getEnv("QDRANT_COLLECTION_PREFIX", "rag_suite_project"),
		},
		Ollama: OllamaConfig{
			URL:            getEnv("OLLAMA_URL", "http://ollama:11434"),
			Timeout:        getDurationEnv("OLLAMA_TIMEOUT", 90*time.Second),
			KeepAlive:      getEnv("OLLAMA_KEEP_ALIVE", "30m"),
			ChatModel:      getEnv("OLLAMA_CHAT_MODEL", "qwen3:8b"),
			EmbeddingModel: getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text:latest"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			PoolSize: getIntEnv("REDIS_POOL_SIZE", 10),
			Timeout:  getDurationEnv("REDIS_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Addr joins the shared host with a service port.
func (s ServerConfig) Addr(port string) string {
	return s.Host + ":" + port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
