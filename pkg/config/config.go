package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Milvus    MilvusConfig
	Redis     RedisConfig
	LLM       LLMConfig
	OCR       OCRConfig
	Storage   StorageConfig
	Ingestion IngestionConfig
	Retrieval RetrievalConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins string
	MaxQuestionLen int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled         bool
	Host            string
	Port            int
	Password        string
	DB              int
	EmbeddingTTLSec int
}

type LLMConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
}

type OCRConfig struct {
	PdftocairoPath string
	TesseractPath  string
	Languages      string
	DPI            int
	WorkDir        string
}

type StorageConfig struct {
	Backend   string
	UploadDir string
	MinIO     MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type IngestionConfig struct {
	Workers      int
	QueueSize    int
	MinPageChars int
}

type RetrievalConfig struct {
	DistanceThreshold float64
	StreamTopK        int
	SingleShotTopK    int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml (if any), a .env file (if any) and DOCQA_* environment
// variables, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docqa")

	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Retrieval.DistanceThreshold <= 0 {
		return fmt.Errorf("retrieval.distanceThreshold must be positive, got %v", c.Retrieval.DistanceThreshold)
	}
	if c.Retrieval.StreamTopK < 1 || c.Retrieval.SingleShotTopK < 1 {
		return fmt.Errorf("retrieval top-k values must be at least 1")
	}
	if c.Ingestion.Workers < 1 {
		return fmt.Errorf("ingestion.workers must be at least 1")
	}
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)
	v.SetDefault("server.bodyLimit", 50*1024*1024)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.maxQuestionLen", 2000)

	v.SetDefault("sqlite.path", "./data/docqa.db")

	v.SetDefault("milvus.endpoint", "localhost:19530")
	v.SetDefault("milvus.collectionName", "campus_knowledge")
	v.SetDefault("milvus.vectorDim", 1024)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLSec", 86400)

	v.SetDefault("llm.baseURL", "https://api.siliconflow.cn/v1")
	v.SetDefault("llm.model", "deepseek-ai/DeepSeek-V3")
	v.SetDefault("llm.embeddingModel", "BAAI/bge-m3")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("ocr.pdftocairoPath", "pdftocairo")
	v.SetDefault("ocr.tesseractPath", "tesseract")
	v.SetDefault("ocr.languages", "chi_sim+eng")
	v.SetDefault("ocr.dpi", 400)
	v.SetDefault("ocr.workDir", os.TempDir())

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.uploadDir", "./uploads")
	v.SetDefault("storage.minio.bucket", "docqa-uploads")

	v.SetDefault("ingestion.workers", 2)
	v.SetDefault("ingestion.queueSize", 64)
	v.SetDefault("ingestion.minPageChars", 10)

	v.SetDefault("retrieval.distanceThreshold", 0.82)
	v.SetDefault("retrieval.streamTopK", 10)
	v.SetDefault("retrieval.singleShotTopK", 1)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
