package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	History   HistoryConfig   `yaml:"history"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	BodyLimitMB     int           `yaml:"body_limit_mb" validate:"gt=0"`
	RateLimit       float64       `yaml:"rate_limit" validate:"gte=0"`
	RateBurst       int           `yaml:"rate_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Console bool   `yaml:"console"`
}

type StorageConfig struct {
	BaseDir      string `yaml:"base_dir" validate:"required"`
	UploadDir    string `yaml:"upload_dir"`
	HighlightDir string `yaml:"highlight_dir"`
}

type ArchiveConfig struct {
	Type  string      `yaml:"type" validate:"oneof=none local minio"`
	Dir   string      `yaml:"dir"`
	Minio MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type IngestConfig struct {
	Strategy     string        `yaml:"strategy" validate:"oneof=recursive words"`
	ChunkSize    int           `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap *int          `yaml:"chunk_overlap" validate:"omitempty,gte=0"` // unset: a tenth of chunk_size, at most 50
	Workers      int           `yaml:"workers" validate:"gt=0"`
	WatchDir     string        `yaml:"watch_dir"`
	BadDir       string        `yaml:"bad_dir"`
	SettleTime   time.Duration `yaml:"settle_time"`
}

// Overlap is the configured chunk overlap, zero when unset.
func (c IngestConfig) Overlap() int {
	if c.ChunkOverlap == nil {
		return 0
	}
	return *c.ChunkOverlap
}

type EmbeddingConfig struct {
	Model     string        `yaml:"model" validate:"required"`
	BatchSize int           `yaml:"batch_size" validate:"gt=0"`
	CacheSize int           `yaml:"cache_size" validate:"gte=-1"` // -1 disables the cache
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type LLMConfig struct {
	URL              string        `yaml:"url" validate:"required,url"`
	Model            string        `yaml:"model" validate:"required"`
	Temperature      float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxContextTokens int           `yaml:"max_context_tokens" validate:"gt=0"`
	Timeout          time.Duration `yaml:"timeout"`
}

type IndexConfig struct {
	Backend   string         `yaml:"backend" validate:"oneof=memory postgres qdrant"`
	Dimension int            `yaml:"dimension" validate:"gt=0"`
	Postgres  PostgresConfig `yaml:"postgres"`
	Qdrant    QdrantConfig   `yaml:"qdrant"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
}

type RetrievalConfig struct {
	TopK     int     `yaml:"top_k" validate:"gt=0"`
	MinScore float64 `yaml:"min_score" validate:"gte=-1,lte=1"`
}

type HistoryConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=memory redis"`
	MaxEntries int           `yaml:"max_entries" validate:"gt=0"`
	TTL        time.Duration `yaml:"ttl"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JobsConfig struct {
	HighlightCleanup string        `yaml:"highlight_cleanup"`
	HighlightTTL     time.Duration `yaml:"highlight_ttl"`
}

// Load reads the YAML file at path (optional), a .env file in the working
// directory (optional), applies environment overrides and defaults and
// validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	mergeWithEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.BodyLimitMB == 0 {
		cfg.Server.BodyLimitMB = 64
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 2
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 10
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "data"
	}
	if abs, err := filepath.Abs(cfg.Storage.BaseDir); err == nil {
		cfg.Storage.BaseDir = abs
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = filepath.Join(cfg.Storage.BaseDir, "uploads")
	}
	if cfg.Storage.HighlightDir == "" {
		cfg.Storage.HighlightDir = filepath.Join(cfg.Storage.BaseDir, "highlighted")
	}

	if cfg.Archive.Type == "" {
		cfg.Archive.Type = "none"
	}
	if cfg.Archive.Type == "local" && cfg.Archive.Dir == "" {
		cfg.Archive.Dir = filepath.Join(cfg.Storage.BaseDir, "archive")
	}
	if cfg.Archive.Minio.Bucket == "" {
		cfg.Archive.Minio.Bucket = "docchat-uploads"
	}

	if cfg.Ingest.Strategy == "" {
		cfg.Ingest.Strategy = "recursive"
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 500
	}
	if cfg.Ingest.ChunkOverlap == nil {
		overlap := min(50, cfg.Ingest.ChunkSize/10)
		cfg.Ingest.ChunkOverlap = &overlap
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.WatchDir != "" && cfg.Ingest.BadDir == "" {
		cfg.Ingest.BadDir = filepath.Join(cfg.Storage.BaseDir, "bad")
	}
	if cfg.Ingest.SettleTime == 0 {
		cfg.Ingest.SettleTime = 3 * time.Second
	}

	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-minilm"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Embedding.CacheTTL == 0 {
		cfg.Embedding.CacheTTL = time.Hour
	}

	if cfg.LLM.URL == "" {
		cfg.LLM.URL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "tinyllama"
	}
	if cfg.LLM.MaxContextTokens == 0 {
		cfg.LLM.MaxContextTokens = 1500
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 5 * time.Minute
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Index.Dimension == 0 {
		cfg.Index.Dimension = 384
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "docchat_chunks"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}

	if cfg.History.Backend == "" {
		cfg.History.Backend = "memory"
	}
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = 50
	}
	if cfg.History.TTL == 0 {
		cfg.History.TTL = 24 * time.Hour
	}

	if cfg.Jobs.HighlightCleanup == "" {
		cfg.Jobs.HighlightCleanup = "@every 10m"
	}
	if cfg.Jobs.HighlightTTL == 0 {
		cfg.Jobs.HighlightTTL = time.Hour
	}
}

func mergeWithEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Storage.BaseDir, "DOCCHAT_DATA_DIR")
	setString(&cfg.LLM.URL, "OLLAMA_URL")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setString(&cfg.Index.Backend, "INDEX_BACKEND")
	setString(&cfg.Index.Postgres.DSN, "DATABASE_URL")
	setString(&cfg.Index.Qdrant.Addr, "QDRANT_ADDR")
	setString(&cfg.Index.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&cfg.History.Backend, "HISTORY_BACKEND")
	setString(&cfg.History.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.History.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Archive.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Archive.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Archive.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.ChunkSize = n
		}
	}
	if v := os.Getenv("CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.ChunkOverlap = &n
		}
	}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msg := "invalid config"
	for _, e := range errs {
		msg += "; " + e.Error()
	}
	return msg
}

var validate = validator.New()

// Validate checks struct tags first, then the rules spanning several fields.
func (c *Config) Validate() error {
	var errs ValidationErrors
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, e := range verrs {
			errs = append(errs, ValidationError{
				Field:   e.Namespace(),
				Message: fmt.Sprintf("failed on '%s' tag", e.Tag()),
			})
		}
	}

	if c.Ingest.Overlap() >= c.Ingest.ChunkSize {
		errs = append(errs, ValidationError{
			Field:   "ingest.chunk_overlap",
			Message: "chunk_overlap must be less than chunk_size",
		})
	}
	switch c.Index.Backend {
	case "postgres":
		if c.Index.Postgres.DSN == "" {
			errs = append(errs, ValidationError{Field: "index.postgres.dsn", Message: "required for postgres index"})
		}
	case "qdrant":
		if c.Index.Qdrant.Addr == "" {
			errs = append(errs, ValidationError{Field: "index.qdrant.addr", Message: "required for qdrant index"})
		}
	}
	if c.History.Backend == "redis" && c.History.Redis.Addr == "" {
		errs = append(errs, ValidationError{Field: "history.redis.addr", Message: "required for redis history"})
	}
	if c.Archive.Type == "minio" {
		m := c.Archive.Minio
		if m.Endpoint == "" || m.AccessKey == "" || m.SecretKey == "" {
			errs = append(errs, ValidationError{Field: "archive.minio", Message: "endpoint/access_key/secret_key are required for minio archive"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
