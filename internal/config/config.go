package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/scielo/kernel/internal/storage"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     storage.MinIOConfig
	RateLimit RateLimitConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig selects the document backend and the sequence generator.
type StorageConfig struct {
	Backend       string // memory | mongo
	Sequence      string // store | redis
	SequenceLabel string
}

type MongoDBConfig struct {
	URI                 string
	Database            string
	Timeout             time.Duration
	DocumentsCollection string
	ChangesCollection   string
	SequenceCollection  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr is the host:port pair go-redis dials.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

const (
	BackendMemory  = "memory"
	BackendMongo   = "mongo"
	SequenceStore  = "store"
	SequenceRedis  = "redis"
	defaultEnvFile = ".env"
)

// LoadConfig loads configuration from environment variables and an optional .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(defaultEnvFile)

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5010")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_BACKEND", BackendMemory)
	v.SetDefault("SEQUENCE_BACKEND", SequenceStore)
	v.SetDefault("SEQUENCE_LABEL", "CHANGES_SEQ")
	v.SetDefault("MONGODB_DATABASE", "kernel")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("MONGODB_DOCUMENTS_COLLECTION", "articles")
	v.SetDefault("MONGODB_CHANGES_COLLECTION", "changes")
	v.SetDefault("MONGODB_SEQUENCE_COLLECTION", "sequences")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MINIO_BUCKET", "kernel")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(v.GetString("STORAGE_BACKEND")),
			Sequence:      strings.ToLower(v.GetString("SEQUENCE_BACKEND")),
			SequenceLabel: v.GetString("SEQUENCE_LABEL"),
		},
		MongoDB: MongoDBConfig{
			URI:                 v.GetString("MONGODB_URI"),
			Database:            v.GetString("MONGODB_DATABASE"),
			Timeout:             time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
			DocumentsCollection: v.GetString("MONGODB_DOCUMENTS_COLLECTION"),
			ChangesCollection:   v.GetString("MONGODB_CHANGES_COLLECTION"),
			SequenceCollection:  v.GetString("MONGODB_SEQUENCE_COLLECTION"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MinIO: storage.MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects backend selections whose connection settings are missing.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("STORAGE_BACKEND=mongo requires MONGODB_URI")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	switch c.Storage.Sequence {
	case SequenceStore:
	case SequenceRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("SEQUENCE_BACKEND=redis requires REDIS_HOST")
		}
	default:
		return fmt.Errorf("unknown SEQUENCE_BACKEND %q", c.Storage.Sequence)
	}
	if c.RateLimit.UseRedis && c.Redis.Host == "" {
		return fmt.Errorf("RATE_LIMIT_USE_REDIS requires REDIS_HOST")
	}
	return nil
}
