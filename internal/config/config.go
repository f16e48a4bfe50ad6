package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Backend names accepted by STORE_BACKEND and STORAGE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMinIO    = "minio"
	BackendMemory   = "memory"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for MinIO.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// LogConfig selects the log level ("debug", "info", ...) and encoding ("json" or "console").
type LogConfig struct {
	Level  string
	Format string
}

// MaxCandidateLimit is the largest hnsw.ef_search pgvector accepts.
const MaxCandidateLimit = 1000

// IngestConfig tunes the capture pipeline.
type IngestConfig struct {
	MatchThreshold      float64
	MatchCandidateLimit int
	DetectMinAreaRatio  float64
	DetectMaxDim        int
	RectifyMaxDim       int
	MaxCapturePixels    int
	Workers             int
	DefaultAuthor       string
	ImageURLExpiry      time.Duration
}

// AppConfig is the centralized configuration struct for the application.
// It is populated from environment variables. Sensitive values are not hardcoded.
type AppConfig struct {
	AppHost        string
	Port           string
	StoreBackend   string
	StorageBackend string
	Database       DatabaseConfig
	MinIO          MinIOConfig
	Log            LogConfig
	Ingest         IngestConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost:        getEnv("APP_HOST", "localhost:8080"),
		Port:           getEnv("PORT", "8080"),
		StoreBackend:   getEnv("STORE_BACKEND", BackendPostgres),
		StorageBackend: getEnv("STORAGE_BACKEND", BackendMinIO),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", ""),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Ingest: IngestConfig{
			MatchThreshold:      getEnvFloat("MATCH_THRESHOLD", 0.15),
			MatchCandidateLimit: getEnvInt("MATCH_CANDIDATE_LIMIT", 50),
			DetectMinAreaRatio:  getEnvFloat("DETECT_MIN_AREA_RATIO", 0.1),
			DetectMaxDim:        getEnvInt("DETECT_MAX_DIM", 512),
			RectifyMaxDim:       getEnvInt("RECTIFY_MAX_DIM", 1024),
			MaxCapturePixels:    getEnvInt("MAX_CAPTURE_PIXELS", 40_000_000),
			Workers:             getEnvInt("INGEST_WORKERS", runtime.GOMAXPROCS(0)),
			DefaultAuthor:       getEnv("DEFAULT_AUTHOR", "Default author"),
			ImageURLExpiry:      time.Duration(getEnvInt("IMAGE_URL_EXPIRY_SEC", 900)) * time.Second,
		},
	}
}

// Validate rejects settings the service cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StoreBackend))
	}
	switch c.StorageBackend {
	case BackendMinIO, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendMinIO, BackendMemory, c.StorageBackend))
	}
	if c.Ingest.MatchThreshold <= 0 || c.Ingest.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", c.Ingest.MatchThreshold))
	}
	if c.Ingest.DetectMinAreaRatio <= 0 || c.Ingest.DetectMinAreaRatio > 1 {
		errs = append(errs, fmt.Errorf("DETECT_MIN_AREA_RATIO must be in (0, 1], got %v", c.Ingest.DetectMinAreaRatio))
	}
	if c.Ingest.MatchCandidateLimit < 0 || c.Ingest.MatchCandidateLimit > MaxCandidateLimit {
		errs = append(errs, fmt.Errorf("MATCH_CANDIDATE_LIMIT must be in [0, %d], got %d", MaxCandidateLimit, c.Ingest.MatchCandidateLimit))
	}
	if c.Ingest.MaxCapturePixels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CAPTURE_PIXELS must be positive, got %d", c.Ingest.MaxCapturePixels))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.Ingest.Workers))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}
