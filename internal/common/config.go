package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backend names accepted by CACHE_BACKEND.
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendSQLite   = "sqlite"
	CacheBackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Pipeline   PipelineConfig
	Cache      CacheConfig
	Preprocess PreprocessConfig
	OCR        OCRConfig
	Vision     VisionConfig
	Logo       LogoConfig
	Retry      RetryConfig
}

// ServerConfig holds HTTP server and upload-limit configuration
type ServerConfig struct {
	HTTPAddr     string
	MaxFiles     int
	MaxWorkers   int
	MaxImageMB   int
	MaxPDFMB     int
	MinDimension int
	MaxDimension int
}

// PipelineConfig holds orchestration configuration
type PipelineConfig struct {
	Version string
}

// CacheConfig holds record-cache configuration
type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	PostgresURL   string
}

// PreprocessConfig holds page canonicalization configuration
type PreprocessConfig struct {
	PdftoppmPath string
	DPI          int
}

// OCRConfig holds external OCR service configuration
type OCRConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Languages []string
	Timeout   time.Duration
}

// VisionConfig holds vision LLM configuration
type VisionConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	Lenient     bool
}

// LogoConfig holds local logo-detection configuration
type LogoConfig struct {
	MaxLogos       int
	SignaturesPath string
}

// RetryConfig holds the shared outbound retry policy knobs
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
			MaxFiles:     getEnvAsInt("MAX_FILES", 5),
			MaxWorkers:   getEnvAsInt("MAX_WORKERS", 5),
			MaxImageMB:   getEnvAsInt("MAX_IMAGE_MB", 5),
			MaxPDFMB:     getEnvAsInt("MAX_PDF_MB", 10),
			MinDimension: getEnvAsInt("MIN_DIMENSION", 300),
			MaxDimension: getEnvAsInt("MAX_DIMENSION", 6000),
		},
		Pipeline: PipelineConfig{
			Version: getEnv("PIPELINE_VERSION", "v1"),
		},
		Cache: CacheConfig{
			Backend:       getEnv("CACHE_BACKEND", CacheBackendMemory),
			TTL:           getEnvAsDuration("CACHE_TTL", 0),
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			SQLitePath:    getEnv("SQLITE_PATH", "./docvision.db"),
			PostgresURL:   getEnv("POSTGRES_URL", ""),
		},
		Preprocess: PreprocessConfig{
			PdftoppmPath: getEnv("PDFTOPPM_PATH", "pdftoppm"),
			DPI:          getEnvAsInt("PDF_DPI", 302),
		},
		OCR: OCRConfig{
			BaseURL:   getEnv("OCR_BASE_URL", ""),
			APIKey:    getEnv("OCR_API_KEY", ""),
			Model:     getEnv("OCR_MODEL", "page"),
			Languages: getEnvAsList("OCR_LANGUAGES", []string{"en"}),
			Timeout:   getEnvAsDuration("OCR_TIMEOUT", 30*time.Second),
		},
		Vision: VisionConfig{
			BaseURL:     getEnv("VISION_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:      getEnv("VISION_API_KEY", ""),
			Model:       getEnv("VISION_MODEL", "qwen/qwen2.5-vl-72b-instruct"),
			Temperature: getEnvAsFloat32("VISION_TEMPERATURE", 0.1),
			Timeout:     getEnvAsDuration("VISION_TIMEOUT", 60*time.Second),
			Lenient:     getEnvAsBool("VISION_LENIENT", true),
		},
		Logo: LogoConfig{
			MaxLogos:       getEnvAsInt("LOGO_MAX", 4),
			SignaturesPath: getEnv("LOGO_SIGNATURES_PATH", ""),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Pipeline.Version == "" {
		return NewAppError("CONFIG_ERROR", "PIPELINE_VERSION is required", ErrInvalidInput)
	}
	switch c.Cache.Backend {
	case CacheBackendMemory, CacheBackendSQLite:
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return NewAppError("CONFIG_ERROR", "REDIS_ADDR is required for the redis cache backend", ErrInvalidInput)
		}
	case CacheBackendPostgres:
		if c.Cache.PostgresURL == "" {
			return NewAppError("CONFIG_ERROR", "POSTGRES_URL is required for the postgres cache backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "CACHE_BACKEND must be one of memory, redis, sqlite, postgres", ErrInvalidInput)
	}
	if c.Preprocess.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "PDF_DPI must be positive", ErrInvalidInput)
	}
	if c.Vision.Temperature < 0 || c.Vision.Temperature > 2 {
		return NewAppError("CONFIG_ERROR", "VISION_TEMPERATURE must be between 0 and 2", ErrInvalidInput)
	}
	if c.Server.MaxFiles < 1 {
		return NewAppError("CONFIG_ERROR", "MAX_FILES must be at least 1", ErrInvalidInput)
	}
	if c.Server.MaxWorkers < 1 {
		return NewAppError("CONFIG_ERROR", "MAX_WORKERS must be at least 1", ErrInvalidInput)
	}
	if c.Retry.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "RETRY_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	return nil
}
