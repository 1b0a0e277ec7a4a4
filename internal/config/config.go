package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Port         string
	Env          string
	AllowOrigins string
	TZDefault    string

	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	JWTSecret string
	JWTTTL    time.Duration

	AIProvider        string
	OpenAIKey         string
	OpenAIBaseURL     string
	OpenAILlmModel    string
	OpenAIVisionModel string
	GeminiKey         string
	GeminiModel       string

	ZiinaKey           string
	ZiinaBaseURL       string
	ZiinaWebhookSecret string

	UploadDir          string
	ReceiptBucket      string
	GCSCredentialsFile string

	ReqTimeoutSec  int
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadMB    int64
	MaxBodyKB      int64
	SweepInterval  time.Duration

	LogLevel  string
	LogFormat string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" { return v }
	return def
}

func atoi(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil { return i }
	}
	return def
}

func atof(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil { return f }
	}
	return def
}

func Load() *Config {
	return &Config{
		Port:         getenv("PORT", "5000"),
		Env:          strings.ToLower(getenv("APP_ENV", EnvDevelopment)),
		AllowOrigins: getenv("CLIENT_URL", "http://localhost:5173"),
		TZDefault:    getenv("TZ_DEFAULT", "UTC"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		DBHost:      getenv("DB_HOST", "localhost"),
		DBPort:      getenv("DB_PORT", "5432"),
		DBUser:      getenv("DB_USER", "postgres"),
		DBPassword:  getenv("DB_PASSWORD", ""),
		DBName:      getenv("DB_NAME", "finance_saas"),
		DBSSLMode:   getenv("DB_SSLMODE", "disable"),

		JWTSecret: getenv("JWT_SECRET", ""),
		JWTTTL:    time.Duration(atoi("JWT_TTL_HOURS", 24*30)) * time.Hour,

		AIProvider:        strings.ToLower(getenv("AI_PROVIDER", "openai")),
		OpenAIKey:         getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAILlmModel:    getenv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		OpenAIVisionModel: getenv("OPENAI_VISION_MODEL", "gpt-4o"),
		GeminiKey:         getenv("GEMINI_API_KEY", ""),
		GeminiModel:       getenv("GEMINI_MODEL", "gemini-2.5-flash"),

		ZiinaKey:           getenv("ZIINA_API_KEY", ""),
		ZiinaBaseURL:       getenv("ZIINA_BASE_URL", "https://api-v2.ziina.com/api"),
		ZiinaWebhookSecret: getenv("ZIINA_WEBHOOK_SECRET", ""),

		UploadDir:          getenv("UPLOAD_DIR", "uploads"),
		ReceiptBucket:      getenv("RECEIPT_BUCKET", ""),
		GCSCredentialsFile: getenv("GCS_CREDENTIALS_FILE", ""),

		ReqTimeoutSec:  atoi("REQUEST_TIMEOUT_SECONDS", 30),
		RateLimitRPS:   atof("RATE_LIMIT_RPS", 1),
		RateLimitBurst: atoi("RATE_LIMIT_BURST", 5),
		MaxUploadMB:    int64(atoi("MAX_UPLOAD_MB", 10)),
		MaxBodyKB:      int64(atoi("MAX_BODY_KB", 1024)),
		SweepInterval:  time.Duration(atoi("SWEEP_INTERVAL_MINUTES", 60)) * time.Minute,

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "console")),
	}
}

func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// DSN prefers DATABASE_URL and falls back to the discrete DB_* settings.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&TimeZone=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Production() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}
	switch c.AIProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}
	return nil
}
