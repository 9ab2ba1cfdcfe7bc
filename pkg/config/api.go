package config

import (
	"strings"
	"time"
)

// EnvironmentProduction is the APP_ENV value that hides debug routes and masks 5xx messages.
const EnvironmentProduction = "production"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment         string
	LogLevel            string
	Addr                string
	DatabaseURL         string
	MigrationsDir       string
	JWTSecret           string
	AccessTokenTTL      time.Duration
	BcryptCost          int
	RateLimitRedisAddr  string
	RateLimitRedisPass  string
	RateLimitRedisDB    int
	GeminiAPIKey        string
	GeminiModel         string
	GeminiBaseURL       string
	S3Endpoint          string
	S3Region            string
	S3Bucket            string
	S3AccessKey         string
	S3SecretKey         string
	AvatarPublicBaseURL string
	AvatarMaxBytes      int64
	InviteTTL           time.Duration
	InviteSweepSpec     string
	InviteLinkBase      string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:         GetString("APP_ENV", GetString("NODE_ENV", "development")),
		LogLevel:            GetString("LOG_LEVEL", "info"),
		Addr:                GetString("API_ADDR", ":4000"),
		DatabaseURL:         GetString("DATABASE_URL", "postgres://splitter:splitter@db:5432/splitter?sslmode=disable"),
		MigrationsDir:       GetString("DB_MIGRATIONS_DIR", ""),
		JWTSecret:           GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:      time.Duration(GetInt("TOKEN_TTL_HOURS", 24*7)) * time.Hour,
		BcryptCost:          GetInt("BCRYPT_COST", 10),
		RateLimitRedisAddr:  GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:  GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:    GetInt("RATE_LIMIT_REDIS_DB", 0),
		GeminiAPIKey:        GetString("GEMINI_API_KEY", ""),
		GeminiModel:         GetString("GEMINI_MODEL_PARSE", "gemini-1.5-flash"),
		GeminiBaseURL:       GetString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		S3Endpoint:          GetString("S3_ENDPOINT", ""),
		S3Region:            GetString("S3_REGION", "us-east-1"),
		S3Bucket:            GetString("S3_BUCKET", ""),
		S3AccessKey:         GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:         GetString("S3_SECRET_KEY", ""),
		AvatarPublicBaseURL: GetString("AVATAR_PUBLIC_BASE_URL", "https://static.splitter.qzz.io"),
		AvatarMaxBytes:      int64(GetInt("AVATAR_MAX_BYTES", 5<<20)),
		InviteTTL:           time.Duration(GetInt("INVITE_TTL_HOURS", 72)) * time.Hour,
		InviteSweepSpec:     GetString("INVITE_SWEEP_SPEC", "@every 10m"),
		InviteLinkBase:      GetString("INVITE_LINK_BASE", "splitter://invite"),
	}
}

// IsProduction reports whether the service runs in production mode.
func (c APIConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}

// StorageConfigured reports whether avatar object storage settings are present.
func (c APIConfig) StorageConfigured() bool {
	return strings.TrimSpace(c.S3Bucket) != "" && strings.TrimSpace(c.S3Endpoint) != ""
}
