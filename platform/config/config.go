// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for the dashboard middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// SchedulerConfig provides settings for the asynq scheduler and its redis
// transport. The Safety Governor shares the same redis instance.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// ScoringConfig provides the engagement scoring model parameters.
type ScoringConfig interface {
	GetScoreHalfLifeDays() float64
	GetNegativeSentimentPenalty() float64
	GetWarmThreshold() float64
	GetHotThreshold() float64
	GetInactivityDays() int
}

// IngestConfig provides settings for the event ingestor.
type IngestConfig interface {
	GetMaxFutureSkew() time.Duration
}

// GovernorConfig provides the Safety Governor defaults. Per-tenant limits
// from the tenant configuration override these.
type GovernorConfig interface {
	GetOutreachWindow() time.Duration
	GetDefaultChannelCap() int
}

// EmailConfig provides SMTP settings for the outbound email channel.
type EmailConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromAddress() string
	GetTeamNotifyAddress() string
	IsEmailEnabled() bool
}

// DMConfig provides the outbound direct-message gateway settings.
type DMConfig interface {
	GetDMGatewayURL() string
	GetDMGatewayKey() string
}

// ArchiveConfig provides settings for the raw payload archive (MinIO).
type ArchiveConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketRawEvents() string
	IsArchiveEnabled() bool
}

// TenantConfig provides the location of tenant configuration files.
type TenantConfig interface {
	GetTenantConfigDir() string
}

// DispatchConfig provides settings for outbound action dispatch.
type DispatchConfig interface {
	GetDispatchTimeout() time.Duration
	GetDispatchRatePerSecond() float64
}

// PipelineConfig provides settings for the engagement pipeline worker pool.
type PipelineConfig interface {
	GetPipelinePartitions() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	JWTAccessSecret          string
	CORSAllowAll             bool
	CORSOrigins              []string
	RedisURL                 string
	RedisTLSInsecure         bool
	AsynqQueueName           string
	AsynqConcurrency         int
	ScoreHalfLifeDays        float64
	NegativeSentimentPenalty float64
	WarmThreshold            float64
	HotThreshold             float64
	InactivityDays           int
	MaxFutureSkew            time.Duration
	OutreachWindow           time.Duration
	DefaultChannelCap        int
	SMTPHost                 string
	SMTPPort                 int
	SMTPUsername             string
	SMTPPassword             string
	EmailFromAddress         string
	TeamNotifyAddress        string
	DMGatewayURL             string
	DMGatewayKey             string
	MinIOEndpoint            string
	MinIOAccessKey           string
	MinIOSecretKey           string
	MinIOUseSSL              bool
	MinioBucketRawEvents     string
	TenantConfigDir          string
	DispatchTimeout          time.Duration
	DispatchRatePerSecond    float64
	PipelinePartitions       int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// ScoringConfig implementation
func (c *Config) GetScoreHalfLifeDays() float64        { return c.ScoreHalfLifeDays }
func (c *Config) GetNegativeSentimentPenalty() float64 { return c.NegativeSentimentPenalty }
func (c *Config) GetWarmThreshold() float64            { return c.WarmThreshold }
func (c *Config) GetHotThreshold() float64             { return c.HotThreshold }
func (c *Config) GetInactivityDays() int               { return c.InactivityDays }

// IngestConfig implementation
func (c *Config) GetMaxFutureSkew() time.Duration { return c.MaxFutureSkew }

// GovernorConfig implementation
func (c *Config) GetOutreachWindow() time.Duration { return c.OutreachWindow }
func (c *Config) GetDefaultChannelCap() int        { return c.DefaultChannelCap }

// EmailConfig implementation
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromAddress() string  { return c.EmailFromAddress }
func (c *Config) GetTeamNotifyAddress() string { return c.TeamNotifyAddress }
func (c *Config) IsEmailEnabled() bool        { return c.SMTPHost != "" }

// DMConfig implementation
func (c *Config) GetDMGatewayURL() string { return c.DMGatewayURL }
func (c *Config) GetDMGatewayKey() string { return c.DMGatewayKey }

// ArchiveConfig implementation
func (c *Config) GetMinIOEndpoint() string        { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string       { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string       { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool            { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketRawEvents() string { return c.MinioBucketRawEvents }
func (c *Config) IsArchiveEnabled() bool          { return c.MinIOEndpoint != "" }

// TenantConfig implementation
func (c *Config) GetTenantConfigDir() string { return c.TenantConfigDir }

// DispatchConfig implementation
func (c *Config) GetDispatchTimeout() time.Duration   { return c.DispatchTimeout }
func (c *Config) GetDispatchRatePerSecond() float64   { return c.DispatchRatePerSecond }

// PipelineConfig implementation
func (c *Config) GetPipelinePartitions() int { return c.PipelinePartitions }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTAccessSecret:          getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		RedisURL:                 getEnv("REDIS_URL", ""),
		RedisTLSInsecure:         strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:           getEnv("ASYNQ_QUEUE", "engagement"),
		AsynqConcurrency:         mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		ScoreHalfLifeDays:        mustFloat(getEnv("SCORE_HALF_LIFE_DAYS", "14")),
		NegativeSentimentPenalty: mustFloat(getEnv("NEGATIVE_SENTIMENT_PENALTY", "0.5")),
		WarmThreshold:            mustFloat(getEnv("SCORE_WARM_THRESHOLD", "30")),
		HotThreshold:             mustFloat(getEnv("SCORE_HOT_THRESHOLD", "70")),
		InactivityDays:           mustInt(getEnv("LEAD_INACTIVITY_DAYS", "60")),
		MaxFutureSkew:            mustDuration(getEnv("INGEST_MAX_FUTURE_SKEW", "5m")),
		OutreachWindow:           mustDuration(getEnv("OUTREACH_WINDOW", "168h")),
		DefaultChannelCap:        mustInt(getEnv("OUTREACH_CHANNEL_CAP", "5")),
		SMTPHost:                 getEnv("SMTP_HOST", ""),
		SMTPPort:                 mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:             getEnv("SMTP_USERNAME", ""),
		SMTPPassword:             getEnv("SMTP_PASSWORD", ""),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", ""),
		TeamNotifyAddress:        getEnv("TEAM_NOTIFY_ADDRESS", ""),
		DMGatewayURL:             getEnv("DM_GATEWAY_URL", ""),
		DMGatewayKey:             getEnv("DM_GATEWAY_KEY", ""),
		MinIOEndpoint:            getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:           getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:           getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:              strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketRawEvents:     getEnv("MINIO_BUCKET_RAW_EVENTS", "raw-engagement-events"),
		TenantConfigDir:          getEnv("TENANT_CONFIG_DIR", "tenants"),
		DispatchTimeout:          mustDuration(getEnv("DISPATCH_TIMEOUT", "10s")),
		DispatchRatePerSecond:    mustFloat(getEnv("DISPATCH_RATE_PER_SECOND", "2")),
		PipelinePartitions:       mustInt(getEnv("PIPELINE_PARTITIONS", "8")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.ScoreHalfLifeDays <= 0 {
		return nil, fmt.Errorf("SCORE_HALF_LIFE_DAYS must be positive")
	}
	if cfg.WarmThreshold >= cfg.HotThreshold {
		return nil, fmt.Errorf("SCORE_WARM_THRESHOLD must be below SCORE_HOT_THRESHOLD")
	}
	if cfg.IsEmailEnabled() && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when SMTP_HOST is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
