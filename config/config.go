package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	API        APIConfig
	CORS       CORSConfig
	Log        LogConfig
	Moderation ModerationConfig
	SLA        SLAConfig
	Alerts     AlertConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type APIConfig struct {
	RateLimitFlagsPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level string
}

// ModerationConfig drives flag thresholds, escalation and notification fan-out.
type ModerationConfig struct {
	FlagThreshold       int
	EscalationWindow    time.Duration
	EscalationInterval  time.Duration
	EscalationBatchSize int
	ModeratorQueryLimit int
	NotifyConcurrency   int
}

// SLAConfig holds the fixed thresholds samples are classified against.
type SLAConfig struct {
	DeliveryThresholdMs        int64
	ResponseThresholdMinutes   float64
	ResolutionThresholdMinutes float64
	ReportEscalationMinutes    float64
	HealthySuccessRate         float64
	DailyReportSchedule        string
	AlertOnSampleBreach        bool
}

// AlertConfig lists the external breach channels. An empty URL disables a channel.
type AlertConfig struct {
	ChatWebhookURL  string
	EmailRelayURL   string
	EmailTo         string
	PagerURL        string
	PagerRoutingKey string
	ChannelTimeout  time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	escalationWindow := time.Duration(getEnvInt("ESCALATION_SLA_MINUTES", 15)) * time.Minute

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "moderation"),
			Password: getEnv("DB_PASSWORD", "moderation_password"),
			DBName:   getEnv("DB_NAME", "moderation_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: getEnvInt("JWT_EXPIRY_HOURS", 168),
		},
		API: APIConfig{
			RateLimitFlagsPerSec: getEnvInt("RATE_LIMIT_FLAGS_PER_SECOND", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Moderation: ModerationConfig{
			FlagThreshold:       getEnvInt("FLAG_THRESHOLD", 3),
			EscalationWindow:    escalationWindow,
			EscalationInterval:  getEnvDuration("ESCALATION_SWEEP_INTERVAL", escalationWindow),
			EscalationBatchSize: getEnvInt("ESCALATION_BATCH_SIZE", 50),
			ModeratorQueryLimit: getEnvInt("MODERATOR_QUERY_LIMIT", 100),
			NotifyConcurrency:   getEnvInt("NOTIFY_CONCURRENCY", 10),
		},
		SLA: SLAConfig{
			DeliveryThresholdMs:        int64(getEnvInt("DELIVERY_SLA_MS", 5000)),
			ResponseThresholdMinutes:   getEnvFloat("RESPONSE_SLA_MINUTES", 15),
			ResolutionThresholdMinutes: getEnvFloat("RESOLUTION_SLA_MINUTES", 120),
			ReportEscalationMinutes:    getEnvFloat("REPORT_ESCALATION_THRESHOLD_MINUTES", 15),
			HealthySuccessRate:         getEnvFloat("HEALTHY_SUCCESS_RATE", 99.5),
			DailyReportSchedule:        getEnv("DAILY_REPORT_CRON", "0 5 0 * * *"),
			AlertOnSampleBreach:        getEnvBool("ALERT_ON_SAMPLE_BREACH", true),
		},
		Alerts: AlertConfig{
			ChatWebhookURL:  getEnv("ALERT_CHAT_WEBHOOK_URL", ""),
			EmailRelayURL:   getEnv("ALERT_EMAIL_RELAY_URL", ""),
			EmailTo:         getEnv("ALERT_EMAIL_TO", ""),
			PagerURL:        getEnv("ALERT_PAGER_URL", ""),
			PagerRoutingKey: getEnv("ALERT_PAGER_ROUTING_KEY", ""),
			ChannelTimeout:  getEnvDuration("ALERT_CHANNEL_TIMEOUT", 5*time.Second),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "change-this-secret-key" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	if cfg.Moderation.FlagThreshold < 1 {
		return nil, fmt.Errorf("FLAG_THRESHOLD must be at least 1")
	}
	if cfg.Moderation.EscalationWindow <= 0 || cfg.Moderation.EscalationInterval <= 0 {
		return nil, fmt.Errorf("escalation window and interval must be positive")
	}

	return cfg, nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go duration strings ("90s", "15m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}
