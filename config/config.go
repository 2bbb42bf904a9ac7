package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	API        APIConfig
	CORS       CORSConfig
	Firebase   FirebaseConfig
	Moderation ModerationPolicy
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
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
	RateLimitMessagesPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type FirebaseConfig struct {
	CredentialsPath string
}

// ModerationPolicy holds the product rules of chat moderation. Defaults are
// overridden by the YAML file named in MODERATION_POLICY_FILE.
type ModerationPolicy struct {
	MaxContentLength     int           `yaml:"max_content_length"`
	MaxReportDescription int           `yaml:"max_report_description"`
	EditWindow           time.Duration `yaml:"edit_window"`
	WarningThreshold     int           `yaml:"warning_threshold"`
	AutoBanDuration      time.Duration `yaml:"auto_ban_duration"`
	SpamRepeatLimit      int           `yaml:"spam_repeat_limit"`
	SpamWindow           time.Duration `yaml:"spam_window"`
	SpamMuteDuration     time.Duration `yaml:"spam_mute_duration"`
	ReportRatePerMinute  int           `yaml:"report_rate_per_minute"`
}

// DefaultModerationPolicy returns the rules used when no policy file is given.
func DefaultModerationPolicy() ModerationPolicy {
	return ModerationPolicy{
		MaxContentLength:     500,
		MaxReportDescription: 1000,
		EditWindow:           15 * time.Minute,
		WarningThreshold:     3,
		AutoBanDuration:      24 * time.Hour,
		SpamRepeatLimit:      3,
		SpamWindow:           10 * time.Second,
		SpamMuteDuration:     5 * time.Minute,
		ReportRatePerMinute:  5,
	}
}

// Validate rejects policies that would disable core rules.
func (p ModerationPolicy) Validate() error {
	if p.MaxContentLength <= 0 {
		return fmt.Errorf("max_content_length must be positive")
	}
	if p.EditWindow < 0 {
		return fmt.Errorf("edit_window must not be negative")
	}
	if p.WarningThreshold <= 0 {
		return fmt.Errorf("warning_threshold must be positive")
	}
	if p.AutoBanDuration <= 0 {
		return fmt.Errorf("auto_ban_duration must be positive")
	}
	return nil
}

// LoadModerationPolicy reads a YAML policy file on top of the defaults.
func LoadModerationPolicy(path string) (ModerationPolicy, error) {
	policy := DefaultModerationPolicy()
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read moderation policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse moderation policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid moderation policy: %w", err)
	}
	return policy, nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	jwtExpiry, err := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "168"))
	if err != nil {
		jwtExpiry = 168
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_MESSAGES_PER_SECOND", "10"))
	if err != nil {
		rateLimit = 10
	}

	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")

	policy, err := LoadModerationPolicy(os.Getenv("MODERATION_POLICY_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "fanclub"),
			Password: getEnv("DB_PASSWORD", "fanclub_password"),
			DBName:   getEnv("DB_NAME", "fanclub_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: jwtExpiry,
		},
		API: APIConfig{
			RateLimitMessagesPerSec: rateLimit,
		},
		CORS: CORSConfig{
			AllowedOrigins: origins,
		},
		Firebase: FirebaseConfig{
			CredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		},
		Moderation: policy,
	}

	// Validate required fields
	if cfg.JWT.Secret == "change-this-secret-key" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}

	return cfg, nil
}

// InMemory reports whether the server should run on the in-process stores.
func (c *Config) InMemory() bool {
	return c.Server.Env == "memory"
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
