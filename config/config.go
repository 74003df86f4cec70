package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// JWT
	JWT JWTConfig

	// Admin
	Admin AdminConfig

	// Default Competition Settings
	DefaultCompetition DefaultCompetitionConfig

	// Upstream market-data feed
	Upstream UpstreamConfig

	// CORS
	CORS CORSConfig

	// Metrics
	Metrics MetricsConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

type JWTConfig struct {
	Secret string
	Expiry string
}

type AdminConfig struct {
	Email    string
	Password string // bcrypt hash
}

type DefaultCompetitionConfig struct {
	InitialBalance float64
	FeeRate        float64
}

type UpstreamConfig struct {
	WebSocketURL     string
	SubscribedCodes  []string
	ReconnectDelayMS int
	PingIntervalMS   int
	IdleTimeoutMS    int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type MetricsConfig struct {
	Addr string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "7999"),
		Environment: getEnv("ENVIRONMENT", "development"),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "contest_engine"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},

		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Expiry: getEnv("JWT_EXPIRY", "24h"),
		},

		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", "admin@example.com"),
			Password: getEnv("ADMIN_PASSWORD_HASH", ""),
		},

		DefaultCompetition: DefaultCompetitionConfig{
			InitialBalance: getEnvAsFloat("DEFAULT_INITIAL_BALANCE", 10000000.0),
			FeeRate:        getEnvAsFloat("DEFAULT_FEE_RATE", 0.0005),
		},

		Upstream: UpstreamConfig{
			WebSocketURL:     getEnv("UPSTREAM_WS_URL", "wss://api.upbit.com/websocket/v1"),
			SubscribedCodes:  getEnvAsSlice("UPSTREAM_CODES", nil, ","),
			ReconnectDelayMS: getEnvAsInt("UPSTREAM_RECONNECT_DELAY_MS", 1000),
			PingIntervalMS:   getEnvAsInt("UPSTREAM_PING_INTERVAL_MS", 30000),
			IdleTimeoutMS:    getEnvAsInt("UPSTREAM_IDLE_TIMEOUT_MS", 10000),
		},

		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}, ","),
		},

		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Admin.Password == "" {
			log.Println("WARNING: ADMIN_PASSWORD_HASH not set - admin login will use default password")
		}
	}

	return nil
}

// Helper functions
func getEnv(key string, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string, sep string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	return strings.Split(valueStr, sep)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultVal
	}
	return value
}
