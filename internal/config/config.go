package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Agent    AgentConfig
	Slack    SlackConfig
}

// DatabaseConfig holds PostgreSQL connection settings. Enabled only when
// a host is set; the in-memory session store is used otherwise.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// AgentConfig holds defaults for the agent connection. The endpoint can
// also be set per-connection through the API.
type AgentConfig struct {
	WsURL             string
	Cwd               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// SlackConfig holds Slack permission notification settings. Disabled when
// the bot token is empty.
type SlackConfig struct {
	BotToken string
	Channel  string
}

// Load reads configuration from environment variables. Defaults are safe
// for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("ACPLINK_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("ACPLINK_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("ACPLINK_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("ACPLINK_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("ACPLINK_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reconnectAttempts, err := getEnvInt("ACPLINK_AGENT_RECONNECT_ATTEMPTS", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reconnectDelay, err := getEnvDuration("ACPLINK_AGENT_RECONNECT_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("ACPLINK_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("ACPLINK_DB_HOST", ""),
			Port:     dbPort,
			User:     getEnv("ACPLINK_DB_USER", "acplink"),
			Password: getEnv("ACPLINK_DB_PASSWORD", ""),
			DBName:   getEnv("ACPLINK_DB_NAME", "acplink_dev"),
			SSLMode:  getEnv("ACPLINK_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("ACPLINK_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("ACPLINK_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("ACPLINK_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Agent: AgentConfig{
			WsURL:             getEnv("ACPLINK_AGENT_WS_URL", ""),
			Cwd:               getEnv("ACPLINK_AGENT_CWD", "/workspace"),
			ReconnectAttempts: reconnectAttempts,
			ReconnectDelay:    reconnectDelay,
		},
		Slack: SlackConfig{
			BotToken: getEnv("ACPLINK_SLACK_BOT_TOKEN", ""),
			Channel:  getEnv("ACPLINK_SLACK_CHANNEL", ""),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Database.Host != "" {
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("ACPLINK_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("ACPLINK_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("ACPLINK_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
	}

	if c.Agent.ReconnectAttempts < 0 {
		return fmt.Errorf("ACPLINK_AGENT_RECONNECT_ATTEMPTS must be >= 0, got %d", c.Agent.ReconnectAttempts)
	}
	if c.Agent.ReconnectDelay < 0 {
		return fmt.Errorf("ACPLINK_AGENT_RECONNECT_DELAY must be >= 0, got %s", c.Agent.ReconnectDelay)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("ACPLINK_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("ACPLINK_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Slack.BotToken != "" && c.Slack.Channel == "" {
		return fmt.Errorf("ACPLINK_SLACK_CHANNEL is required when ACPLINK_SLACK_BOT_TOKEN is set")
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
