package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	DeWarmte DeWarmteConfig `json:"dewarmte"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Telegram TelegramConfig `json:"telegram"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DeWarmteConfig contains DeWarmte cloud API settings
type DeWarmteConfig struct {
	BaseURL             string `json:"base_url"`
	Username            string `json:"username"`
	Password            string `json:"password"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	CycleTimeoutSeconds int    `json:"cycle_timeout_seconds"`
	EnableInsights      bool   `json:"enable_insights"`
}

// DatabaseConfig contains token persistence settings. An empty path
// keeps tokens in memory only.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MQTTConfig contains MQTT publishing settings. An empty broker URL
// disables publishing.
type MQTTConfig struct {
	BrokerURL   string `json:"broker_url"`
	TopicPrefix string `json:"topic_prefix"`
	ClientID    string `json:"client_id"`
}

// TelegramConfig contains alerting settings. An empty token disables
// alerting.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	APIKey string `json:"api_key"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Format string `json:"format"`
	Level  string `json:"level"`
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.DeWarmte.Username == "" || c.DeWarmte.Password == "" {
		return fmt.Errorf("%w: DeWarmte credentials are required", ErrInvalidConfig)
	}

	if c.Security.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	if c.DeWarmte.PollIntervalSeconds < 0 || c.DeWarmte.CycleTimeoutSeconds < 0 {
		return fmt.Errorf("%w: poll interval and cycle timeout must be positive", ErrInvalidConfig)
	}

	if c.DeWarmte.PollIntervalSeconds == 0 {
		c.DeWarmte.PollIntervalSeconds = 60
	}
	if c.DeWarmte.CycleTimeoutSeconds == 0 {
		c.DeWarmte.CycleTimeoutSeconds = 30
	}

	return nil
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("HEATBRIDGE_HOST", "0.0.0.0"),
			Port: getEnvInt("HEATBRIDGE_PORT", 8080),
		},
		DeWarmte: DeWarmteConfig{
			BaseURL:             getEnv("HEATBRIDGE_DEWARMTE_BASE_URL", ""),
			Username:            getEnv("HEATBRIDGE_DEWARMTE_USERNAME", ""),
			Password:            getEnv("HEATBRIDGE_DEWARMTE_PASSWORD", ""),
			PollIntervalSeconds: getEnvInt("HEATBRIDGE_POLL_INTERVAL_SECONDS", 60),
			CycleTimeoutSeconds: getEnvInt("HEATBRIDGE_CYCLE_TIMEOUT_SECONDS", 30),
			EnableInsights:      getEnvBool("HEATBRIDGE_ENABLE_INSIGHTS", true),
		},
		Database: DatabaseConfig{
			Path: getEnv("HEATBRIDGE_DB_PATH", ""),
		},
		MQTT: MQTTConfig{
			BrokerURL:   getEnv("HEATBRIDGE_MQTT_URL", ""),
			TopicPrefix: getEnv("HEATBRIDGE_MQTT_TOPIC_PREFIX", ""),
			ClientID:    getEnv("HEATBRIDGE_MQTT_CLIENT_ID", ""),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("HEATBRIDGE_TELEGRAM_TOKEN", ""),
			ChatID:   getEnvInt64("HEATBRIDGE_TELEGRAM_CHAT_ID", 0),
		},
		Security: SecurityConfig{
			APIKey: getEnv("HEATBRIDGE_API_KEY", ""),
		},
		Logging: LoggingConfig{
			Format: getEnv("HEATBRIDGE_LOG_FORMAT", "json"),
			Level:  getEnv("HEATBRIDGE_LOG_LEVEL", "info"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
