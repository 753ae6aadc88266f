// Package config provides configuration for the call relay service.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMissingCredential is returned when no model API key is configured outside mock mode.
var ErrMissingCredential = errors.New("OPENAI_API_KEY is required")

const (
	// ModeMock selects the in-process model transport.
	ModeMock = "MOCK"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	Port         int // Public port for the voice webhook and media stream
	InternalPort int // Internal port for /health, /metrics, /calls
	RPCPort      int // JSON-RPC port, 0 disables it
	PublicHost   string

	// Model settings
	OpenAIAPIKey string
	RealtimeURL  string
	Mode         string
	ScriptPath   string
	PolicyPath   string

	// Storage
	DatabaseURL string
	OutcomeDir  string

	// Relay timing
	ConfigGrace   time.Duration
	RecordTimeout time.Duration

	// WebSocket settings
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Cost reporting, USD per million tokens
	PriceInputPerMTok  float64
	PriceOutputPerMTok float64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 5050),
		InternalPort:       getEnvInt("INTERNAL_PORT", 5051),
		RPCPort:            getEnvInt("RPC_PORT", 0),
		PublicHost:         getEnv("PUBLIC_HOST", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		RealtimeURL:        getEnv("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		Mode:               strings.ToUpper(getEnv("RELAY_MODE", "")),
		ScriptPath:         getEnv("SCRIPT_PATH", ""),
		PolicyPath:         getEnv("POLICY_PATH", ""),
		DatabaseURL:        getEnv("DATABASE_URL", "file:callrelay.db?cache=shared&mode=rwc"),
		OutcomeDir:         getEnv("OUTCOME_DIR", ""),
		ConfigGrace:        time.Duration(getEnvInt("CONFIG_GRACE_MS", 100)) * time.Millisecond,
		RecordTimeout:      time.Duration(getEnvInt("RECORD_TIMEOUT_MS", 5000)) * time.Millisecond,
		WriteTimeout:       time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		MaxMessageSize:     int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
		PriceInputPerMTok:  getEnvFloat("PRICE_INPUT_PER_MTOK", 10),
		PriceOutputPerMTok: getEnvFloat("PRICE_OUTPUT_PER_MTOK", 20),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Mode != ModeMock && c.OpenAIAPIKey == "" {
		return ErrMissingCredential
	}
	return nil
}

// IsMock reports whether the in-process model transport is selected.
func (c *Config) IsMock() bool {
	return c.Mode == ModeMock
}

// NewLogger builds the process logger from LogLevel and LogFormat.
// Unknown levels fall back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
