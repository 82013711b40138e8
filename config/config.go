package config

import (
	"fmt"
	"os"
	"strconv"

	"socketstream-server/domain"
)

type Pattern struct {
	Enabled  bool
	FPS      int
	Width    int
	Height   int
	BitDepth int
}

type Config struct {
	Stream      domain.Config
	AdminAddr   string
	LogLevel    string
	NATSURL     string
	NATSSubject string
	Pattern     Pattern
}

// Load reads the configuration from environment variables. Call
// godotenv.Load first if a .env file should be honoured.
func Load() (*Config, error) {
	mode, err := domain.ParseMode(getEnv("STREAM_MODE", "tcpip"))
	if err != nil {
		return nil, fmt.Errorf("STREAM_MODE: %w", err)
	}

	port, err := getEnvAsPort("STREAM_PORT", 1234)
	if err != nil {
		return nil, err
	}

	return &Config{
		Stream: domain.Config{
			Mode:        mode,
			IP:          getEnv("STREAM_IP", "127.0.0.1"),
			Port:        port,
			PipeName:    getEnv("STREAM_PIPE", "octproz"),
			SendHeader:  getEnvAsBool("STREAM_SEND_HEADER", true),
			AutoConnect: getEnvAsBool("STREAM_AUTO_CONNECT", false),
		},
		AdminAddr:   getEnv("ADMIN_ADDR", "127.0.0.1:8081"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		NATSURL:     getEnv("NATS_URL", ""),
		NATSSubject: getEnv("NATS_SUBJECT", "socketstream"),
		Pattern: Pattern{
			Enabled:  getEnvAsBool("PATTERN_ENABLED", false),
			FPS:      getEnvAsInt("PATTERN_FPS", 10),
			Width:    getEnvAsInt("PATTERN_WIDTH", 512),
			Height:   getEnvAsInt("PATTERN_HEIGHT", 512),
			BitDepth: getEnvAsInt("PATTERN_BIT_DEPTH", 8),
		},
	}, nil
}

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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsPort(key string, defaultValue uint16) (uint16, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	port, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid port %q", key, value)
	}
	return uint16(port), nil
}
