package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config carries the endpoints and tuning knobs the client core needs.
// Duration knobs default to zero and fall back to the connection manager's
// built-in values.
type Config struct {
	APIBaseURL string
	WSBaseURL  string
	Token      string

	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

func Load() Config {
	return Config{
		APIBaseURL:           os.Getenv("CHAT_API_BASE_URL"),
		WSBaseURL:            os.Getenv("CHAT_WS_BASE_URL"),
		Token:                os.Getenv("CHAT_TOKEN"),
		ReconnectInterval:    envDuration("CHAT_RECONNECT_INTERVAL"),
		MaxReconnectAttempts: envInt("CHAT_MAX_RECONNECT_ATTEMPTS"),
		PingInterval:         envDuration("CHAT_PING_INTERVAL"),
		PongTimeout:          envDuration("CHAT_PONG_TIMEOUT"),
	}
}

func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("CHAT_API_BASE_URL is required")
	}
	if c.WSBaseURL == "" {
		return errors.New("CHAT_WS_BASE_URL is required")
	}
	if c.Token == "" {
		return errors.New("CHAT_TOKEN is required")
	}
	return nil
}

func envDuration(key string) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 0
}

func envInt(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
