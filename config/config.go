// Package config loads runtime configuration from the environment.
//
// A .env file in the working directory is read first (if present); real
// environment variables always win over it. Command-line flags in
// cmd/server override both for the port and database path.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/utdesign/procurement-engine/procurement"
)

// Config holds all runtime configuration values.
type Config struct {
	Port        int
	DBPath      string
	JWTSecret   string
	LogLevel    string
	LogFormat   string // "console" or "json"
	CORSOrigins []string

	AMQPURL   string // empty disables RabbitMQ delivery
	AMQPQueue string

	RedisAddr     string // empty keeps the SQLite request-number sequence
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	PendingPolicy procurement.PendingPolicy
	NotifyBuffer  int
}

// Load reads an optional .env (or the given files) and the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading env file: %w", err)
	}

	cfg := &Config{
		DBPath:        env("DB_PATH", "procurement.db"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		LogLevel:      env("LOG_LEVEL", "info"),
		LogFormat:     env("LOG_FORMAT", "console"),
		CORSOrigins:   list(env("CORS_ORIGINS", "*")),
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPQueue:     env("AMQP_QUEUE", "procurement.notifications"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisTLS:      truthy(os.Getenv("REDIS_TLS")),
	}

	var err error
	if cfg.Port, err = envInt("APP_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.NotifyBuffer, err = envInt("NOTIFY_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.PendingPolicy, err = procurement.ParsePendingPolicy(os.Getenv("PENDING_BUDGET_POLICY")); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("APP_PORT %d out of range", c.Port)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "procurement").Logger()
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, v)
	}
	return n, nil
}

func list(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func truthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
