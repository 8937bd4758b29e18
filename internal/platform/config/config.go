package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Snapshot store backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the process configuration shared by the CLI commands.
type Config struct {
	Server   Server
	Runner   Runner
	Snapshot Snapshot
	Redis    RedisConfig
	Log      Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Runner bounds audit batch execution.
type Runner struct {
	// Workers below one means GOMAXPROCS.
	Workers int
}

// Snapshot selects where finished runs are stored.
type Snapshot struct {
	Backend     string
	Dir         string
	DatabaseURL string
	// TTL expires Redis snapshots; zero keeps them.
	TTL time.Duration
}

// RedisConfig tunes the Redis client. An empty URL means Redis is not
// configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Log selects the slog handler.
type Log struct {
	Level  string
	Format string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	cfg := Config{
		Server: Server{
			Addr:            envOr("AUDITA_ADDR", ":8080"),
			ShutdownTimeout: 10 * time.Second,
		},
		Snapshot: Snapshot{
			Backend:     strings.ToLower(envOr("AUDITA_SNAPSHOT_BACKEND", BackendFile)),
			Dir:         envOr("AUDITA_SNAPSHOT_DIR", "snapshots"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Log: Log{
			Level:  envOr("AUDITA_LOG_LEVEL", "info"),
			Format: envOr("AUDITA_LOG_FORMAT", "text"),
		},
	}

	var err error
	if cfg.Runner.Workers, err = intEnv("AUDITA_WORKERS", 0); err != nil {
		return Config{}, err
	}
	if cfg.Server.ShutdownTimeout, err = durationEnv("AUDITA_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Snapshot.TTL, err = durationEnv("AUDITA_SNAPSHOT_TTL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Redis.PoolSize, err = intEnv("REDIS_POOL_SIZE", cfg.Redis.PoolSize); err != nil {
		return Config{}, err
	}
	if err := cfg.Snapshot.Validate(cfg.Redis); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the backend has what it needs to connect.
func (s Snapshot) Validate(redis RedisConfig) error {
	switch s.Backend {
	case BackendFile:
		if s.Dir == "" {
			return fmt.Errorf("snapshot backend %s requires AUDITA_SNAPSHOT_DIR", s.Backend)
		}
	case BackendMemory:
	case BackendPostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("snapshot backend %s requires DATABASE_URL", s.Backend)
		}
	case BackendRedis:
		if redis.URL == "" {
			return fmt.Errorf("snapshot backend %s requires REDIS_URL", s.Backend)
		}
	default:
		return fmt.Errorf("unknown snapshot backend %q", s.Backend)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
