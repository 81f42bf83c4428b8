package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CommentPulse server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	YouTube   YouTubeConfig
	Analyzer  AnalyzerConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type YouTubeConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type AnalyzerConfig struct {
	Backend          string
	BaseURL          string
	Model            string
	InferenceTimeout time.Duration
}

type SchedulerConfig struct {
	// MaxRunning caps the number of jobs in the running state at once.
	MaxRunning int
	// ChunkSize bounds the fetch+analyze batch between progress checkpoints.
	ChunkSize    int
	PollInterval time.Duration
	// StaleTimeout fails running jobs that report no progress for this long.
	// Zero disables the sweep.
	StaleTimeout time.Duration
}

type CacheConfig struct {
	ResultTTL time.Duration
}

var validBackends = map[string]bool{
	"inference-http": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("CP_PORT", 8080),
			Env:             envString("CP_ENV", "development"),
			RateLimitPerMin: envInt("CP_RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		YouTube: YouTubeConfig{
			BaseURL: envString("YOUTUBE_BASE_URL", "https://www.googleapis.com/youtube/v3"),
			APIKey:  os.Getenv("YOUTUBE_API_KEY"),
			Timeout: envDuration("YOUTUBE_TIMEOUT", 30*time.Second),
		},
		Analyzer: AnalyzerConfig{
			Backend:          envString("ANALYZER_BACKEND", "inference-http"),
			BaseURL:          envString("ANALYZER_BASE_URL", "http://localhost:8501"),
			Model:            envString("ANALYZER_MODEL", "sentiment-v1"),
			InferenceTimeout: envDurationSecs("ANALYZER_TIMEOUT_SECS", 60*time.Second),
		},
		Scheduler: SchedulerConfig{
			MaxRunning:   envInt("CP_SCHEDULER_MAX_RUNNING", 3),
			ChunkSize:    envInt("CP_SCHEDULER_CHUNK_SIZE", 100),
			PollInterval: envDuration("CP_SCHEDULER_POLL_INTERVAL", 2*time.Second),
			StaleTimeout: envDuration("CP_JOB_STALE_TIMEOUT", 10*time.Minute),
		},
		Cache: CacheConfig{
			ResultTTL: envDuration("CP_CACHE_RESULT_TTL", 72*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !strings.HasPrefix(c.YouTube.BaseURL, "http://") && !strings.HasPrefix(c.YouTube.BaseURL, "https://") {
		return fmt.Errorf("YOUTUBE_BASE_URL must start with http:// or https://, got %q", c.YouTube.BaseURL)
	}
	if c.YouTube.APIKey == "" {
		return fmt.Errorf("YOUTUBE_API_KEY is required")
	}

	if !validBackends[c.Analyzer.Backend] {
		return fmt.Errorf("ANALYZER_BACKEND must be inference-http; got %q", c.Analyzer.Backend)
	}
	if !strings.HasPrefix(c.Analyzer.BaseURL, "http://") && !strings.HasPrefix(c.Analyzer.BaseURL, "https://") {
		return fmt.Errorf("ANALYZER_BASE_URL must start with http:// or https://, got %q", c.Analyzer.BaseURL)
	}

	if c.Scheduler.MaxRunning <= 0 {
		return fmt.Errorf("CP_SCHEDULER_MAX_RUNNING must be positive, got %d", c.Scheduler.MaxRunning)
	}
	if c.Scheduler.ChunkSize <= 0 {
		return fmt.Errorf("CP_SCHEDULER_CHUNK_SIZE must be positive, got %d", c.Scheduler.ChunkSize)
	}
	if c.Cache.ResultTTL <= 0 {
		return fmt.Errorf("CP_CACHE_RESULT_TTL must be positive, got %s", c.Cache.ResultTTL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
