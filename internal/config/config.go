package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Stacktrap server.
type Config struct {
	Server ServerConfig
	DB     DBConfig
	Ingest IngestConfig
}

type ServerConfig struct {
	Port       int
	Env        string
	AdminToken string
}

type DBConfig struct {
	Path        string
	Compression int
}

type IngestConfig struct {
	// MaxEventBytes is the serialized-payload denial threshold, applied
	// after source excerpts have been stripped.
	MaxEventBytes int
	// MaxStackChars caps raw stack input length at validation time.
	MaxStackChars int
	// MaxStackFrames caps the frame count before resolution.
	MaxStackFrames int
	// SourceRoot anchors local source and source-map lookups.
	SourceRoot string
	// FetchTimeout bounds every source/map network fetch.
	FetchTimeout time.Duration
}

// Load reads configuration from environment variables and returns a
// validated Config.
func Load() (*Config, error) {
	wd, _ := os.Getwd()

	cfg := &Config{
		Server: ServerConfig{
			Port:       envInt("STACKTRAP_PORT", 8080),
			Env:        envString("STACKTRAP_ENV", "development"),
			AdminToken: os.Getenv("STACKTRAP_ADMIN_TOKEN"),
		},
		DB: DBConfig{
			Path:        envString("STACKTRAP_DB_PATH", "stacktrap.db"),
			Compression: envInt("DB_COMPRESSION", 0),
		},
		Ingest: IngestConfig{
			MaxEventBytes:  envInt("MAX_EVENT_BYTES", 100_000),
			MaxStackChars:  envInt("MAX_STACK_CHARS", 16_384),
			MaxStackFrames: envInt("MAX_STACK_FRAMES", 50),
			SourceRoot:     envString("STACKTRAP_SOURCE_ROOT", wd),
			FetchTimeout:   envDuration("STACKTRAP_FETCH_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("STACKTRAP_PORT must be a valid port, got %d", c.Server.Port)
	}
	if c.Server.AdminToken == "" {
		return fmt.Errorf("STACKTRAP_ADMIN_TOKEN is required")
	}
	if c.Ingest.MaxEventBytes <= 0 {
		return fmt.Errorf("MAX_EVENT_BYTES must be positive, got %d", c.Ingest.MaxEventBytes)
	}
	if c.Ingest.MaxStackChars <= 0 {
		return fmt.Errorf("MAX_STACK_CHARS must be positive, got %d", c.Ingest.MaxStackChars)
	}
	if c.Ingest.MaxStackFrames <= 0 {
		return fmt.Errorf("MAX_STACK_FRAMES must be positive, got %d", c.Ingest.MaxStackFrames)
	}
	if c.DB.Compression < 0 || c.DB.Compression > 11 {
		return fmt.Errorf("DB_COMPRESSION must be 0-11, got %d", c.DB.Compression)
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
