package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the server configuration. Values are resolved in order:
// defaults, then the JSON config file, then environment variables
// (optionally loaded from a .env file).
type Config struct {
	// Addr is the listen address for the HTTP/WebSocket server
	Addr string `json:"addr"`

	// LogLevel is one of debug, info, warn, error, none
	LogLevel string `json:"log_level"`

	// LogFile is an optional log file path; empty logs to stderr
	LogFile string `json:"log_file,omitempty"`

	// JWTSecret is the HMAC secret used to verify client tokens
	JWTSecret string `json:"jwt_secret"`

	// ActivityDBPath is the SQLite file for the activity log; empty
	// disables activity recording
	ActivityDBPath string `json:"activity_db_path,omitempty"`

	// NATSURL is the broker URL for the event bridge; empty disables it
	NATSURL string `json:"nats_url,omitempty"`

	// TypingTimeoutSeconds is how long a typing indicator stays active
	// without a refresh
	TypingTimeoutSeconds int `json:"typing_timeout_seconds,omitempty"`

	// EditingTimeoutSeconds is how long an editing indicator stays active
	// without a refresh
	EditingTimeoutSeconds int `json:"editing_timeout_seconds,omitempty"`
}

// Default returns a configuration with sane defaults
func Default() *Config {
	return &Config{
		Addr:                  ":8940",
		LogLevel:              "info",
		TypingTimeoutSeconds:  10,
		EditingTimeoutSeconds: 30,
	}
}

// Load reads the configuration file at path (if it exists) and applies
// environment overrides. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	// Best effort: a .env file is optional
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.TypingTimeoutSeconds <= 0 {
		cfg.TypingTimeoutSeconds = 10
	}
	if cfg.EditingTimeoutSeconds <= 0 {
		cfg.EditingTimeoutSeconds = 30
	}

	return cfg, nil
}

// Save writes the configuration as indented JSON
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TASKBOARD_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("TASKBOARD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TASKBOARD_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("TASKBOARD_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("TASKBOARD_ACTIVITY_DB"); v != "" {
		c.ActivityDBPath = v
	}
	if v := os.Getenv("TASKBOARD_NATS_URL"); v != "" {
		c.NATSURL = v
	}
	if v := os.Getenv("TASKBOARD_TYPING_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TypingTimeoutSeconds = n
		}
	}
	if v := os.Getenv("TASKBOARD_EDITING_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.EditingTimeoutSeconds = n
		}
	}
}
