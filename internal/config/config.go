// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken    string
	GitHubBaseURL  string
	SecretKey      []byte
	SyncInterval   time.Duration
	ListenAddr     string
	DBPath         string
	AllowedOrigins []string
}

// HasSecretKey returns true when a secret-store key was configured. Without
// one the process still runs, but per-repository token overrides are
// rejected and only the process-wide token is usable.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) > 0
}

// Load reads configuration from the environment and returns a validated
// Config. A .env file in the working directory is loaded first if present;
// real environment variables win over it.
//
// SQUIRE_GITHUB_TOKEN and SQUIRE_GITHUB_BASE_URL are the process-wide
// credential defaults and are optional. SQUIRE_SECRET_KEY is a 32-byte key
// (hex or base64 encoded) for the encrypted credential store. Optional
// variables with defaults: SQUIRE_SYNC_INTERVAL (0, disabled),
// SQUIRE_LISTEN_ADDR (127.0.0.1:8080), SQUIRE_DB_PATH (squire.db).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	token := os.Getenv("SQUIRE_GITHUB_TOKEN")
	baseURL := strings.TrimRight(os.Getenv("SQUIRE_GITHUB_BASE_URL"), "/")

	var secretKey []byte
	if v, ok := os.LookupEnv("SQUIRE_SECRET_KEY"); ok && v != "" {
		key, err := decodeSecretKey(v)
		if err != nil {
			return nil, fmt.Errorf("SQUIRE_SECRET_KEY: %w", err)
		}
		secretKey = key
	}

	var syncInterval time.Duration
	if v, ok := os.LookupEnv("SQUIRE_SYNC_INTERVAL"); ok && v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SQUIRE_SYNC_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("SQUIRE_SYNC_INTERVAL must not be negative, got %q", v)
		}
		syncInterval = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("SQUIRE_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "squire.db"
	if v, ok := os.LookupEnv("SQUIRE_DB_PATH"); ok {
		dbPath = v
	}

	var allowedOrigins []string
	if v, ok := os.LookupEnv("SQUIRE_ALLOWED_ORIGINS"); ok && v != "" {
		for _, origin := range strings.Split(v, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}
	if allowedOrigins == nil {
		allowedOrigins = []string{}
	}

	return &Config{
		GitHubToken:    token,
		GitHubBaseURL:  baseURL,
		SecretKey:      secretKey,
		SyncInterval:   syncInterval,
		ListenAddr:     listenAddr,
		DBPath:         dbPath,
		AllowedOrigins: allowedOrigins,
	}, nil
}

// decodeSecretKey accepts a 32-byte key encoded as hex (64 chars) or
// standard base64.
func decodeSecretKey(v string) ([]byte, error) {
	if key, err := hex.DecodeString(v); err == nil {
		if len(key) != 32 {
			return nil, fmt.Errorf("expected 32 bytes, got %d", len(key))
		}
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("value is neither hex nor base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(key))
	}
	return key, nil
}
