package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-authgate/copilot-auth/internal/authdomain"
)

// defaultClientID is the OAuth app the Copilot editor plugins authenticate with.
const defaultClientID = "Iv1.b507a08c87ecfe98"

// config is the resolved runtime configuration.
type config struct {
	host      string
	clientID  string
	dir       string
	noKeyring bool
	verbose   bool
	logJSON   bool
}

// flagValues holds the raw persistent flag values before env/default resolution.
type flagValues struct {
	host     string
	clientID string
	dir      string
	verbose  bool
	logJSON  bool
}

// loadConfig resolves configuration with priority: flag > env > default.
func loadConfig(f flagValues) (*config, error) {
	cfg := &config{
		host:      getConfig(f.host, "COPILOT_AUTH_HOST", authdomain.DefaultHost),
		clientID:  getConfig(f.clientID, "COPILOT_AUTH_CLIENT_ID", defaultClientID),
		dir:       getConfig(f.dir, "COPILOT_AUTH_DIR", ""),
		noKeyring: getEnvBool("COPILOT_AUTH_NO_KEYRING"),
		verbose:   f.verbose || getEnvBool("COPILOT_AUTH_VERBOSE"),
		logJSON:   f.logJSON || getEnvBool("COPILOT_AUTH_LOG_JSON"),
	}

	if err := validateHost(cfg.host); err != nil {
		return nil, fmt.Errorf("invalid host: %w", err)
	}
	if strings.TrimSpace(cfg.clientID) == "" {
		return nil, errors.New("client id cannot be empty")
	}

	if cfg.dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.dir = filepath.Join(home, ".copilot-auth")
	}
	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

// validateHost checks the host override before any network call is made.
// Plain http is refused: the credential sent to the host is a GitHub token.
func validateHost(raw string) error {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "http://") {
		return errors.New("plain http is not supported, use https")
	}
	_, err := authdomain.Resolve(raw)
	return err
}
