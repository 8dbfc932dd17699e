// Package config loads the togglmirror configuration and resolves the
// API credential.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// EnvToken is the fallback credential channel; the secrets file
	// takes precedence.
	EnvToken   = "TOGGL_API_TOKEN"
	EnvDataDir = "TOGGLMIRROR_DATA_DIR"
	EnvPort    = "TOGGLMIRROR_PORT"

	configFile  = "config.toml"
	secretsFile = "secrets.toml"
)

type Config struct {
	DataDir            string `toml:"-"`
	EarliestYear       int    `toml:"earliest_year"`
	MaxRequestsPerHour int    `toml:"max_requests_per_hour"`
	Port               int    `toml:"port"`
	ArchiveDir         string `toml:"archive_dir"`
}

func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".togglmirror")
	if v := os.Getenv(EnvDataDir); v != "" {
		dataDir = v
	}
	return Config{
		DataDir:            dataDir,
		EarliestYear:       2017,
		MaxRequestsPerHour: 30,
		Port:               7480,
		ArchiveDir:         filepath.Join(dataDir, "raw"),
	}
}

// Load reads config.toml from the data dir on top of the defaults.
// A missing file is not an error.
func Load(dataDir string) (Config, error) {
	cfg := Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.ArchiveDir = filepath.Join(dataDir, "raw")
	}

	path := filepath.Join(cfg.DataDir, configFile)
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if cfg.ArchiveDir == "" {
		cfg.ArchiveDir = filepath.Join(cfg.DataDir, "raw")
	}
	return cfg, nil
}

// ResolveToken returns the API token, checking the secrets file in the
// data dir first and the environment variable second. The precedence
// is fixed.
func ResolveToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, secretsFile)
	var secrets struct {
		TogglAPIToken string `toml:"toggl_api_token"`
	}
	if _, err := toml.DecodeFile(path, &secrets); err == nil {
		if token := strings.TrimSpace(secrets.TogglAPIToken); token != "" {
			return token, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	if token := strings.TrimSpace(os.Getenv(EnvToken)); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("config: no API token in %s or $%s", path, EnvToken)
}
