package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
	if cfg.EarliestYear != 2017 {
		t.Fatalf("earliest year = %d, want 2017", cfg.EarliestYear)
	}
	if cfg.MaxRequestsPerHour != 30 {
		t.Fatalf("rate = %d, want 30", cfg.MaxRequestsPerHour)
	}
	if cfg.Port != 7480 {
		t.Fatalf("port = %d, want 7480", cfg.Port)
	}
	if cfg.ArchiveDir != filepath.Join(dir, "raw") {
		t.Fatalf("archive dir = %q", cfg.ArchiveDir)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	body := "earliest_year = 2020\nport = 9999\n"
	if err := os.WriteFile(filepath.Join(dir, configFile), []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.EarliestYear != 2020 {
		t.Fatalf("earliest year = %d, want 2020", cfg.EarliestYear)
	}
	if cfg.Port != 9999 {
		t.Fatalf("port = %d, want 9999", cfg.Port)
	}
	// Unset keys keep their defaults.
	if cfg.MaxRequestsPerHour != 30 {
		t.Fatalf("rate = %d, want 30", cfg.MaxRequestsPerHour)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, configFile), []byte("not [valid\ntoml"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("Load accepted malformed toml")
	}
}

func TestResolveTokenFromSecrets(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvToken, "env-token")

	body := `toggl_api_token = "file-token"` + "\n"
	if err := os.WriteFile(filepath.Join(dir, secretsFile), []byte(body), 0600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	// The secrets file wins over the environment.
	token, err := ResolveToken(dir)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if token != "file-token" {
		t.Fatalf("token = %q, want file-token", token)
	}
}

func TestResolveTokenFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvToken, "env-token")

	token, err := ResolveToken(dir)
	if err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if token != "env-token" {
		t.Fatalf("token = %q, want env-token", token)
	}
}

func TestResolveTokenMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvToken, "")

	if _, err := ResolveToken(dir); err == nil {
		t.Fatal("ResolveToken succeeded with no token anywhere")
	}
}
