package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./cache.db"
remote:
  base_url: "https://api.example.com"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Remote.BaseURL != "https://api.example.com" {
		t.Errorf("unexpected remote config: %+v", cfg.Remote)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_appliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should default to a non-empty path")
	}
	if cfg.Remote.TokenEnv != "KAGAMI_API_TOKEN" {
		t.Errorf("unexpected token_env default %q", cfg.Remote.TokenEnv)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("unexpected dimensions default %d", cfg.Embedding.Dimensions)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  database_path: "./data/cache.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "data/cache.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("expected %q, got %q", want, cfg.Storage.DatabasePath)
	}
}

func TestRemoteConfig_TokenFromEnv(t *testing.T) {
	t.Setenv("KAGAMI_TEST_TOKEN", "secret")
	r := RemoteConfig{TokenEnv: "KAGAMI_TEST_TOKEN"}
	if r.Token() != "secret" {
		t.Errorf("unexpected token %q", r.Token())
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
