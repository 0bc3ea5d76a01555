package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("PARLIAMENT", "44")
	t.Setenv("SESSION", "2")
	t.Setenv("API_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Parliament != 44 || cfg.Session != 2 {
		t.Errorf("target session = %d-%d, want 44-2", cfg.Parliament, cfg.Session)
	}
	if cfg.APITimeout != 3*time.Second {
		t.Errorf("APITimeout = %v, want 3s", cfg.APITimeout)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestConfigFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := "port: \"7070\"\njurisdiction: ca-federal\ncatalogue_rate: 1.5\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9090") // env wins over the file

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want env override 9090", cfg.Port)
	}
	if cfg.CatalogueRate != 1.5 {
		t.Errorf("CatalogueRate = %v, want 1.5 from file", cfg.CatalogueRate)
	}
}

func TestValidateRejectsBrokenLimits(t *testing.T) {
	cfg := Default()
	cfg.CatalogueRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero source rate accepted")
	}

	cfg = Default()
	cfg.TaskLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero task limit accepted")
	}
}
