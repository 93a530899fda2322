package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSubstitutesEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")
	data := `{
		"server": {"port": 3210, "log_level": "${TEST_LOG_LEVEL:info}"},
		"database": {
			"memory": {"dsn": "${TEST_MEMORY_DSN}"},
			"target": {"dsn": "${TEST_TARGET_DSN:postgres://localhost/target}"}
		},
		"retrieval": {"top_k": 5}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TEST_MEMORY_DSN", "postgres://localhost/memory")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 3210 {
		t.Errorf("port = %d, want 3210", cfg.Server.Port)
	}
	// Unset var with default falls back to the default.
	if cfg.Server.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	// Set var wins.
	if cfg.Database.Memory.DSN != "postgres://localhost/memory" {
		t.Errorf("memory dsn = %q", cfg.Database.Memory.DSN)
	}
	if cfg.Database.Target.DSN != "postgres://localhost/target" {
		t.Errorf("target dsn = %q", cfg.Database.Target.DSN)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k = %d, want 5", cfg.Retrieval.TopK)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does/not/exist.json"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
