package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	path := writeConfig(t, `{
		"server": {"port": ${TEST_PORT:8080}, "log_level": "${TEST_LOG_LEVEL:info}"},
		"providers": [
			{"id": "openai", "type": "openai", "name": "OpenAI", "api_key": "${TEST_OPENAI_KEY}", "models": ["gpt-4o-mini"], "priority": 1}
		],
		"database": {"postgres": {"dsn": "${TEST_PG_DSN:}"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "sk-test" {
		t.Errorf("provider key not substituted: %+v", cfg.Providers)
	}
	if cfg.Database.Postgres.DSN != "" {
		t.Errorf("empty default should yield empty dsn, got %q", cfg.Database.Postgres.DSN)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_LOG_LEVEL", "debug")

	path := writeConfig(t, `{"server": {"port": 1, "log_level": "${TEST_LOG_LEVEL:info}"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log level = %q, want env value debug", cfg.Server.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, "{not json")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
