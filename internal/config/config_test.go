package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8123\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Fatalf("expected port 8123, got %d", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Heuristics.Split.MaxLenCJK != 25 {
		t.Fatalf("expected default cjk max len 25, got %d", cfg.Heuristics.Split.MaxLenCJK)
	}
	if cfg.Heuristics.Hallucination.PhraseMinDuration != 5 {
		t.Fatalf("expected phrase duration 5, got %v", cfg.Heuristics.Hallucination.PhraseMinDuration)
	}
	if len(cfg.Heuristics.Merge.Tiers) != 3 || cfg.Heuristics.Merge.Tiers[0].MaxGap != 1.5 {
		t.Fatalf("unexpected merge tiers: %+v", cfg.Heuristics.Merge.Tiers)
	}
	if len(cfg.Recognizer.FragmentedEngines) != 1 || cfg.Recognizer.FragmentedEngines[0] != "qwen3" {
		t.Fatalf("unexpected fragmented engines: %v", cfg.Recognizer.FragmentedEngines)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8000\n")
	t.Setenv("LINGOSUB_SERVER_PORT", "9100")
	t.Setenv("LINGOSUB_LLM_MODEL", "gpt-4.1-mini")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("expected env port 9100, got %d", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4.1-mini" {
		t.Fatalf("expected env model, got %q", cfg.LLM.Model)
	}
}

func TestValidateRejectsBadRemote(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "remote:\n  backend: mongo\n", "remote.backend"},
		{"postgres without dsn", "remote:\n  backend: postgres\n", "postgres_dsn"},
		{"redis without addr", "remote:\n  backend: redis\n  redis_addr: \"\"\n", "redis_addr"},
		{"events without url", "events:\n  enabled: true\n", "events.url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestManagerReloadKeepsOldConfigOnInvalidFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8000\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Stop()

	var got *Config
	m.OnChange(func(_, cur *Config) { got = cur })

	if err := os.WriteFile(path, []byte("server:\n  port: 8001\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()
	if m.Get().Server.Port != 8001 || got == nil {
		t.Fatalf("expected reload to port 8001, got %d", m.Get().Server.Port)
	}

	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()
	if m.Get().Server.Port != 8001 {
		t.Fatalf("invalid reload should keep previous config, got port %d", m.Get().Server.Port)
	}
}
