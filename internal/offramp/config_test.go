package offramp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offramp.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  origin: https://app.example.com/
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.ControlPort != 8081 {
		t.Fatalf("ports = %d/%d", cfg.Server.Port, cfg.Server.ControlPort)
	}
	if cfg.Server.Origin != "https://app.example.com" {
		t.Fatalf("origin not trimmed: %q", cfg.Server.Origin)
	}
	if cfg.Retry.maxRetries != 3 || cfg.Retry.initialBackoffDur != 500*time.Millisecond || cfg.Retry.maxBackoffDur != 8*time.Second {
		t.Fatalf("retry defaults = %d/%v/%v", cfg.Retry.maxRetries, cfg.Retry.initialBackoffDur, cfg.Retry.maxBackoffDur)
	}
	if cfg.Assets.OfflineDocument != "/offline.html" || cfg.Assets.PlaceholderImage != "/img/placeholder.png" {
		t.Fatalf("asset defaults = %q/%q", cfg.Assets.OfflineDocument, cfg.Assets.PlaceholderImage)
	}
	if cfg.staticCache() != "static-v1" {
		t.Fatalf("cache name = %q", cfg.staticCache())
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
  origin: https://app.example.com
cache:
  generation: 2
`)
	t.Setenv("OFFRAMP_PORT", "9090")
	t.Setenv("OFFRAMP_GENERATION", "5")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("env port override ignored, port = %d", cfg.Server.Port)
	}
	if cfg.apiCache() != "api-v5" {
		t.Fatalf("env generation override ignored, cache = %q", cfg.apiCache())
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"missing origin", `server: {port: 8080}`, "server.origin is required"},
		{"bad backoff", "server: {origin: https://a.example}\nretry: {initialBackoff: soon}", "retry.initialBackoff"},
		{"max below initial", "server: {origin: https://a.example}\nretry: {initialBackoff: 5s, maxBackoff: 1s}", "retry.maxBackoff"},
		{"negative retries", "server: {origin: https://a.example}\nretry: {maxRetries: -1}", "retry.maxRetries"},
		{"relative shell asset", "server: {origin: https://a.example}\nassets: {shell: [index.html]}", "assets.shell[0]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.yaml)
			_, err := LoadConfig(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestExplicitZeroRetries(t *testing.T) {
	path := writeConfigFile(t, `
server:
  origin: https://app.example.com
retry:
  maxRetries: 0
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retry.maxRetries != 0 {
		t.Fatalf("explicit 0 retries became %d", cfg.Retry.maxRetries)
	}
}
