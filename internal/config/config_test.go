package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
feed:
  ws_url: "wss://example.invalid/feed"
symbols:
  - symbol: "BTC-USD"
    channels: ["level2", "ticker"]
    depth: 25
logging:
  level: "info"
  format: "json"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.WSURL != "wss://example.invalid/feed" {
		t.Errorf("Feed.WSURL = %q", cfg.Feed.WSURL)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0].Symbol != "BTC-USD" {
		t.Errorf("Symbols = %+v", cfg.Symbols)
	}
	if cfg.Feed.IdleTimeout == 0 {
		t.Error("IdleTimeout should default to a nonzero value")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsOverlappingL2AndL3(t *testing.T) {
	path := writeTestConfig(t, `
feed:
  ws_url: "wss://example.invalid/feed"
symbols:
  - symbol: "BTC-USD"
    channels: ["level2", "full"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject overlapping level2+full channels")
	}
}

func TestValidateRejectsMissingWSURL(t *testing.T) {
	path := writeTestConfig(t, `
symbols:
  - symbol: "BTC-USD"
    channels: ["level2"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should require feed.ws_url")
	}
}

func TestValidateRejectsNoSymbols(t *testing.T) {
	path := writeTestConfig(t, `
feed:
  ws_url: "wss://example.invalid/feed"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should require at least one symbol")
	}
}

func TestValidateRejectsDuplicateSymbol(t *testing.T) {
	path := writeTestConfig(t, `
feed:
  ws_url: "wss://example.invalid/feed"
symbols:
  - symbol: "BTC-USD"
    channels: ["level2"]
  - symbol: "BTC-USD"
    channels: ["ticker"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject a duplicate symbol entry")
	}
}

func TestFeedAuthTokenEnvOverride(t *testing.T) {
	path := writeTestConfig(t, validYAML)
	t.Setenv("LOB_FEED_AUTH_TOKEN", "secret-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.AuthToken != "secret-token" {
		t.Errorf("Feed.AuthToken = %q, want secret-token", cfg.Feed.AuthToken)
	}
}
