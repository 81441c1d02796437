package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Relays) != len(DefaultRelays) {
		t.Errorf("relays = %v, want defaults", cfg.Relays)
	}
	if cfg.Window.Duration() != 60*time.Second {
		t.Errorf("window = %v, want 60s", cfg.Window.Duration())
	}
	if cfg.Subscription.Lookback.Duration() != 90*24*time.Hour {
		t.Errorf("lookback = %v, want 90 days", cfg.Subscription.Lookback.Duration())
	}
	if cfg.Database.Path != "" {
		t.Errorf("database path = %q, want history disabled", cfg.Database.Path)
	}
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("KINDTALLY_RELAY", "wss://relay.example.com")

	path := writeConfig(t, `
relays:
  - ${KINDTALLY_RELAY}
  - ${KINDTALLY_MISSING:ws://localhost:7777}
window: 15s
subscription:
  lookback: 7d
  kinds: [1, 7]
connection:
  max_reconnects: 3
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"wss://relay.example.com", "ws://localhost:7777"}
	if len(cfg.Relays) != 2 || cfg.Relays[0] != want[0] || cfg.Relays[1] != want[1] {
		t.Errorf("relays = %v, want %v", cfg.Relays, want)
	}
	if cfg.Window.Duration() != 15*time.Second {
		t.Errorf("window = %v, want 15s", cfg.Window.Duration())
	}
	if cfg.Subscription.Lookback.Duration() != 7*24*time.Hour {
		t.Errorf("lookback = %v, want 7 days", cfg.Subscription.Lookback.Duration())
	}
	if cfg.Connection.MaxReconnects != 3 {
		t.Errorf("max_reconnects = %d, want 3", cfg.Connection.MaxReconnects)
	}
	if cfg.Connection.RetryMultiplier != 2.0 {
		t.Errorf("retry_multiplier = %v, want default 2.0", cfg.Connection.RetryMultiplier)
	}
	if cfg.Log.GetLevel() != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.GetLevel())
	}
}

func TestLoad_RejectsBadRelayURL(t *testing.T) {
	tests := []struct {
		name  string
		relay string
	}{
		{name: "http_scheme", relay: "https://relay.example.com"},
		{name: "no_host", relay: "wss://"},
		{name: "garbage", relay: "://nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "relays:\n  - \""+tt.relay+"\"\n")
			if _, err := Load(path); err == nil {
				t.Errorf("Load accepted relay %q", tt.relay)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "90d", want: 90 * 24 * time.Hour},
		{in: "0d", want: 0},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "5s", want: 5 * time.Second},
		{in: "-1d", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
