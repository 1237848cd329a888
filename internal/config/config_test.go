package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		EthereumAPIEndpoint:    "https://rpc.example",
		TokenAddress:           "0x1111111111111111111111111111111111111111",
		ArtistID:               "42",
		BackendURL:             "http://localhost:8080",
		DefaultTimeframe:       "5m",
		RealtimeWindowHours:    2,
		DefaultSlippagePercent: 2,
		DedupCapacity:          4096,
		PrivateKey:             "key",
		APIKey:                 "secret",
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.TokenAddress = "not-an-address"
	cfg.DefaultTimeframe = "2m"
	cfg.DefaultSlippagePercent = 150

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"TOKEN_ADDRESS", "DEFAULT_TIMEFRAME", "DEFAULT_SLIPPAGE_PERCENT"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %s: %s", want, msg)
		}
	}
	t.Logf("Validation error: %v", err)
}

func TestValidate_DatabaseModeNeedsNoBackendURL(t *testing.T) {
	cfg := validConfig()
	cfg.BackendURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("REST mode without BACKEND_URL should fail")
	}
	cfg.UseDatabase = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("database mode should not need BACKEND_URL: %v", err)
	}
}

func TestLoad_YAMLOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trader.yaml")
	body := "artist_id: 7\ndefault_timeframe: 1h\nhistory_refresh: 45\nquote_max_age: 10s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DEFAULT_TIMEFRAME", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ArtistID != "7" {
		t.Errorf("ArtistID from file: got %q", cfg.ArtistID)
	}
	if cfg.DefaultTimeframe != "15m" {
		t.Errorf("env should win over file: got %q", cfg.DefaultTimeframe)
	}
	if cfg.HistoryRefresh != 45*time.Second {
		t.Errorf("bare seconds: got %s", cfg.HistoryRefresh)
	}
	if cfg.QuoteMaxAge != 10*time.Second {
		t.Errorf("duration string: got %s", cfg.QuoteMaxAge)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: 5433, DBName: "music"}
	want := "postgres://u:p@db:5433/music?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("DSN: got %q, want %q", got, want)
	}
}
