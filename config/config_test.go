package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `tradeflow:
  name: "TestApp"
  version: "1.0"
venue:
  name: paper
connector:
  poll_interval: 2s
recorder:
  enabled: true
  flush_interval: 10s
storage:
  s3:
    enabled: false
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Tradeflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Tradeflow.Name)
	}
	if cfg.Connector.PollInterval != 2*time.Second {
		t.Errorf("unexpected poll interval: %s", cfg.Connector.PollInterval)
	}
	if cfg.Connector.PingInterval != 10*time.Second {
		t.Errorf("expected default ping interval, got %s", cfg.Connector.PingInterval)
	}
}

func TestLoadConfigRejectsBinanceWithoutCredentials(t *testing.T) {
	os.Unsetenv("BINANCE_API_KEY")
	os.Unsetenv("BINANCE_API_SECRET")

	path := writeTempConfig(t, `tradeflow:
  name: "TestApp"
  version: "1.0"
venue:
  name: binance
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing binance credentials")
	}
}

func TestLoadConfigEnvOverridesSecrets(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "env-key")
	t.Setenv("BINANCE_API_SECRET", "env-secret")

	path := writeTempConfig(t, `tradeflow:
  name: "TestApp"
  version: "1.0"
venue:
  name: binance
  binance:
    api_key: file-key
    api_secret: file-secret
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Venue.Binance.APIKey != "env-key" {
		t.Errorf("expected env api key to win, got %s", cfg.Venue.Binance.APIKey)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
