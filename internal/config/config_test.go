package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
environment:
  log_level: debug
broker:
  access_token: test-token
  timeout: 15s
server:
  port: 9000
  auth_token: secret
database:
  path: /tmp/ledger.db
valuation:
  max_parallel_accounts: 5
  broker_timeout: 8s
  known_underlyings: [SPXW, SPX, NDX]
  default_underlying: SPX
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.Environment.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Environment.LogLevel)
	}
	if cfg.Broker.AccessToken != "test-token" {
		t.Errorf("AccessToken = %q, want test-token", cfg.Broker.AccessToken)
	}
	if got := cfg.GetBrokerTimeout(); got != 15*time.Second {
		t.Errorf("GetBrokerTimeout() = %v, want 15s", got)
	}
	if got := cfg.GetValuationTimeout(); got != 8*time.Second {
		t.Errorf("GetValuationTimeout() = %v, want 8s", got)
	}
	if cfg.Valuation.MaxParallelAccounts != 5 {
		t.Errorf("MaxParallelAccounts = %d, want 5", cfg.Valuation.MaxParallelAccounts)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	minimal := `
broker:
  access_token: test-token
server:
  port: 9000
database:
  path: /tmp/ledger.db
`
	cfg, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.Environment.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Environment.LogLevel)
	}
	if cfg.Valuation.MaxParallelAccounts != defaultMaxParallelAccounts {
		t.Errorf("default MaxParallelAccounts = %d, want %d", cfg.Valuation.MaxParallelAccounts, defaultMaxParallelAccounts)
	}
	if cfg.Valuation.DefaultUnderlying != "SPX" {
		t.Errorf("default underlying = %q, want SPX", cfg.Valuation.DefaultUnderlying)
	}
	if len(cfg.Valuation.KnownUnderlyings) == 0 {
		t.Error("default known underlyings must not be empty")
	}
	if cfg.Broker.RateLimitPerMin != defaultRateLimitPerMin {
		t.Errorf("default RateLimitPerMin = %d, want %d", cfg.Broker.RateLimitPerMin, defaultRateLimitPerMin)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_BROKER_TOKEN", "from-env")

	content := strings.Replace(validYAML, "test-token", "${TEST_BROKER_TOKEN}", 1)
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Broker.AccessToken != "from-env" {
		t.Errorf("AccessToken = %q, want from-env", cfg.Broker.AccessToken)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{
			name:    "missing access token",
			mutate:  func(s string) string { return strings.Replace(s, "access_token: test-token", "access_token: \"\"", 1) },
			wantSub: "access_token",
		},
		{
			name:    "bad port",
			mutate:  func(s string) string { return strings.Replace(s, "port: 9000", "port: 99999", 1) },
			wantSub: "server.port",
		},
		{
			name:    "bad log level",
			mutate:  func(s string) string { return strings.Replace(s, "log_level: debug", "log_level: loud", 1) },
			wantSub: "log_level",
		},
		{
			name:    "bad timeout",
			mutate:  func(s string) string { return strings.Replace(s, "timeout: 15s", "timeout: soon", 1) },
			wantSub: "timeout",
		},
		{
			name:    "missing database path",
			mutate:  func(s string) string { return strings.Replace(s, "path: /tmp/ledger.db", "path: \"\"", 1) },
			wantSub: "database.path",
		},
		{
			name:    "unknown field",
			mutate:  func(s string) string { return s + "\nmystery_section:\n  key: value\n" },
			wantSub: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validYAML)))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("Load() error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}
