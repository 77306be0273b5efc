package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Operator != "backend.tamago.testnet" || cfg.PlatformFeePercent != 3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not persisted: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.DefaultMinimumTip != cfg.DefaultMinimumTip || reloaded.RPCAddress != cfg.RPCAddress {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	t.Setenv("TIPLEDGER_TEST_SECRET", "from-env")
	path := writeConfig(t, `RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/tipd"
Operator = "ops.testnet"
PlatformAccount = "fees.testnet"
PlatformFeePercent = 5
DefaultMinimumTip = "1000"
LogFile = "/var/log/tipd.log"

[auth]
Enabled = true
HMACSecretEnv = "TIPLEDGER_TEST_SECRET"
Issuer = "issuer"
Audience = "tipd"
ClockSkewSeconds = 5

[rate_limit]
RequestsPerMinute = 120
Burst = 10

[transfers]
Workers = 8
QueueSize = 64
MaxAttempts = 5
Endpoint = "http://payouts.internal/transfer"

[observability]
Metrics = true
Tracing = true
OTLPEndpoint = "collector:4318"
OTLPInsecure = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PlatformFeePercent != 5 || cfg.Operator != "ops.testnet" {
		t.Fatalf("unexpected ledger settings %+v", cfg)
	}
	ledger, err := cfg.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger.MinimumTip.Int64() != 1000 || ledger.PlatformAccount != "fees.testnet" {
		t.Fatalf("unexpected ledger config %+v", ledger)
	}
	secret, err := cfg.Auth.Secret()
	if err != nil || secret != "from-env" {
		t.Fatalf("expected env secret, got %q %v", secret, err)
	}
	if cfg.Auth.ClockSkew().Seconds() != 5 {
		t.Fatalf("unexpected skew %s", cfg.Auth.ClockSkew())
	}
	if cfg.Transfers.Workers != 8 || cfg.Transfers.BackoffMillis != 500 {
		t.Fatalf("unexpected transfer settings %+v", cfg.Transfers)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 10 {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `RPCAddress = "127.0.0.1:8080"
ValidatorKey = "deadbeef"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv(EnvEnvironment, "staging")
	path := writeConfig(t, `Environment = "dev"
[auth]
AllowCallerParam = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("expected env override, got %s", cfg.Environment)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "fee above 100", mutate: func(c *Config) { c.PlatformFeePercent = 101 }, want: "PlatformFeePercent"},
		{name: "bad minimum", mutate: func(c *Config) { c.DefaultMinimumTip = "-5" }, want: "DefaultMinimumTip"},
		{name: "no identity source", mutate: func(c *Config) { c.Auth.AllowCallerParam = false }, want: "caller identity"},
		{name: "auth without secret", mutate: func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.HMACSecretEnv = ""
		}, want: "HMAC secret"},
		{name: "burst missing", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, want: "Burst"},
		{name: "tracing without endpoint", mutate: func(c *Config) { c.Observability.Tracing = true }, want: "OTLPEndpoint"},
		{name: "no workers", mutate: func(c *Config) { c.Transfers.Workers = -1 }, want: "Workers"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
