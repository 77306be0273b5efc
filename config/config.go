package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tipledger/native/tipping"
)

// EnvEnvironment overrides Config.Environment when set.
const EnvEnvironment = "TIPD_ENV"

type Config struct {
	RPCAddress         string `toml:"RPCAddress"`
	DataDir            string `toml:"DataDir"`
	Environment        string `toml:"Environment"`
	LogFile            string `toml:"LogFile"`
	Operator           string `toml:"Operator"`
	PlatformAccount    string `toml:"PlatformAccount"`
	PlatformFeePercent uint32 `toml:"PlatformFeePercent"`
	DefaultMinimumTip  string `toml:"DefaultMinimumTip"`
	RPCReadTimeout     int    `toml:"RPCReadTimeout"`
	RPCWriteTimeout    int    `toml:"RPCWriteTimeout"`
	RPCIdleTimeout     int    `toml:"RPCIdleTimeout"`

	Auth          AuthConfig          `toml:"auth"`
	RateLimit     RateLimitConfig     `toml:"rate_limit"`
	Transfers     TransferConfig      `toml:"transfers"`
	Observability ObservabilityConfig `toml:"observability"`
}

// AuthConfig controls how RPC callers are identified.
type AuthConfig struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
	// AllowCallerParam trusts a "caller" request parameter. Development only.
	AllowCallerParam bool `toml:"AllowCallerParam"`
}

// RateLimitConfig bounds per-client request rates. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// TransferConfig configures the value-transfer worker pool.
type TransferConfig struct {
	Workers        int    `toml:"Workers"`
	QueueSize      int    `toml:"QueueSize"`
	MaxAttempts    int    `toml:"MaxAttempts"`
	BackoffMillis  int    `toml:"BackoffMillis"`
	Endpoint       string `toml:"Endpoint"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
}

// ObservabilityConfig toggles metrics, tracing and request logging.
type ObservabilityConfig struct {
	Metrics      bool   `toml:"Metrics"`
	Tracing      bool   `toml:"Tracing"`
	LogRequests  bool   `toml:"LogRequests"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPInsecure bool   `toml:"OTLPInsecure"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the stock configuration of a local development node.
func Default() *Config {
	cfg := &Config{
		RPCAddress:         "127.0.0.1:8080",
		DataDir:            "./tip-data",
		Environment:        "dev",
		Operator:           tipping.DefaultOperator,
		PlatformAccount:    tipping.DefaultPlatformAccount,
		PlatformFeePercent: tipping.DefaultPlatformPercent,
		DefaultMinimumTip:  tipping.DefaultMinimumTip,
		Auth: AuthConfig{
			Enabled:          false,
			HMACSecretEnv:    "TIPD_JWT_SECRET",
			Issuer:           "tipledger",
			AllowCallerParam: true,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Observability: ObservabilityConfig{
			Metrics:     true,
			LogRequests: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tip-data"
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if strings.TrimSpace(c.Operator) == "" {
		c.Operator = tipping.DefaultOperator
	}
	if strings.TrimSpace(c.PlatformAccount) == "" {
		c.PlatformAccount = tipping.DefaultPlatformAccount
	}
	if strings.TrimSpace(c.DefaultMinimumTip) == "" {
		c.DefaultMinimumTip = tipping.DefaultMinimumTip
	}
	if c.RPCReadTimeout == 0 {
		c.RPCReadTimeout = 15
	}
	if c.RPCWriteTimeout == 0 {
		c.RPCWriteTimeout = 15
	}
	if c.RPCIdleTimeout == 0 {
		c.RPCIdleTimeout = 60
	}
	if c.Auth.ClockSkewSeconds == 0 {
		c.Auth.ClockSkewSeconds = 30
	}
	if c.Transfers.Workers == 0 {
		c.Transfers.Workers = 4
	}
	if c.Transfers.QueueSize == 0 {
		c.Transfers.QueueSize = 1024
	}
	if c.Transfers.MaxAttempts == 0 {
		c.Transfers.MaxAttempts = 3
	}
	if c.Transfers.BackoffMillis == 0 {
		c.Transfers.BackoffMillis = 500
	}
	if c.Transfers.TimeoutSeconds == 0 {
		c.Transfers.TimeoutSeconds = 10
	}
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		c.Observability.OTLPEndpoint = endpoint
	}
	if headers := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")); headers != "" {
		c.Observability.OTLPHeaders = headers
	}
}

// MinimumTip parses DefaultMinimumTip.
func (c *Config) MinimumTip() (*big.Int, error) {
	return tipping.ParseAmount(c.DefaultMinimumTip)
}

// Ledger returns the engine constants described by the configuration.
func (c *Config) Ledger() (tipping.Config, error) {
	minimum, err := c.MinimumTip()
	if err != nil {
		return tipping.Config{}, fmt.Errorf("config: DefaultMinimumTip: %w", err)
	}
	return tipping.Config{
		Operator:        strings.TrimSpace(c.Operator),
		PlatformAccount: strings.TrimSpace(c.PlatformAccount),
		PlatformPercent: c.PlatformFeePercent,
		MinimumTip:      minimum,
	}, nil
}

// Secret resolves the JWT signing secret, preferring the environment
// variable named by HMACSecretEnv.
func (a AuthConfig) Secret() (string, error) {
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		if value := strings.TrimSpace(os.Getenv(env)); value != "" {
			return value, nil
		}
	}
	if secret := strings.TrimSpace(a.HMACSecret); secret != "" {
		return secret, nil
	}
	return "", fmt.Errorf("config: auth enabled but no HMAC secret configured")
}

// ClockSkew returns the allowed token clock skew.
func (a AuthConfig) ClockSkew() time.Duration {
	return time.Duration(a.ClockSkewSeconds) * time.Second
}

// Backoff returns the base delay between transfer attempts.
func (t TransferConfig) Backoff() time.Duration {
	return time.Duration(t.BackoffMillis) * time.Millisecond
}

// Timeout returns the per-attempt delivery timeout.
func (t TransferConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// Persist writes cfg to path as TOML.
func Persist(path string, cfg *Config) error {
	return persist(path, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
