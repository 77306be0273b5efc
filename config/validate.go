package config

import (
	"fmt"
	"strings"
)

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(c.Operator) == "" {
		return fmt.Errorf("config: Operator required")
	}
	if strings.TrimSpace(c.PlatformAccount) == "" {
		return fmt.Errorf("config: PlatformAccount required")
	}
	if c.PlatformFeePercent > 100 {
		return fmt.Errorf("config: PlatformFeePercent %d exceeds 100", c.PlatformFeePercent)
	}
	if _, err := c.MinimumTip(); err != nil {
		return fmt.Errorf("config: DefaultMinimumTip: %w", err)
	}
	if c.RPCReadTimeout < 0 || c.RPCWriteTimeout < 0 || c.RPCIdleTimeout < 0 {
		return fmt.Errorf("config: RPC timeouts must not be negative")
	}
	if !c.Auth.Enabled && !c.Auth.AllowCallerParam {
		return fmt.Errorf("config: auth disabled and AllowCallerParam false leaves no caller identity")
	}
	if c.Auth.Enabled {
		if _, err := c.Auth.Secret(); err != nil {
			return err
		}
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("config: auth.ClockSkewSeconds must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: rate_limit values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("config: rate_limit.Burst required when RequestsPerMinute is set")
	}
	if c.Transfers.Workers <= 0 {
		return fmt.Errorf("config: transfers.Workers must be positive")
	}
	if c.Transfers.QueueSize <= 0 {
		return fmt.Errorf("config: transfers.QueueSize must be positive")
	}
	if c.Transfers.MaxAttempts <= 0 {
		return fmt.Errorf("config: transfers.MaxAttempts must be positive")
	}
	if c.Transfers.BackoffMillis < 0 || c.Transfers.TimeoutSeconds < 0 {
		return fmt.Errorf("config: transfers timings must not be negative")
	}
	if c.Observability.Tracing && strings.TrimSpace(c.Observability.OTLPEndpoint) == "" {
		return fmt.Errorf("config: observability.Tracing requires OTLPEndpoint")
	}
	return nil
}
