// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DCAP holds telemetry emitter settings. Addr may be unicast or multicast.
type DCAP struct {
	Enabled          bool
	Addr             string
	Port             int
	ServerID         string
	ServerName       string
	DiscoverInterval time.Duration
}

// X402 holds the EVM stablecoin rail settings.
type X402 struct {
	Enabled        bool
	FacilitatorURL string
	WalletAddress  string
	Network        string
	Token          string // asset contract address
	InternalAPIKey string
}

// Canton holds the Canton native rail settings.
type Canton struct {
	Enabled        bool
	FacilitatorURL string
	PayeeParty     string
	Network        string
}

// Config is the complete server configuration.
type Config struct {
	Port         int
	ServerURL    string // externally visible /mcp endpoint, advertised in discovery
	ContentDir   string
	LogLevel     string
	RateLimitRPS int

	DCAP   DCAP
	X402   X402
	Canton Canton
}

// Load reads configuration from environment variables with the documented
// defaults and validates rail/telemetry combinations.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MCP_PORT", 7284)
	v.SetDefault("MCP_SERVER_URL", "")
	v.SetDefault("MCP_CONTENT_DIR", "content")
	v.SetDefault("MCP_RATE_LIMIT_RPS", 20)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("DCAP_ENABLED", false)
	v.SetDefault("DCAP_MULTICAST_IP", "")
	v.SetDefault("DCAP_PORT", 10191)
	v.SetDefault("DCAP_SERVER_ID", "canton-mcp")
	v.SetDefault("DCAP_SERVER_NAME", "Canton MCP Server")
	v.SetDefault("DCAP_DISCOVER_INTERVAL_SEC", 300)

	v.SetDefault("X402_ENABLED", false)
	v.SetDefault("X402_FACILITATOR_URL", "https://x402.org/facilitator")
	v.SetDefault("X402_WALLET_ADDRESS", "")
	v.SetDefault("X402_NETWORK", "base-sepolia")
	v.SetDefault("X402_TOKEN", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	v.SetDefault("X402_INTERNAL_API_KEY", "")

	v.SetDefault("CANTON_ENABLED", false)
	v.SetDefault("CANTON_FACILITATOR_URL", "")
	v.SetDefault("CANTON_PAYEE_PARTY", "")
	v.SetDefault("CANTON_NETWORK", "canton-testnet")

	cfg := &Config{
		Port:         v.GetInt("MCP_PORT"),
		ServerURL:    v.GetString("MCP_SERVER_URL"),
		ContentDir:   v.GetString("MCP_CONTENT_DIR"),
		LogLevel:     v.GetString("LOG_LEVEL"),
		RateLimitRPS: v.GetInt("MCP_RATE_LIMIT_RPS"),
		DCAP: DCAP{
			Enabled:          v.GetBool("DCAP_ENABLED"),
			Addr:             v.GetString("DCAP_MULTICAST_IP"),
			Port:             v.GetInt("DCAP_PORT"),
			ServerID:         v.GetString("DCAP_SERVER_ID"),
			ServerName:       v.GetString("DCAP_SERVER_NAME"),
			DiscoverInterval: time.Duration(v.GetInt("DCAP_DISCOVER_INTERVAL_SEC")) * time.Second,
		},
		X402: X402{
			Enabled:        v.GetBool("X402_ENABLED"),
			FacilitatorURL: v.GetString("X402_FACILITATOR_URL"),
			WalletAddress:  v.GetString("X402_WALLET_ADDRESS"),
			Network:        v.GetString("X402_NETWORK"),
			Token:          v.GetString("X402_TOKEN"),
			InternalAPIKey: v.GetString("X402_INTERNAL_API_KEY"),
		},
		Canton: Canton{
			Enabled:        v.GetBool("CANTON_ENABLED"),
			FacilitatorURL: v.GetString("CANTON_FACILITATOR_URL"),
			PayeeParty:     v.GetString("CANTON_PAYEE_PARTY"),
			Network:        v.GetString("CANTON_NETWORK"),
		},
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = fmt.Sprintf("http://localhost:%d/mcp", cfg.Port)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on incoherent settings so that misconfigured rails
// never silently run unpaid.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("MCP_PORT out of range: %d", c.Port)
	}
	if c.X402.Enabled && c.X402.WalletAddress == "" {
		return fmt.Errorf("X402_ENABLED=true but X402_WALLET_ADDRESS not configured")
	}
	if c.X402.Enabled && c.X402.Network == "" {
		return fmt.Errorf("X402_ENABLED=true but X402_NETWORK not configured")
	}
	if c.Canton.Enabled && c.Canton.FacilitatorURL == "" {
		return fmt.Errorf("CANTON_ENABLED=true but CANTON_FACILITATOR_URL not configured")
	}
	if c.Canton.Enabled && c.Canton.PayeeParty == "" {
		return fmt.Errorf("CANTON_ENABLED=true but CANTON_PAYEE_PARTY not configured")
	}
	if c.DCAP.Enabled && c.DCAP.Addr == "" {
		return fmt.Errorf("DCAP_ENABLED=true but DCAP_MULTICAST_IP not configured")
	}
	if c.DCAP.Enabled && c.DCAP.DiscoverInterval <= 0 {
		return fmt.Errorf("DCAP_DISCOVER_INTERVAL_SEC must be positive, got %s", c.DCAP.DiscoverInterval)
	}
	return nil
}
