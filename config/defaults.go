package config

import "time"

// Default returns the default wallet configuration: Ethereum mainnet
// with public endpoints, conservative security settings, USD display
// prices.
func Default() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Network: NetworkConfig{
			DefaultChainID: 1,
			Chains: []ChainConfig{
				{
					ChainID: 1,
					Name:    "ethereum",
					Endpoints: []string{
						"https://eth.llamarpc.com",
						"https://ethereum-rpc.publicnode.com",
						"https://cloudflare-eth.com",
					},
				},
			},
			MonitorInterval: 30 * time.Second,
		},
		Security: SecurityConfig{
			SessionTimeout:    15 * time.Minute,
			MaxFailedAttempts: 5,
			LockoutDuration:   5 * time.Minute,
		},
		Price: PriceConfig{
			Enabled:  true,
			Asset:    "ethereum",
			Currency: "usd",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}
