package config

import (
	"fmt"
	"net/url"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir must not be empty")
	}
	if cfg.Network.DefaultChainID == 0 {
		return fmt.Errorf("network.default_chain must be set")
	}
	if cfg.Chain(cfg.Network.DefaultChainID) == nil {
		return fmt.Errorf("default chain %d has no configured endpoints", cfg.Network.DefaultChainID)
	}
	if cfg.Network.MonitorInterval < 0 {
		return fmt.Errorf("network.monitor_interval must not be negative")
	}

	seen := make(map[uint64]struct{}, len(cfg.Network.Chains))
	for _, chain := range cfg.Network.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chain id 0 is reserved")
		}
		if _, ok := seen[chain.ChainID]; ok {
			return fmt.Errorf("duplicate chain id %d", chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
		if len(chain.Endpoints) == 0 {
			return fmt.Errorf("chain %d has no endpoints", chain.ChainID)
		}
		for _, ep := range chain.Endpoints {
			u, err := url.Parse(ep)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("chain %d endpoint %q is not a valid URL", chain.ChainID, ep)
			}
		}
	}

	if cfg.Security.SessionTimeout <= 0 {
		return fmt.Errorf("security.session_timeout must be positive")
	}
	if cfg.Security.MaxFailedAttempts <= 0 {
		return fmt.Errorf("security.max_failed_attempts must be positive")
	}
	if cfg.Security.LockoutDuration <= 0 {
		return fmt.Errorf("security.lockout_duration must be positive")
	}

	if cfg.Price.Enabled {
		if cfg.Price.Asset == "" || cfg.Price.Currency == "" {
			return fmt.Errorf("price display needs both asset and currency")
		}
	}
	return nil
}
