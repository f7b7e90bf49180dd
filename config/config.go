// Package config handles application configuration: data directory
// layout, chain endpoint tables, security knobs and logging. Values are
// layered in precedence order: defaults, then the config file, then
// EMBER_* environment variables, then command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds runtime configuration for the wallet.
type Config struct {
	// Core
	DataDir string `conf:"datadir"`

	// Networks
	Network NetworkConfig

	// Security
	Security SecurityConfig

	// Price display
	Price PriceConfig

	// Logging
	Log LogConfig
}

// ChainConfig describes one chain and its RPC endpoints in priority order.
type ChainConfig struct {
	ChainID   uint64   `conf:"chain.id"`
	Name      string   `conf:"chain.name"`
	Endpoints []string `conf:"chain.endpoints"`
}

// NetworkConfig holds chain and endpoint settings.
type NetworkConfig struct {
	// DefaultChainID is the chain used when an operation names none.
	DefaultChainID uint64 `conf:"network.default_chain"`
	Chains         []ChainConfig
	// MonitorInterval is the endpoint health probe cadence.
	MonitorInterval time.Duration `conf:"network.monitor_interval"`
}

// SecurityConfig holds authentication settings applied to new wallets.
type SecurityConfig struct {
	SessionTimeout    time.Duration `conf:"security.session_timeout"`
	MaxFailedAttempts int           `conf:"security.max_failed_attempts"`
	LockoutDuration   time.Duration `conf:"security.lockout_duration"`
}

// PriceConfig holds display-currency settings.
type PriceConfig struct {
	Enabled  bool   `conf:"price.enabled"`
	Asset    string `conf:"price.asset"`
	Currency string `conf:"price.currency"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.ember
//	macOS:   ~/Library/Application Support/Ember
//	Windows: %APPDATA%\Ember
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ember"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Ember")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Ember")
		}
		return filepath.Join(home, "AppData", "Roaming", "Ember")
	default:
		return filepath.Join(home, ".ember")
	}
}

// WalletDir returns the wallet database directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.DataDir, "wallet")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "ember.conf")
}

// Chain returns the configured chain with the given id, or nil.
func (c *Config) Chain(chainID uint64) *ChainConfig {
	for i := range c.Network.Chains {
		if c.Network.Chains[i].ChainID == chainID {
			return &c.Network.Chains[i]
		}
	}
	return nil
}
