package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides mirrors the environment-tunable subset of Config.
// Variables are prefixed EMBER_, e.g. EMBER_DATADIR, EMBER_LOG_LEVEL.
type envOverrides struct {
	DataDir        string `envconfig:"DATADIR"`
	DefaultChain   uint64 `envconfig:"DEFAULT_CHAIN"`
	SessionTimeout string `envconfig:"SESSION_TIMEOUT"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	LogFile        string `envconfig:"LOG_FILE"`
	LogJSON        bool   `envconfig:"LOG_JSON"`
	PriceCurrency  string `envconfig:"PRICE_CURRENCY"`
}

// ApplyEnv overlays EMBER_* environment variables onto a Config. Unset
// variables leave the existing values untouched.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("EMBER", &env); err != nil {
		return fmt.Errorf("process environment: %w", err)
	}

	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}
	if env.DefaultChain != 0 {
		cfg.Network.DefaultChainID = env.DefaultChain
	}
	if env.SessionTimeout != "" {
		if err := setConfigValue(cfg, "security.session_timeout", env.SessionTimeout); err != nil {
			return fmt.Errorf("EMBER_SESSION_TIMEOUT: %w", err)
		}
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.LogFile != "" {
		cfg.Log.File = env.LogFile
	}
	if env.LogJSON {
		cfg.Log.JSON = true
	}
	if env.PriceCurrency != "" {
		cfg.Price.Currency = env.PriceCurrency
	}
	return nil
}
