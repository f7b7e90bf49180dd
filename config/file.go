package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct. Chain
// sections use indexed keys: chain.<id>.endpoints, chain.<id>.name.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	// Per-chain keys: chain.<id>.name / chain.<id>.endpoints
	if strings.HasPrefix(key, "chain.") {
		return setChainValue(cfg, key, value)
	}

	switch key {
	// Core
	case "datadir":
		cfg.DataDir = value

	// Network
	case "network.default_chain":
		id, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Network.DefaultChainID = id
	case "network.monitor_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Network.MonitorInterval = d

	// Security
	case "security.session_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Security.SessionTimeout = d
	case "security.max_failed_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Security.MaxFailedAttempts = n
	case "security.lockout_duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Security.LockoutDuration = d

	// Price display
	case "price.enabled", "price":
		cfg.Price.Enabled = parseBool(value)
	case "price.asset":
		cfg.Price.Asset = value
	case "price.currency":
		cfg.Price.Currency = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// setChainValue handles chain.<id>.name and chain.<id>.endpoints keys,
// creating the chain entry on first sight.
func setChainValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 {
		return fmt.Errorf("expected chain.<id>.<field>")
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}

	chain := cfg.Chain(id)
	if chain == nil {
		cfg.Network.Chains = append(cfg.Network.Chains, ChainConfig{ChainID: id})
		chain = &cfg.Network.Chains[len(cfg.Network.Chains)-1]
	}

	switch parts[2] {
	case "name":
		chain.Name = value
	case "endpoints":
		chain.Endpoints = parseStringList(value)
	default:
		return fmt.Errorf("unknown chain field %q", parts[2])
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string) error {
	content := `# Ember Wallet Configuration

# Data directory (default: ~/.ember)
# datadir = ~/.ember

# ============================================================================
# Networks
# ============================================================================

# Chain used when a command names none
network.default_chain = 1

# Endpoint health probe cadence
# network.monitor_interval = 30s

# RPC endpoints per chain, comma-separated in priority order
chain.1.name = ethereum
chain.1.endpoints = https://eth.llamarpc.com,https://ethereum-rpc.publicnode.com,https://cloudflare-eth.com

# chain.137.name = polygon
# chain.137.endpoints = https://polygon-rpc.com

# ============================================================================
# Security
# ============================================================================

# Inactivity window before a session expires
security.session_timeout = 15m

# Failed unlock attempts before lockout
security.max_failed_attempts = 5

# How long a lockout lasts
security.lockout_duration = 5m

# ============================================================================
# Price display
# ============================================================================

price.enabled = true
price.asset = ethereum
price.currency = usd

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
