package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// Flags holds parsed command-line flags. Subcommand words stay in Args.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	DataDir string
	Config  string

	// Network
	Chain uint64

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Security
	SessionTimeout time.Duration

	// Remaining args
	Args []string

	// Explicitly-set bool flags (for true/false overrides).
	SetLogJSON bool
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("ember", flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Network
	fs.Uint64Var(&f.Chain, "chain", 0, "Chain id to operate on (default: configured default chain)")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	// Security
	fs.DurationVar(&f.SessionTimeout, "session-timeout", 0, "Session inactivity timeout")

	fs.Usage = func() {}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		os.Exit(2)
	}

	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "log-json" {
			f.SetLogJSON = true
		}
	})

	f.Args = fs.Args()
	return f
}

// Apply overlays set flags onto a Config. Flags outrank both the config
// file and the environment.
func (f *Flags) Apply(cfg *Config) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Chain != 0 {
		cfg.Network.DefaultChainID = f.Chain
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	if f.SessionTimeout > 0 {
		cfg.Security.SessionTimeout = f.SessionTimeout
	}
}

// Load builds the effective configuration: defaults, config file,
// environment, then flags.
func Load(f *Flags) (*Config, error) {
	cfg := Default()
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	path := f.Config
	if path == "" {
		path = cfg.ConfigFile()
	}
	values, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	f.Apply(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
