package main

import (
	"github.com/spf13/cobra"
	"github.com/vitalvas/relay/config"
)

// loadConfig loads the config file and environment, then applies the
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, err
	}

	fs := cmd.Flags()
	if fs.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
	if fs.Changed("addr") {
		cfg.HTTP.Addr = flags.addr
	}
	if fs.Changed("debug") {
		cfg.Debug = flags.debug
	}

	return cfg, cfg.Validate()
}
