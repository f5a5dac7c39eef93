// Package main provides rxctl, the command line front end to the prescription pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxinsight/internal/config"
	"github.com/drfirst/go-rxinsight/internal/lookup"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the settings shared by every subcommand
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

func rootCmd() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "rxctl",
		Short:         "Brand vs generic prescription analytics",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "Config file (.env or yaml)")
	pf.String("lookups", "", "Directory holding the lookup tables (LOOKUP_DIR)")
	pf.String("lookup-encoding", "", "Lookup file encoding: utf-8 or latin1 (LOOKUP_ENCODING)")
	pf.String("encoding", "", "Extract file encoding: utf-8 or latin1 (DATA_ENCODING)")
	pf.String("log-level", "", "Log level (LOG_LEVEL)")
	a.v.BindPFlag("LOOKUP_DIR", pf.Lookup("lookups"))
	a.v.BindPFlag("LOOKUP_ENCODING", pf.Lookup("lookup-encoding"))
	a.v.BindPFlag("DATA_ENCODING", pf.Lookup("encoding"))
	a.v.BindPFlag("LOG_LEVEL", pf.Lookup("log-level"))

	cmd.AddCommand(normalizeCmd(a))
	cmd.AddCommand(compareCmd(a))
	cmd.AddCommand(batchCmd(a))
	cmd.AddCommand(queryCmd(a))
	cmd.AddCommand(invalidateCmd(a))
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := config.Decode(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// keep stdout for command output
	if cfg.LogLevel == "info" {
		cfg.LogLevel = "warn"
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func (a *app) resolver() (*lookup.Resolver, error) {
	r, err := lookup.Load(a.cfg.Lookups())
	if err != nil {
		return nil, fmt.Errorf("load lookups from %s: %w", a.cfg.LookupDir, err)
	}
	return r, nil
}
