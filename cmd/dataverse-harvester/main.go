// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the dataverse-harvester CLI.
// It crawls a Dataverse installation for files of one type, downloads
// them, records their datasets' authors and indexes the results.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/dataverse-harvester/internal/observability"
	"github.com/pdiddy/dataverse-harvester/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// logger is configured from --log-level and --log-format before any
// subcommand runs.
var logger = zerolog.Nop()

var rootCmd = &cobra.Command{
	Use:   "dataverse-harvester",
	Short: "Find, download and catalog files published on a Dataverse installation",
	Long: `dataverse-harvester searches a Dataverse installation for files of a given
type (QDA-XML .qdpx projects by default), downloads every file the caller
may access, and writes each dataset's author list next to them.

Use "harvest" to crawl and "catalog" to query the SQLite index that
harvest --catalog maintains.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = observability.NewLogger(observability.LoggingConfig{
			Level:  viper.GetString("log_level"),
			Format: viper.GetString("log_format"),
		})

		s, err := secrets.Load(viper.GetString("secrets_dir"), logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug().Strs("keys", keys).Msg("loaded secrets")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./dataverse-harvester.yaml or ~/.config/dataverse-harvester/config.yaml)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	pf.String("secrets-dir", ".secrets", "directory of secret files")

	viper.BindPFlag("log_level", pf.Lookup("log-level"))
	viper.BindPFlag("log_format", pf.Lookup("log-format"))
	viper.BindPFlag("secrets_dir", pf.Lookup("secrets-dir"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dataverse-harvester")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "dataverse-harvester"))
		}
	}

	bindEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// bindEnv lets DATAVERSE_HARVESTER_* variables override config file values.
func bindEnv() {
	viper.SetEnvPrefix("DATAVERSE_HARVESTER")
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
