// Package cmd provides the command-line interface for the site server.
//
// Configuration is read, in priority order, from command-line flags,
// LIAMSNOW_<SECTION>_<OPTION> environment variables and a YAML file chosen
// by --config, LIAMSNOW_CONFIG_FILE or .liamsnow.yml in the working
// directory.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LiamSnow/liamsnow.com/internal/config"
	siteerrors "github.com/LiamSnow/liamsnow.com/internal/errors"
	"github.com/LiamSnow/liamsnow.com/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "liamsnow-com",
	Short: "Serve a pre-built personal site from memory",
	Long: `liamsnow-com builds a static site once, keeps every response pre-serialized
in memory (identity, brotli and 304 variants) and serves it from a small
HTTP/1.1 engine.

  liamsnow-com serve            Build the content tree and serve it
  liamsnow-com serve --watch    Also rebuild on change and live-reload browsers
  liamsnow-com build            Build once and print the route table
  liamsnow-com version          Show version information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode maps a command error to the process exit status: 2 for invalid
// configuration, 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case siteerrors.IsConfigError(err):
		return 2
	default:
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .liamsnow.yml, can also use LIAMSNOW_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("content", "./content", "content root to build and watch")
	rootCmd.PersistentFlags().String("build-command", "", "external build command printing a YAML manifest (default: serve the content root as-is)")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":     "log.level",
		"log-format":    "log.format",
		"content":       "content.root",
		"build-command": "content.build_command",
	})
}

// initConfig selects the config file and enables environment overrides.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("LIAMSNOW_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".liamsnow")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer)

	// a missing file is fine, defaults apply
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(cfg *config.Config) logging.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = cfg.Log.Format
	return logging.NewLogger(lc)
}
