package main

import (
	"fmt"
	"os"

	"github.com/artpar/choices/config"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "choices",
	Short: "Expose configuration struct fields as HTTP resources",
	Long: `choices serves the fields of a configuration struct over HTTP.

Every field gets GET and PUT on /{root}/{field}; GET /{root} lists the
fields with their types. Writes run declared constraints, validators and
on_set hooks before they are committed.

Quick start:
  choices serve     # Start the demo server
  choices schema    # Print the routes of the demo configuration
  choices validate  # Check a configuration file and its values`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Flags override the file and CHOICES_* variables.
		if cmd.Flags().Changed("log-level") {
			os.Setenv(config.EnvLogLevel, logLevel)
		}
		if cmd.Flags().Changed("log-format") {
			os.Setenv(config.EnvLogFormat, logFormat)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "choices.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format: json or console")
}
