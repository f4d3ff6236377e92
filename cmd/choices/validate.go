package main

import (
	"context"
	"fmt"

	"github.com/artpar/choices"
	"github.com/artpar/choices/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration file and run every entry under "values:" through
the demo configuration's setter pipeline without starting a server.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var (
		cfg *config.Config
		err error
	)
	if path := configPath(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintf(out, "✓ Configuration loaded (server %s, log level %s)\n", cfg.Server.Addr(), cfg.Logging.Level)

	c, err := choices.New(newServiceConfig(zerolog.Nop()))
	if err != nil {
		return err
	}
	if err := c.ApplyValues(context.Background(), cfg.Values, nil); err != nil {
		fmt.Fprintf(out, "✗ Values rejected\n")
		return err
	}
	fmt.Fprintf(out, "✓ %d values accepted\n", len(cfg.Values))
	return nil
}
