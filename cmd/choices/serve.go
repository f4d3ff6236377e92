package main

import (
	"context"
	"fmt"

	"github.com/artpar/choices"
	"github.com/artpar/choices/bootstrap"
	"github.com/artpar/choices/core/events"
	"github.com/artpar/choices/core/schema"
	"github.com/spf13/cobra"
)

var (
	serveSerialization string
	serveLock          string
	serveRootPath      string
	serveHotReload     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo server",
	Long: `Start an HTTP server exposing the demo service configuration.

Values under "values:" in the config file are applied at startup and
again whenever the file changes or the process receives SIGHUP.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveSerialization, "serialization", "text", "value format: text, json or yaml")
	serveCmd.Flags().StringVar(&serveLock, "lock", "rw", "lock kind: none, exclusive or rw")
	serveCmd.Flags().StringVar(&serveRootPath, "root-path", "", "listing path (default /config)")
	serveCmd.Flags().BoolVar(&serveHotReload, "hot-reload", true, "reload the config file when it changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(configPath())
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	app.Version = version
	app.DisableWatch = !serveHotReload

	opts, err := demoOptions(serveSerialization, serveLock, serveRootPath)
	if err != nil {
		return err
	}
	opts = append(opts,
		choices.WithLogger(app.Logger),
		choices.WithMetrics(app.Metrics),
		choices.WithBodyLimit(app.Config.BodyLimit),
	)

	c, err := choices.New(newServiceConfig(app.Logger), opts...)
	if err != nil {
		return err
	}
	c.Subscribe(events.FieldChanged, func(ctx context.Context, e events.Event) error {
		app.Logger.Info().
			Str("event_id", e.ID).
			Str("field", e.Field).
			Str("source", string(e.Source)).
			Msg("configuration changed")
		return nil
	})

	if err := app.Mount(cmd.Context(), c); err != nil {
		return err
	}
	return app.Run(cmd.Context())
}

// demoOptions maps the serve flags onto struct annotations.
func demoOptions(serialization, lock, rootPath string) ([]choices.Option, error) {
	var opts []choices.Option

	switch serialization {
	case "", "text":
	case "json":
		opts = append(opts, choices.WithSerialization(schema.SerializationJSON))
	case "yaml":
		opts = append(opts, choices.WithSerialization(schema.SerializationYAML))
	default:
		return nil, fmt.Errorf("unknown serialization %q", serialization)
	}

	if lock != "" {
		k, ok := schema.ParseLockKind(lock)
		if !ok {
			return nil, fmt.Errorf("unknown lock kind %q", lock)
		}
		opts = append(opts, choices.WithLock(k))
	}

	if rootPath != "" {
		opts = append(opts, choices.WithRootPath(rootPath))
	}
	return opts, nil
}
