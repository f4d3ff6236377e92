// Package bootstrap wires configuration, logging, metrics and the HTTP
// server around one or more exposed configuration structs and runs them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	apihttp "github.com/artpar/choices/adapters/http"
	"github.com/artpar/choices/adapters/metrics"
	"github.com/artpar/choices/config"
	"github.com/artpar/choices/core/route"
	"github.com/artpar/choices/core/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrNotReloadable is returned when a changed value cannot be applied
// while serving.
var ErrNotReloadable = errors.New("value cannot be reloaded")

// Target is one exposed configuration served by the app.
type Target interface {
	Table() *route.Table
	ApplyValues(ctx context.Context, values map[string]yaml.Node, names []string) error
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Holder     *config.Holder // nil when configured from the environment only
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	HTTPServer *http.Server

	// Version is reported by /version when set.
	Version string

	// DisableWatch turns off config file watching and SIGHUP reloads in Run.
	DisableWatch bool

	targets []Target
}

// New loads the configuration at path, or from CHOICES_* variables when
// path is empty, and builds the logger and metrics registry.
func New(path string) (*App, error) {
	return NewWithOutput(path, os.Stdout)
}

// NewWithOutput is New with the log output redirected.
func NewWithOutput(path string, out io.Writer) (*App, error) {
	a := &App{}

	if path != "" {
		bootLogger := NewLogger("info", "json", out)
		h, err := config.NewHolder(path, bootLogger)
		if err != nil {
			return nil, err
		}
		a.Holder = h
		a.Config = h.Get()
	} else {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return nil, err
		}
		a.Config = cfg
	}

	a.Logger = NewLogger(a.Config.Logging.Level, a.Config.Logging.Format, out)

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.Registry)

	if a.Holder != nil {
		a.Holder.SetLogger(a.Logger)
		a.Holder.SetMetrics(a.Metrics)
		a.Holder.OnChange(a.reload)
	}

	return a, nil
}

// Mount applies the configured values to the targets and builds the HTTP
// server. It fails when a configured value is rejected.
func (a *App) Mount(ctx context.Context, targets ...Target) error {
	a.targets = append(a.targets, targets...)

	if err := a.apply(ctx, a.Config.Values, nil, false); err != nil {
		return fmt.Errorf("apply configured values: %w", err)
	}

	tables := make([]*route.Table, len(a.targets))
	for i, t := range a.targets {
		tables[i] = t.Table()
	}

	rc := apihttp.RouterConfig{
		Timeout: a.Config.Server.RequestTimeout,
		Version: a.Version,
	}
	if a.Config.Metrics.Enabled {
		rc.Metrics = a.Metrics
		rc.MetricsPath = a.Config.Metrics.Path
	}

	a.HTTPServer = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      apihttp.NewRouterWithConfig(a.Logger, rc, tables...),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	return nil
}

// apply routes each value to the target owning the field. names nil
// applies every value. A live apply refuses targets without a lock, since
// they are being served and cannot be written safely.
func (a *App) apply(ctx context.Context, values map[string]yaml.Node, names []string, live bool) error {
	if names == nil {
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	owned := make([][]string, len(a.targets))
	var errs []error
	for _, name := range names {
		found := false
		for i, t := range a.targets {
			if _, ok := t.Table().Binding(name); ok {
				owned[i] = append(owned[i], name)
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("%w: %q", route.ErrUnknownField, name))
		}
	}

	for i, t := range a.targets {
		if len(owned[i]) == 0 {
			continue
		}
		if live && t.Table().Access().Kind() == schema.LockNone {
			errs = append(errs, fmt.Errorf("%w: %s has no lock, restart to apply %v", ErrNotReloadable, t.Table().Schema.RootPath(), owned[i]))
			continue
		}
		if err := t.ApplyValues(ctx, values, owned[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) reload(old, new *config.Config) {
	if old.Logging.Level != new.Logging.Level {
		SetLevel(new.Logging.Level)
	}

	names := config.ChangedValues(old, new)
	if len(names) == 0 {
		return
	}
	if err := a.apply(context.Background(), new.Values, names, true); err != nil {
		a.Logger.Error().Err(err).Strs("fields", names).Msg("some configured values were rejected")
		return
	}
	a.Logger.Info().Strs("fields", names).Msg("configured values applied")
}

// Run starts the HTTP server and blocks until ctx is done or the process
// receives SIGINT or SIGTERM. The config file is watched for changes and
// SIGHUP triggers a reload.
func (a *App) Run(ctx context.Context) error {
	if a.HTTPServer == nil {
		return errors.New("bootstrap: Run called before Mount")
	}

	if a.Holder != nil && !a.DisableWatch {
		if err := a.Holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.Holder.WatchSignals()
		defer a.Holder.Stop()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Serve(ctx, a.HTTPServer, a.Logger, a.Config.Server.ShutdownTimeout)
}

// Serve listens on srv.Addr and serves until ctx is done, then shuts down
// gracefully within timeout.
func Serve(ctx context.Context, srv *http.Server, logger zerolog.Logger, timeout time.Duration) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return ServeListener(ctx, srv, ln, logger, timeout)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, srv *http.Server, ln net.Listener, logger zerolog.Logger, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", ln.Addr().String()).
			Msg("starting http server")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// NewLogger builds a logger writing to out. format "console" selects the
// human-readable writer; anything else logs JSON. The level is applied
// globally.
func NewLogger(level, format string, out io.Writer) zerolog.Logger {
	SetLevel(level)

	if format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel sets the global log level, falling back to info.
func SetLevel(level string) {
	l, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
}
