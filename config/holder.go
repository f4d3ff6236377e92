package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/artpar/choices/adapters/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	metrics  *metrics.Collector
	watcher  *fsnotify.Watcher
	onChange []func(old, new *Config)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	h := &Holder{
		config: cfg,
		path:   absPath,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	return h, nil
}

// SetLogger replaces the logger. Call it before watching starts.
func (h *Holder) SetLogger(logger zerolog.Logger) {
	h.logger = logger
}

// SetMetrics records reload outcomes on m.
func (h *Holder) SetMetrics(m *metrics.Collector) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics = m
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Path returns the absolute path of the watched file.
func (h *Holder) Path() string {
	return h.path
}

// Reload reloads the configuration from disk.
// Returns error if loading fails (keeps old config).
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		if m := h.collector(); m != nil {
			m.ConfigReloadErrors.Inc()
		}
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	listeners := append([]func(old, new *Config){}, h.onChange...)
	m := h.metrics
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)

	for _, fn := range listeners {
		fn(oldCfg, newCfg)
	}

	if m != nil {
		m.ConfigReloads.Inc()
		m.ConfigLastReload.SetToCurrentTime()
	}

	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

func (h *Holder) collector() *metrics.Collector {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.metrics
}

// OnChange registers a callback to be called after a successful reload
// with the previous and the new configuration.
func (h *Holder) OnChange(fn func(old, new *Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile starts watching the config file for changes.
// Changes trigger automatic reload.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	h.logger.Info().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals. It is safe to call
// more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Only react to our config file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")

				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	if old.Logging.Level != new.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", new.Logging.Level).
			Msg("log level changed")
	}

	for _, name := range ChangedValues(old, new) {
		h.logger.Info().Str("field", name).Msg("value changed")
	}

	if names := RestartRequired(old, new); len(names) > 0 {
		h.logger.Warn().Strs("settings", names).Msg("settings changed, restart to apply")
	}
}

// ChangedValues returns the sorted names of values that were added or
// whose YAML differs between old and new. Removed values are not
// reported: a field keeps its last value when its entry disappears.
func ChangedValues(old, new *Config) []string {
	var changed []string
	for name, n := range new.Values {
		o, ok := old.Values[name]
		if !ok || !sameNode(&o, &n) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// sameNode compares nodes by content, ignoring positions and comments.
func sameNode(a, b *yaml.Node) bool {
	if a.Kind != b.Kind || a.Tag != b.Tag || a.Value != b.Value || len(a.Content) != len(b.Content) {
		return false
	}
	if (a.Alias == nil) != (b.Alias == nil) {
		return false
	}
	if a.Alias != nil && !sameNode(a.Alias, b.Alias) {
		return false
	}
	for i := range a.Content {
		if !sameNode(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

// restartSettings are the settings read once at startup.
var restartSettings = []struct {
	name string
	get  func(*Config) any
}{
	{"server.host", func(c *Config) any { return c.Server.Host }},
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"server.read_timeout", func(c *Config) any { return c.Server.ReadTimeout }},
	{"server.write_timeout", func(c *Config) any { return c.Server.WriteTimeout }},
	{"server.request_timeout", func(c *Config) any { return c.Server.RequestTimeout }},
	{"server.shutdown_timeout", func(c *Config) any { return c.Server.ShutdownTimeout }},
	{"body_limit", func(c *Config) any { return c.BodyLimit }},
	{"metrics.enabled", func(c *Config) any { return c.Metrics.Enabled }},
	{"metrics.path", func(c *Config) any { return c.Metrics.Path }},
	{"logging.format", func(c *Config) any { return c.Logging.Format }},
}

// NonReloadableFields returns which settings require a restart.
func NonReloadableFields() []string {
	names := make([]string, len(restartSettings))
	for i, s := range restartSettings {
		names[i] = s.name
	}
	return names
}

// RestartRequired returns the settings that differ between old and new
// but only take effect after a restart.
func RestartRequired(old, new *Config) []string {
	var changed []string
	for _, s := range restartSettings {
		if s.get(old) != s.get(new) {
			changed = append(changed, s.name)
		}
	}
	return changed
}
