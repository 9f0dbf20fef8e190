package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadRecorder receives the outcome of each reload.
type ReloadRecorder interface {
	RecordReload(err error)
}

// Holder provides thread-safe access to configuration with hot reload support.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	recorder ReloadRecorder
	watcher  *fsnotify.Watcher
	onChange []func(*Config) error
	stopOnce sync.Once
	stopCh   chan struct{}
}

// HolderOption configures a Holder.
type HolderOption func(*Holder)

// WithReloadRecorder reports reload outcomes to r.
func WithReloadRecorder(r ReloadRecorder) HolderOption {
	return func(h *Holder) { h.recorder = r }
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger, opts ...HolderOption) (*Holder, error) {
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
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
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

// Reload reloads the configuration from disk and runs the change listeners.
// The new configuration is kept only if it loads and every listener accepts
// it; otherwise the previous one stays current.
func (h *Holder) Reload() (err error) {
	defer func() {
		if h.recorder != nil {
			h.recorder.RecordReload(err)
		}
	}()

	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.RLock()
	oldCfg := h.config
	listeners := append([]func(*Config) error(nil), h.onChange...)
	h.mu.RUnlock()

	for _, fn := range listeners {
		if err := fn(newCfg); err != nil {
			h.logger.Error().Err(err).Msg("config rejected by listener, keeping old config")
			return fmt.Errorf("apply config: %w", err)
		}
	}

	h.mu.Lock()
	h.config = newCfg
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback to be called with each reloaded config.
// A callback error aborts the reload.
func (h *Holder) OnChange(fn func(*Config) error) {
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

			if filepath.Base(event.Name) != filename {
				continue
			}

			// atomic save = create
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

	if old.Model.Path != new.Model.Path {
		h.logger.Info().
			Str("old", old.Model.Path).
			Str("new", new.Model.Path).
			Msg("model path changed")
	}

	if old.Routing != new.Routing {
		h.logger.Info().
			Str("prefix", new.Routing.Prefix).
			Str("key_prefix", new.Routing.KeyPrefix).
			Msg("routing changed")
	}

	for _, field := range restartFields(old, new) {
		h.logger.Warn().Str("field", field).Msg("change takes effect after restart")
	}
}

func restartFields(old, new *Config) []string {
	var fields []string
	if old.Server.Host != new.Server.Host {
		fields = append(fields, "server.host")
	}
	if old.Server.Port != new.Server.Port {
		fields = append(fields, "server.port")
	}
	if old.Database.DSN != new.Database.DSN {
		fields = append(fields, "database.dsn")
	}
	if old.TimeZone != new.TimeZone {
		fields = append(fields, "time_zone")
	}
	if old.Logging.File != new.Logging.File {
		fields = append(fields, "logging.file")
	}
	return fields
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"model.path",
		"routing.prefix",
		"routing.key_prefix",
		"logging.level",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"database.dsn",
		"time_zone",
		"logging.file",
		"metrics.enabled",
	}
}
