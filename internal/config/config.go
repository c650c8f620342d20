// Package config loads and watches notedeck server configuration.
//
// Configuration is read with viper from a YAML file, with every key
// overridable through NOTEDECK_* environment variables. The file can be
// watched for changes so long-running servers pick up operational settings
// (worker cadence, log destination) without a restart.
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `mapstructure:"port"`

	// DBPath is the SQLite database file path.
	DBPath string `mapstructure:"db_path"`

	// LogFile, when set, routes logs through a rotating file instead of
	// stderr.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB is the rotation threshold for LogFile.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`

	// WorkerEnabled controls the background queue drain worker.
	WorkerEnabled bool `mapstructure:"worker_enabled"`

	// WorkerInterval is how often the worker polls for drainable queues.
	WorkerInterval time.Duration `mapstructure:"worker_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		DBPath:         ".notedeck/notedeck.db",
		LogMaxSizeMB:   50,
		WorkerEnabled:  true,
		WorkerInterval: 30 * time.Second,
	}
}

// Load reads configuration from the given file path. An empty path loads
// defaults plus environment overrides; a missing file is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOTEDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("port", cfg.Port)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("worker_enabled", cfg.WorkerEnabled)
	v.SetDefault("worker_interval", cfg.WorkerInterval)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path cannot be empty")
	}

	return cfg, nil
}

// Watch monitors the config file and invokes onChange with the freshly
// loaded configuration whenever it is rewritten. Reload failures are logged
// and the previous configuration stays in effect.
//
// Watch blocks until ctx is cancelled. Events are debounced so editors that
// write in multiple steps trigger a single reload.
func Watch(ctx context.Context, path string, logger *log.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files by rename,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	const debounce = 200 * time.Millisecond
	var pending *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				logger.Printf("Warning: config reload failed, keeping previous: %v", err)
				continue
			}
			logger.Printf("Config reloaded from %s", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("Watcher error: %v", err)
		}
	}
}
