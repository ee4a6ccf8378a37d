// Package config loads daemon settings and per-project manifests.
//
// Daemon settings come from a specsync.yaml file merged with SPECSYNC_*
// environment variables, flags taking precedence when the CLI binds them.
// Each project may additionally carry a .specsync.toml manifest at its
// root to override the spec directory name or the display name.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ManifestFileName is the optional per-project manifest.
const ManifestFileName = ".specsync.toml"

// Config holds the daemon-wide settings.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// SpecDirName is the directory under each project root containing
	// spec directories, unless a project manifest overrides it.
	SpecDirName string `mapstructure:"spec_dir"`

	// Debounce is the watcher quiet window before a change syncs.
	Debounce time.Duration `mapstructure:"debounce"`

	// SyncTimeout bounds a single sync run.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`

	// SyncWorkers bounds concurrent sync execution.
	SyncWorkers int `mapstructure:"sync_workers"`

	// LogFile, when set, routes logs through a rotating file instead of
	// stderr.
	LogFile string `mapstructure:"log_file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath:      ".specsync/specsync.db",
		SpecDirName: "specs",
		Debounce:    300 * time.Millisecond,
		SyncTimeout: 30 * time.Second,
		SyncWorkers: 4,
	}
}

// Load reads configuration from the given file (or, when path is empty,
// from specsync.yaml in the working directory if present), then applies
// SPECSYNC_* environment variables on top. Missing files are not an
// error; the defaults stand.
func Load(path string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("spec_dir", d.SpecDirName)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("sync_timeout", d.SyncTimeout)
	v.SetDefault("sync_workers", d.SyncWorkers)
	v.SetDefault("log_file", d.LogFile)

	v.SetEnvPrefix("SPECSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("specsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.SyncWorkers <= 0 {
		cfg.SyncWorkers = d.SyncWorkers
	}
	return cfg, nil
}

// NewLogger builds a component logger. When cfg.LogFile is set the output
// goes through a size-rotated file; otherwise it writes to stderr.
func (c *Config) NewLogger(component string) *log.Logger {
	var w io.Writer = os.Stderr
	if c.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(w, "["+component+"] ", log.LstdFlags)
}

// ProjectManifest is the optional .specsync.toml at a project root.
type ProjectManifest struct {
	// Name overrides the project's display name (default: directory base).
	Name string `toml:"name"`

	// SpecDir overrides the spec directory name for this project.
	SpecDir string `toml:"spec_dir"`
}

// LoadManifest reads the project manifest under root. A missing manifest
// is not an error: it returns (nil, nil) and the daemon defaults apply.
func LoadManifest(root string) (*ProjectManifest, error) {
	path := filepath.Join(root, ManifestFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var m ProjectManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if strings.Contains(m.SpecDir, "..") || filepath.IsAbs(m.SpecDir) {
		return nil, fmt.Errorf("manifest %s: spec_dir must be a relative path inside the project", path)
	}
	return &m, nil
}
