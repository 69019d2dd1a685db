package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/bined/internal/config/loader"
	"github.com/dshills/bined/internal/engine/pagecache"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "BINED_"

// Config holds every bined setting.
type Config struct {
	Cache   CacheConfig
	Source  SourceConfig
	Engine  EngineConfig
	Script  ScriptConfig
	Logging LoggingConfig
}

// CacheConfig configures the page cache of file sources.
type CacheConfig struct {
	PageSize int
	MaxPages int
}

// SourceConfig configures how files are opened.
type SourceConfig struct {
	Lock       bool
	Watch      bool
	WatchDelay time.Duration
}

// EngineConfig configures document behavior.
type EngineConfig struct {
	Verify bool
}

// ScriptConfig limits Lua edit scripts. Zero disables a limit.
type ScriptConfig struct {
	Timeout        time.Duration
	OperationLimit int
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			PageSize: pagecache.DefaultPageSize,
			MaxPages: pagecache.DefaultMaxPages,
		},
		Source: SourceConfig{
			Lock:       true,
			WatchDelay: 100 * time.Millisecond,
		},
		Script: ScriptConfig{
			Timeout:        5 * time.Second,
			OperationLimit: 10_000_000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// options controls where Load looks for settings.
type options struct {
	file          string
	userConfigDir string
	env           bool
	fs            loader.FileSystem
}

// Option configures Load.
type Option func(*options)

// WithFile loads settings from path. The file must exist.
func WithFile(path string) Option {
	return func(o *options) {
		o.file = path
	}
}

// WithUserConfigDir sets the directory holding the user config.toml.
// An empty dir disables the user layer.
func WithUserConfigDir(dir string) Option {
	return func(o *options) {
		o.userConfigDir = dir
	}
}

// WithEnvironment enables or disables the environment layer.
func WithEnvironment(enable bool) Option {
	return func(o *options) {
		o.env = enable
	}
}

// WithFileSystem reads configuration files through fsys.
func WithFileSystem(fsys loader.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// defaultUserConfigDir returns ~/.config/bined or the platform equivalent.
func defaultUserConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bined")
}

// Load merges the configuration layers, decodes them and validates the
// result.
func Load(opts ...Option) (*Config, error) {
	o := options{
		userConfigDir: defaultUserConfigDir(),
		env:           true,
		fs:            loader.DefaultFS(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var layers []map[string]any

	if o.userConfigDir != "" {
		data, err := loader.ReadTOML(o.fs, filepath.Join(o.userConfigDir, "config.toml"))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			layers = append(layers, data)
		}
	}

	if o.file != "" {
		data, err := loader.ReadTOML(o.fs, o.file)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, o.file)
		}
		if err != nil {
			return nil, err
		}
		layers = append(layers, data)
	}

	if o.env {
		data, err := loader.NewEnvLoader(EnvPrefix).Load()
		if err != nil {
			return nil, err
		}
		layers = append(layers, data)
	}

	cfg, err := Decode(loader.Merge(layers...))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode applies the settings found in data on top of the defaults.
// Unknown settings are ignored.
func Decode(data map[string]any) (*Config, error) {
	cfg := Default()
	d := decoder{data: data}

	d.getInt("cache.page_size", &cfg.Cache.PageSize)
	d.getInt("cache.max_pages", &cfg.Cache.MaxPages)
	d.getBool("source.lock", &cfg.Source.Lock)
	d.getBool("source.watch", &cfg.Source.Watch)
	d.getDuration("source.watch_delay", &cfg.Source.WatchDelay)
	d.getBool("engine.verify", &cfg.Engine.Verify)
	d.getDuration("script.timeout", &cfg.Script.Timeout)
	d.getInt("script.operation_limit", &cfg.Script.OperationLimit)
	d.getString("logging.level", &cfg.Logging.Level)

	if len(d.errs) > 0 {
		return nil, errors.Join(d.errs...)
	}
	return cfg, nil
}

// Validate checks every setting against its allowed range.
func (c *Config) Validate() error {
	var errs []error

	if !pagecache.ValidPageSize(c.Cache.PageSize) {
		errs = append(errs, &ValidationError{
			Path:    "cache.page_size",
			Message: fmt.Sprintf("must be a power of two in [%d, %d]", pagecache.MinPageSize, pagecache.MaxPageSize),
			Value:   c.Cache.PageSize,
			Code:    ErrCodePageSize,
		})
	}
	if c.Cache.MaxPages < 1 {
		errs = append(errs, &ValidationError{
			Path:    "cache.max_pages",
			Message: "must be at least 1",
			Value:   c.Cache.MaxPages,
			Code:    ErrCodeOutOfRange,
		})
	}
	if c.Source.WatchDelay < 0 {
		errs = append(errs, &ValidationError{
			Path:    "source.watch_delay",
			Message: "must not be negative",
			Value:   c.Source.WatchDelay,
			Code:    ErrCodeNegative,
		})
	}
	if c.Script.Timeout < 0 {
		errs = append(errs, &ValidationError{
			Path:    "script.timeout",
			Message: "must not be negative",
			Value:   c.Script.Timeout,
			Code:    ErrCodeNegative,
		})
	}
	if c.Script.OperationLimit < 0 {
		errs = append(errs, &ValidationError{
			Path:    "script.operation_limit",
			Message: "must not be negative",
			Value:   c.Script.OperationLimit,
			Code:    ErrCodeNegative,
		})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{
			Path:    "logging.level",
			Message: "must be one of debug, info, warn, error",
			Value:   c.Logging.Level,
			Code:    ErrCodeInvalidEnum,
		})
	}

	return errors.Join(errs...)
}

// decoder reads typed values out of a merged settings map and collects
// type errors.
type decoder struct {
	data map[string]any
	errs []error
}

func (d *decoder) lookup(path string) (any, bool) {
	return loader.GetByPath(d.data, path)
}

func (d *decoder) mismatch(path, expected string, v any) {
	d.errs = append(d.errs, &TypeError{Path: path, Expected: expected, Actual: fmt.Sprintf("%T", v)})
}

func (d *decoder) getInt(path string, dst *int) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		*dst = int(n)
	case int:
		*dst = n
	case float64:
		if n != math.Trunc(n) {
			d.mismatch(path, "integer", v)
			return
		}
		*dst = int(n)
	default:
		d.mismatch(path, "integer", v)
	}
}

func (d *decoder) getBool(path string, dst *bool) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch b := v.(type) {
	case bool:
		*dst = b
	case int64:
		if b != 0 && b != 1 {
			d.mismatch(path, "bool", v)
			return
		}
		*dst = b == 1
	default:
		d.mismatch(path, "bool", v)
	}
}

func (d *decoder) getString(path string, dst *string) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	s, ok := v.(string)
	if !ok {
		d.mismatch(path, "string", v)
		return
	}
	*dst = s
}

func (d *decoder) getDuration(path string, dst *time.Duration) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch t := v.(type) {
	case time.Duration:
		*dst = t
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			d.mismatch(path, "duration", v)
			return
		}
		*dst = parsed
	default:
		d.mismatch(path, "duration", v)
	}
}
