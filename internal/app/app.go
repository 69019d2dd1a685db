// Package app wires configuration, logging and the engine session together
// for the bined command.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/bined/internal/config"
	"github.com/dshills/bined/internal/engine"
	"github.com/dshills/bined/internal/engine/script"
	"github.com/dshills/bined/internal/plugin/lua"
)

// Application owns the configuration, logger and engine session of one
// bined run.
type Application struct {
	mu sync.Mutex

	config  *config.Config
	logger  *Logger
	session *engine.Session

	closed bool
	opts   Options
}

// Options configures the application.
type Options struct {
	// ConfigPath is an explicit configuration file. It must exist.
	ConfigPath string

	// SkipUserConfig ignores the per-user configuration file.
	SkipUserConfig bool

	// SkipEnvironment ignores BINED_ environment variables.
	SkipEnvironment bool

	// LogLevel overrides the configured log level.
	LogLevel string

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// ScriptOutput receives print output of Lua scripts. Defaults to
	// os.Stdout.
	ScriptOutput io.Writer

	// Verify forces structure validation after every edit.
	Verify bool
}

// New creates an Application with the given options.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}

	if err := app.initConfig(); err != nil {
		return nil, &InitError{Component: "config", Err: err}
	}
	if err := app.initLogger(); err != nil {
		return nil, &InitError{Component: "logger", Err: err}
	}
	if err := app.initSession(); err != nil {
		return nil, &InitError{Component: "session", Err: err}
	}
	return app, nil
}

func (app *Application) initConfig() error {
	var configOpts []config.Option
	if app.opts.ConfigPath != "" {
		configOpts = append(configOpts, config.WithFile(app.opts.ConfigPath))
	}
	if app.opts.SkipUserConfig {
		configOpts = append(configOpts, config.WithUserConfigDir(""))
	}
	if app.opts.SkipEnvironment {
		configOpts = append(configOpts, config.WithEnvironment(false))
	}

	cfg, err := config.Load(configOpts...)
	if err != nil {
		return err
	}
	if app.opts.LogLevel != "" {
		cfg.Logging.Level = app.opts.LogLevel
	}
	if app.opts.Verify {
		cfg.Engine.Verify = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	app.config = cfg
	return nil
}

func (app *Application) initLogger() error {
	level, err := ParseLogLevel(app.config.Logging.Level)
	if err != nil {
		return err
	}
	app.logger = NewLogger(LoggerConfig{
		Level:  level,
		Output: app.opts.LogOutput,
		Prefix: "bined",
	})
	return nil
}

func (app *Application) initSession() error {
	cfg := app.config
	session, err := engine.NewSession(
		engine.WithPageSize(cfg.Cache.PageSize),
		engine.WithMaxPages(cfg.Cache.MaxPages),
		engine.WithLock(cfg.Source.Lock),
		engine.WithWatch(cfg.Source.Watch),
		engine.WithWatchDelay(cfg.Source.WatchDelay),
		engine.WithVerify(cfg.Engine.Verify),
		engine.WithLogger(app.logger.WithComponent("engine")),
	)
	if err != nil {
		return err
	}

	session.OnExternalChange(func(c engine.Change) {
		app.logger.Warn("%s changed on disk (%s)", c.Path, c.Op)
	})
	app.session = session
	return nil
}

// Config returns the effective configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the application logger.
func (app *Application) Logger() *Logger {
	return app.logger
}

// Session returns the engine session.
func (app *Application) Session() *engine.Session {
	return app.session
}

func (app *Application) checkOpen() error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.closed {
		return ErrClosed
	}
	return nil
}

// Open opens the file at path as a document. An empty path creates an
// empty document.
func (app *Application) Open(path string) (*engine.Document, error) {
	if err := app.checkOpen(); err != nil {
		return nil, err
	}
	if path == "" {
		return app.session.NewDocument()
	}

	doc, err := app.session.OpenFile(path)
	if err != nil {
		return nil, NewOperationError("open", path, err)
	}
	app.logger.Info("opened %s (%d bytes)", path, doc.Size())
	return doc, nil
}

// Load creates a document holding everything read from r.
func (app *Application) Load(r io.Reader) (*engine.Document, error) {
	if err := app.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := app.session.Load(r)
	if err != nil {
		return nil, NewOperationError("load", "", err)
	}
	return doc, nil
}

// RunScript applies the script at path to doc. YAML scripts list edits;
// Lua scripts drive the document through the doc module and may return a
// value in the global result.
func (app *Application) RunScript(ctx context.Context, doc *engine.Document, path string, args map[string]string) (any, error) {
	if err := app.checkOpen(); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err := script.Load(path)
		if err != nil {
			return nil, NewOperationError("script", path, err)
		}
		n, err := s.Apply(doc)
		if err != nil {
			return nil, NewOperationError("script", path, err)
		}
		app.logger.Info("applied %d edits from %s", n, path)
		return nil, nil

	case ".lua":
		cfg := app.config.Script
		out := app.opts.ScriptOutput
		if out == nil {
			out = os.Stdout
		}
		result, err := lua.RunFile(ctx, doc, path, lua.RunOptions{
			Args: args,
			State: []lua.StateOption{
				lua.WithExecutionTimeout(cfg.Timeout),
				lua.WithOperationLimit(int64(cfg.OperationLimit)),
				lua.WithOutput(out),
			},
		})
		if err != nil {
			return nil, NewOperationError("script", path, err)
		}
		app.logger.Info("ran %s", path)
		return result, nil

	default:
		return nil, NewOperationError("script", path, ErrUnknownScriptType)
	}
}

// Save writes doc to path, replacing it atomically.
func (app *Application) Save(doc *engine.Document, path string) error {
	if err := app.checkOpen(); err != nil {
		return err
	}
	if err := app.session.SaveAs(doc, path); err != nil {
		return NewOperationError("save", path, err)
	}
	return nil
}

// Write streams doc to w.
func (app *Application) Write(doc *engine.Document, w io.Writer) error {
	if err := app.checkOpen(); err != nil {
		return err
	}
	if _, err := app.session.Save(doc, w); err != nil {
		return NewOperationError("write", "", err)
	}
	return nil
}

// ParseRange parses "offset:length" or "offset". Numbers may carry a 0x,
// 0o or 0b prefix. A missing length means through the end.
func ParseRange(s string) (offset, length int64, err error) {
	length = -1
	offStr, lenStr, hasLen := strings.Cut(s, ":")
	offset, err = strconv.ParseInt(strings.TrimSpace(offStr), 0, 64)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
	}
	if hasLen && strings.TrimSpace(lenStr) != "" {
		length, err = strconv.ParseInt(strings.TrimSpace(lenStr), 0, 64)
		if err != nil || length < 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, s)
		}
	}
	return offset, length, nil
}

// Close disposes every document and closes every file.
func (app *Application) Close() error {
	app.mu.Lock()
	if app.closed {
		app.mu.Unlock()
		return nil
	}
	app.closed = true
	app.mu.Unlock()

	if app.logger.Enabled(LogLevelDebug) {
		st := app.session.Stats()
		app.logger.WithFields(map[string]any{
			"documents":    st.Documents,
			"sources":      st.Sources,
			"stale":        st.StaleSources,
			"cache_hits":   st.CacheHits,
			"cache_misses": st.CacheMisses,
		}).Debug("closing session")
	}
	return app.session.Close()
}
