package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

// moduleConfig is the process-wide state ForModule reads to build a
// per-module logger: the base format/writer plus the RUST_LOG-style
// default and per-module levels parsed from MAVROUTER_LOG.
type moduleConfig struct {
	format       string
	writer       io.Writer
	defaultLevel slog.Level
	perModule    map[string]slog.Level
}

var modCfg atomic.Pointer[moduleConfig]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
	modCfg.Store(&moduleConfig{
		format:       "text",
		writer:       os.Stderr,
		defaultLevel: slog.LevelInfo,
		perModule:    map[string]slog.Level{},
	})
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// SetModuleLevels installs the format/writer and the RUST_LOG-style default
// and per-module levels that ForModule uses, following the
// MAVROUTER_LOG=level,module=level,... variable (internal/config.ParseLogEnv).
// Safe to call before any ForModule call; ForModule always reads the latest
// value set here.
func SetModuleLevels(format string, defaultLevel slog.Level, perModule map[string]slog.Level, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	pm := make(map[string]slog.Level, len(perModule))
	for k, v := range perModule {
		pm[k] = v
	}
	modCfg.Store(&moduleConfig{format: format, writer: w, defaultLevel: defaultLevel, perModule: pm})
}

// ForModule returns a logger scoped to module: every record is tagged
// "module"=module and filtered at the level SetModuleLevels configured for
// that module (falling back to the configured default level). Call sites
// build this fresh per log statement, the same way L() is used, rather than
// caching it in a package variable, since module-level config can change
// (or simply not be installed yet, at package-init time) after the package
// that logs is initialized.
func ForModule(module string) *slog.Logger {
	cfg := modCfg.Load()
	level := cfg.defaultLevel
	if lvl, ok := cfg.perModule[module]; ok {
		level = lvl
	}
	var h slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.format {
	case "json":
		h = slog.NewJSONHandler(cfg.writer, opts)
	default:
		h = slog.NewTextHandler(cfg.writer, opts)
	}
	return slog.New(h).With("module", module)
}
