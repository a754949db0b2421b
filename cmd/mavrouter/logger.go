package main

import (
	"log/slog"
	"os"

	"github.com/K4HVH/mav-lite/internal/config"
	"github.com/K4HVH/mav-lite/internal/logging"
)

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	lvl := parseLevel(cfg.LogLevel)
	l := logging.New(cfg.LogFormat, lvl, os.Stderr).With("app", "mavrouter")
	logging.Set(l)

	perModule := make(map[string]slog.Level, len(cfg.LogModules))
	for mod, s := range cfg.LogModules {
		perModule[mod] = parseLevel(s)
	}
	logging.SetModuleLevels(cfg.LogFormat, lvl, perModule, os.Stderr)

	return l
}
