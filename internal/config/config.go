package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "procscript.db"
	defaultTickInterval   = 10 * time.Millisecond
	defaultLineTimeout    = 0
	defaultDefaultTimeout = 30 * time.Second

	envListenAddr     = "PROCSCRIPT_LISTEN_ADDR"
	envDBPath         = "PROCSCRIPT_DB_PATH"
	envLogLevel       = "PROCSCRIPT_LOG_LEVEL"
	envWorkDir        = "PROCSCRIPT_WORK_DIR"
	envTickInterval   = "PROCSCRIPT_TICK_INTERVAL"
	envLineTimeout    = "PROCSCRIPT_LINE_TIMEOUT"
	envDefaultTimeout = "PROCSCRIPT_DEFAULT_TIMEOUT"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// WorkDir is where child processes run when a script names no directory.
	// Empty means the current directory.
	WorkDir string

	TickInterval   time.Duration
	LineTimeout    time.Duration
	DefaultTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Durations use time.ParseDuration syntax; unparsable values keep the default.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		TickInterval:   defaultTickInterval,
		LineTimeout:    defaultLineTimeout,
		DefaultTimeout: defaultDefaultTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envWorkDir); v != "" {
		cfg.WorkDir = v
	}
	cfg.TickInterval = durationEnv(envTickInterval, cfg.TickInterval)
	cfg.LineTimeout = durationEnv(envLineTimeout, cfg.LineTimeout)
	cfg.DefaultTimeout = durationEnv(envDefaultTimeout, cfg.DefaultTimeout)

	return cfg
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// ParseLogLevel maps a level name to a slog.Level. Unknown names yield info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
