package infra

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger constructs a zerolog.Logger with sane defaults for the service.
// When LOG_FILE is set, entries are also written as JSON to a rotating file.
func NewLogger(cfg *Config) zerolog.Logger {
	appEnv := "production"
	if cfg != nil {
		appEnv = cfg.AppEnv
	}

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if cfg != nil && cfg.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
			level = parsed
		}
	}

	var stdout io.Writer = os.Stdout
	if appEnv == "development" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	out := stdout
	if cfg != nil && cfg.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    nonZero(cfg.LogMaxSizeMB, 100),
			MaxBackups: nonZero(cfg.LogMaxBackups, 3),
			MaxAge:     nonZero(cfg.LogMaxAgeDays, 7),
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(stdout, file)
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger
