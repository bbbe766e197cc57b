package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "TOE_LOG_LEVEL"
	EnvLogNoColor = "TOE_LOG_NOCOLOR"
)

// Config selects the level and output format of the process logger.
type Config struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	NoColor bool   `yaml:"no_color"`
}

func DefaultConfig() Config {
	return Config{Level: "info", Console: true}
}

// New builds the logger for app, writing to stdout.
func New(app string, cfg Config) zerolog.Logger {
	return NewWithWriter(app, cfg, os.Stdout)
}

// NewWithWriter builds the logger for app on an arbitrary writer. Env
// overrides take precedence over cfg.
func NewWithWriter(app string, cfg Config, w io.Writer) zerolog.Logger {
	applyEnvOverrides(&cfg)
	lvl, ok := ParseLevel(cfg.Level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	out := w
	if cfg.Console {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor,
		}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
}

func applyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		if _, ok := ParseLevel(raw); ok {
			cfg.Level = raw
		}
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

// ParseLevel maps a level name to a zerolog level. ok is false for unknown
// names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "", "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
