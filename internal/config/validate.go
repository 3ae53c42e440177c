package config

import (
	"log/slog"
	"strconv"

	"github.com/hashicorp/go-version"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Validate checks field values after defaults and overrides are applied.
func Validate(cfg *Config) error {
	if _, err := ParseLogLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if v := cfg.Engine.EngineVersion; v != "" {
		if _, err := version.NewVersion(v); err != nil {
			return &FieldError{Field: "engine.engine_version", Value: v, Err: ErrInvalidEngineVersion}
		}
	}
	if cfg.Engine.MethodCacheSize < 0 {
		return &FieldError{
			Field: "engine.method_cache_size",
			Value: strconv.Itoa(cfg.Engine.MethodCacheSize),
			Err:   ErrInvalidCacheSize,
		}
	}
	return nil
}

// ParseLogLevel maps a logging.level value to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	l, ok := logLevels[level]
	if !ok {
		return 0, &FieldError{Field: "logging.level", Value: level, Err: ErrInvalidLogLevel}
	}
	return l, nil
}
