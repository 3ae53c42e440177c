package config

import (
	"errors"
	"fmt"
)

// Error definitions for the config package
var (
	// ErrInvalidConfig is the root of every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidLogLevel is returned for an unknown logging.level.
	ErrInvalidLogLevel = fmt.Errorf("%w: unknown log level", ErrInvalidConfig)

	// ErrInvalidEngineVersion is returned when engine.engine_version does not parse.
	ErrInvalidEngineVersion = fmt.Errorf("%w: malformed engine version", ErrInvalidConfig)

	// ErrInvalidCacheSize is returned for a negative engine.method_cache_size.
	ErrInvalidCacheSize = fmt.Errorf("%w: negative method cache size", ErrInvalidConfig)

	// ErrInvalidEnvValue is returned when a DD_IAST_* variable has an unusable value.
	ErrInvalidEnvValue = errors.New("invalid environment variable value")
)

// FieldError reports the configuration field that failed validation.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
