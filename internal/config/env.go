package config

import (
	"strconv"
	"strings"
)

// Environment variable names
const (
	EnvEnabled          = "DD_IAST_ENABLED"
	EnvApplyOnJIT       = "DD_IAST_APPLY_ON_JIT"
	EnvVerify           = "DD_IAST_VERIFY"
	EnvDumpIL           = "DD_IAST_DUMP_IL"
	EnvLogLevel         = "DD_IAST_LOG_LEVEL"
	EnvLogDir           = "DD_IAST_LOG_DIR"
	EnvSecurityControls = "DD_IAST_SECURITY_CONTROLS_CONFIGURATION"
)

// ApplyEnv overrides cfg with the DD_IAST_* variables lookup returns.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	bools := []struct {
		name  string
		field **bool
	}{
		{EnvEnabled, &cfg.Engine.Enabled},
		{EnvApplyOnJIT, &cfg.Engine.ApplyOnJIT},
		{EnvVerify, &cfg.Engine.VerifyRewrites},
		{EnvDumpIL, &cfg.Engine.DumpIL},
	}
	for _, b := range bools {
		raw, ok := lookup(b.name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return &FieldError{Field: b.name, Value: raw, Err: ErrInvalidEnvValue}
		}
		*b.field = &v
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvLogDir); ok && v != "" {
		cfg.Logging.Dir = v
	}
	if v, ok := lookup(EnvSecurityControls); ok && v != "" {
		cfg.Engine.SecurityControls = v
	}
	return nil
}
