// Package config loads the weaver configuration from a TOML file, an
// optional .env file and DD_IAST_* environment variables.
package config

// Config is the root of the TOML document.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	Exclusions ExclusionsConfig `toml:"exclusions"`
	Logging    LoggingConfig    `toml:"logging"`
}

// EngineConfig controls rule loading and method rewriting.
type EngineConfig struct {
	Enabled        *bool `toml:"enabled"`
	ApplyOnJIT     *bool `toml:"apply_on_jit"`
	VerifyRewrites *bool `toml:"verify_rewrites"`
	DumpIL         *bool `toml:"dump_il"`

	// MethodCacheSize bounds the method exclusion verdict cache.
	MethodCacheSize int `toml:"method_cache_size"`
	// EngineVersion gates rule lines carrying a ";V" suffix.
	EngineVersion string `toml:"engine_version"`
	// Categories selects rule lines by their trailing mask. Zero keeps all.
	Categories uint32 `toml:"categories"`
	// AspectsAssembly defines every helper type.
	AspectsAssembly string `toml:"aspects_assembly"`

	RulesFile        string `toml:"rules_file"`
	SecurityControls string `toml:"security_controls"`
}

// ExclusionsConfig extends the built-in wildcard lists.
type ExclusionsConfig struct {
	DomainIncludes   []string `toml:"domain_includes"`
	DomainExcludes   []string `toml:"domain_excludes"`
	AssemblyIncludes []string `toml:"assembly_includes"`
	AssemblyExcludes []string `toml:"assembly_excludes"`
	MethodIncludes   []string `toml:"method_includes"`
	MethodExcludes   []string `toml:"method_excludes"`
}

// LoggingConfig controls the log handlers.
type LoggingConfig struct {
	Level string `toml:"level"`
	// Dir receives one JSON log file per run. Empty disables file logging.
	Dir string `toml:"dir"`
}

// IsEnabled reports the effective engine.enabled value.
func (c *EngineConfig) IsEnabled() bool { return boolValue(c.Enabled, DefaultEnabled) }

// IsApplyOnJIT reports the effective engine.apply_on_jit value.
func (c *EngineConfig) IsApplyOnJIT() bool { return boolValue(c.ApplyOnJIT, DefaultApplyOnJIT) }

// IsVerifyRewrites reports the effective engine.verify_rewrites value.
func (c *EngineConfig) IsVerifyRewrites() bool {
	return boolValue(c.VerifyRewrites, DefaultVerifyRewrites)
}

// IsDumpIL reports the effective engine.dump_il value.
func (c *EngineConfig) IsDumpIL() bool { return boolValue(c.DumpIL, DefaultDumpIL) }

func boolValue(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
