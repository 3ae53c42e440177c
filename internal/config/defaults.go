package config

// Default values for configuration fields
const (
	DefaultEnabled         = true
	DefaultApplyOnJIT      = false
	DefaultVerifyRewrites  = true
	DefaultDumpIL          = false
	DefaultMethodCacheSize = 4096
	DefaultAspectsAssembly = "Datadog.Trace"
	DefaultLogLevel        = "info"
)

// ApplyDefaults fills unset fields of cfg.
func ApplyDefaults(cfg *Config) {
	ApplyEngineDefaults(&cfg.Engine)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
}

// ApplyEngineDefaults applies default values to EngineConfig fields
func ApplyEngineDefaults(c *EngineConfig) {
	setDefault(&c.Enabled, DefaultEnabled)
	setDefault(&c.ApplyOnJIT, DefaultApplyOnJIT)
	setDefault(&c.VerifyRewrites, DefaultVerifyRewrites)
	setDefault(&c.DumpIL, DefaultDumpIL)
	if c.MethodCacheSize == 0 {
		c.MethodCacheSize = DefaultMethodCacheSize
	}
	if c.AspectsAssembly == "" {
		c.AspectsAssembly = DefaultAspectsAssembly
	}
}

func setDefault(field **bool, value bool) {
	if *field == nil {
		v := value
		*field = &v
	}
}
