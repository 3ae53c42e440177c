package bootstrap

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/isseis/go-iast-weaver/internal/aspects"
	"github.com/isseis/go-iast-weaver/internal/config"
	"github.com/isseis/go-iast-weaver/internal/dataflow"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/safefileio"
)

// EngineOptions maps the [engine] and [exclusions] sections to engine options.
func EngineOptions(cfg *config.Config) dataflow.Options {
	ex := cfg.Exclusions
	return dataflow.Options{
		ApplyOnJIT: cfg.Engine.IsApplyOnJIT(),
		Verify:     cfg.Engine.IsVerifyRewrites(),
		DumpIL:     cfg.Engine.IsDumpIL(),
		Exclusions: dataflow.Exclusions{
			DomainIncludes:   ex.DomainIncludes,
			DomainExcludes:   ex.DomainExcludes,
			AssemblyIncludes: ex.AssemblyIncludes,
			AssemblyExcludes: ex.AssemblyExcludes,
			MethodIncludes:   ex.MethodIncludes,
			MethodExcludes:   ex.MethodExcludes,
		},
		MethodCacheSize: cfg.Engine.MethodCacheSize,
	}
}

// NewParser creates a rule parser from the [engine] section.
func NewParser(cfg *config.Config) (*aspects.Parser, error) {
	return aspects.NewParser(cfg.Engine.AspectsAssembly, cfg.Engine.EngineVersion, cfg.Engine.Categories)
}

// LoadRules parses the rules file and the security control entries named by
// cfg. A disabled engine yields an empty rule set.
func LoadRules(cfg *config.Config) (*aspects.RuleSet, error) {
	rules := &aspects.RuleSet{}
	if !cfg.Engine.IsEnabled() {
		slog.Info("Instrumentation disabled, no aspect rules loaded")
		return rules, nil
	}

	parser, err := NewParser(cfg)
	if err != nil {
		return nil, err
	}

	if path := cfg.Engine.RulesFile; path != "" {
		content, err := safefileio.SafeReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read aspect rules %s: %w", path, err)
		}
		parsed, err := parser.ParseReader(bytes.NewReader(content))
		if err != nil {
			return nil, err
		}
		rules.Merge(parsed)
	}

	if controls := cfg.Engine.SecurityControls; controls != "" {
		rules.Merge(parser.ParseSecurityControls(controls))
	}
	return rules, nil
}

// NewEngine creates an engine attached to h with the rules cfg names loaded.
func NewEngine(h host.Host, cfg *config.Config) (*dataflow.Engine, error) {
	engine, err := dataflow.NewEngine(h, EngineOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	rules, err := LoadRules(cfg)
	if err != nil {
		return nil, err
	}
	engine.LoadAspects(rules)
	return engine, nil
}
