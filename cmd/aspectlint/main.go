// Package main implements aspectlint, which parses aspect rule files and
// security control entries the way the engine does and reports the lines the
// engine would drop.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/isseis/go-iast-weaver/internal/bootstrap"
	"github.com/isseis/go-iast-weaver/internal/cmdcommon"
	"github.com/isseis/go-iast-weaver/internal/config"
	"github.com/isseis/go-iast-weaver/internal/terminal"
)

// ErrNothingToLint is returned when neither a rules file nor security
// controls are configured.
var ErrNothingToLint = errors.New("no rules file or security controls configured")

type options struct {
	configPath       string
	envFile          string
	rulesPath        string
	securityControls string
	engineVersion    string
	showRules        bool
	noColor          bool
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "", "path to TOML config file")
	flag.StringVar(&opts.envFile, "env-file", "", "path to .env file with DD_IAST_* overrides")
	flag.StringVar(&opts.rulesPath, "rules", "", "aspect rules file. Overrides engine.rules_file")
	flag.StringVar(&opts.securityControls, "security-controls", "", "security control entries. Overrides engine.security_controls")
	flag.StringVar(&opts.engineVersion, "engine-version", "", "engine version for version gates. Overrides engine.engine_version")
	flag.BoolVar(&opts.showRules, "list", false, "print the effective rule table")
	flag.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flag.Parse()

	palette, err := cmdcommon.SetupConsole(os.Stderr, slog.LevelWarn, terminal.Options{DisableColor: opts.noColor})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(os.Stdout, config.NewLoader(), opts, palette); err != nil {
		if !errors.Is(err, ErrDroppedLines) {
			slog.Error("Lint failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}

func run(w io.Writer, loader *config.Loader, opts options, palette *terminal.Palette) error {
	cfg, err := loader.Load(opts.configPath, opts.envFile)
	if err != nil {
		return err
	}
	if opts.rulesPath != "" {
		cfg.Engine.RulesFile = opts.rulesPath
	}
	if opts.securityControls != "" {
		cfg.Engine.SecurityControls = opts.securityControls
	}
	if opts.engineVersion != "" {
		cfg.Engine.EngineVersion = opts.engineVersion
	}
	if cfg.Engine.RulesFile == "" && cfg.Engine.SecurityControls == "" {
		return ErrNothingToLint
	}
	// Rules are checked even when instrumentation is switched off.
	enabled := true
	cfg.Engine.Enabled = &enabled

	rules, err := bootstrap.LoadRules(cfg)
	if err != nil {
		return err
	}
	return report(w, rules, opts.showRules, palette)
}
