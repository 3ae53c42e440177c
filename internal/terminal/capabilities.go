// Package terminal decides how the weaver tools talk to the console: plain
// lines for build logs and CI runners, colored short lines when a person is
// watching an instrumentation run.
package terminal

import (
	"os"
	"slices"
	"strings"

	"golang.org/x/term"
)

// ciEnvVars are set by the build systems the weaver usually runs under.
// Presence is enough, except for CI itself.
var ciEnvVars = []string{
	"CI",
	"BUILDKITE",
	"BUILD_NUMBER",
	"CIRCLECI",
	"CONTINUOUS_INTEGRATION",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"JENKINS_URL",
	"TF_BUILD",
	"TRAVIS",
}

// colorTerminals are TERM families that render ANSI escapes. A family
// matches itself and any "family-variant" value.
var colorTerminals = []string{"ansi", "cygwin", "linux", "putty", "rxvt", "screen", "tmux", "vt100", "vt220", "xterm"}

// Options are the -color, -no-color and -interactive style flags of the
// tools. They win over anything found in the environment.
type Options struct {
	ForceColor          bool
	DisableColor        bool
	ForceInteractive    bool
	ForceNonInteractive bool
}

// Capabilities is what the console handler and the diff palette need to know.
type Capabilities interface {
	IsInteractive() bool
	SupportsColor() bool
	HasExplicitUserPreference() bool
}

// DefaultCapabilities resolves Options against the process environment.
type DefaultCapabilities struct {
	options    Options
	isTerminal func() bool
}

// NewCapabilities returns capabilities for the current process.
func NewCapabilities(options Options) *DefaultCapabilities {
	return &DefaultCapabilities{options: options, isTerminal: stdioIsTerminal}
}

// Log lines and diffs go to both streams, so both must be terminals.
func stdioIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// IsInteractive reports whether a person is likely watching the run. Flags
// decide first, then a CI runner forces batch output, then the streams are
// checked.
func (c *DefaultCapabilities) IsInteractive() bool {
	switch {
	case c.options.ForceInteractive:
		return true
	case c.options.ForceNonInteractive, inCI():
		return false
	default:
		return c.isTerminal()
	}
}

// SupportsColor reports whether level names and diff hunks get colors.
// Flags, CLICOLOR_FORCE and NO_COLOR are explicit choices and always apply.
// Otherwise colors need an interactive color terminal, and CLICOLOR may
// still turn them off.
func (c *DefaultCapabilities) SupportsColor() bool {
	if want, explicit := c.preference(); explicit {
		return want
	}
	if !c.IsInteractive() || !colorTerm(os.Getenv("TERM")) {
		return false
	}
	v, set := os.LookupEnv("CLICOLOR")
	return !set || v == "" || truthy(v)
}

// HasExplicitUserPreference reports whether colors were chosen by a flag or
// by CLICOLOR_FORCE or NO_COLOR.
func (c *DefaultCapabilities) HasExplicitUserPreference() bool {
	_, explicit := c.preference()
	return explicit
}

func (c *DefaultCapabilities) preference() (want, explicit bool) {
	switch {
	case c.options.ForceColor:
		return true, true
	case c.options.DisableColor:
		return false, true
	case truthy(os.Getenv("CLICOLOR_FORCE")):
		return true, true
	}
	// NO_COLOR applies even when empty.
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false, true
	}
	return false, false
}

func inCI() bool {
	for _, name := range ciEnvVars {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		if name != "CI" {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no":
			return false
		}
		return true
	}
	return false
}

func colorTerm(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	family, _, _ := strings.Cut(value, "-")
	return slices.Contains(colorTerminals, family)
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
