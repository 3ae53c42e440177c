package dataflow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

// MatchResult grades how a name matched a filter list.
type MatchResult int

// Match results, weakest first
const (
	NoMatch MatchResult = iota
	Wildcard
	Exact
)

func (r MatchResult) String() string {
	switch r {
	case Wildcard:
		return "wildcard"
	case Exact:
		return "exact"
	default:
		return "none"
	}
}

// DefaultMethodCacheSize bounds the method exclusion verdict cache.
const DefaultMethodCacheSize = 4096

// Exclusions holds configured filters. Only '*' is special; it matches any
// run of characters.
type Exclusions struct {
	DomainIncludes   []string
	DomainExcludes   []string
	AssemblyIncludes []string
	AssemblyExcludes []string
	MethodIncludes   []string
	MethodExcludes   []string
}

type pattern struct {
	text    string
	literal int
	g       glob.Glob
}

// PatternList is a compiled filter list.
type PatternList []pattern

// CompilePatterns compiles filters. Blank entries are skipped.
func CompilePatterns(texts ...[]string) (PatternList, error) {
	var out PatternList
	for _, list := range texts {
		for _, text := range list {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			p := pattern{text: text, literal: len(text) - strings.Count(text, "*")}
			if strings.Contains(text, "*") {
				parts := strings.Split(text, "*")
				for i, part := range parts {
					parts[i] = glob.QuoteMeta(part)
				}
				g, err := glob.Compile(strings.Join(parts, "*"))
				if err != nil {
					return nil, fmt.Errorf("invalid filter %q: %w", text, err)
				}
				p.g = g
			}
			out = append(out, p)
		}
	}
	return out, nil
}

// Match returns the strongest match of value against the list and, for a
// wildcard match, the literal length of the most specific matching pattern.
// An exact match ends the search.
func (l PatternList) Match(value string) (MatchResult, int) {
	value = strings.TrimSpace(value)
	best, bestLen := NoMatch, 0
	for _, p := range l {
		if p.g == nil {
			if p.text == value {
				return Exact, p.literal
			}
			continue
		}
		if p.g.Match(value) {
			best = Wildcard
			if p.literal > bestLen {
				bestLen = p.literal
			}
		}
	}
	return best, bestLen
}

// IsExcluded decides a name against include and exclude lists. An exact
// include always wins. When both lists match by wildcard the more specific
// pattern wins and the exclude wins a tie.
func IsExcluded(includes, excludes PatternList, value string) bool {
	included, includedLen := includes.Match(value)
	if included == Exact {
		return false
	}
	excluded, excludedLen := excludes.Match(value)
	if included == Wildcard && excluded == Wildcard {
		return excludedLen >= includedLen
	}
	return (included == Wildcard && excluded == Exact) ||
		(included == NoMatch && excluded != NoMatch)
}

// Matcher holds the domain, assembly and method filters of an engine.
type Matcher struct {
	domainIncludes, domainExcludes     PatternList
	assemblyIncludes, assemblyExcludes PatternList
	methodIncludes, methodExcludes     PatternList

	methods *lru.Cache[string, bool]
}

// NewMatcher compiles the built-in filters followed by cfg's. cacheSize
// bounds the method verdict cache; zero selects DefaultMethodCacheSize.
func NewMatcher(cfg Exclusions, cacheSize int) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultMethodCacheSize
	}
	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create method cache: %w", err)
	}
	m := &Matcher{methods: cache}

	lists := []struct {
		dst     *PatternList
		builtin []string
		extra   []string
	}{
		{&m.domainIncludes, builtinDomainIncludes, cfg.DomainIncludes},
		{&m.domainExcludes, builtinDomainExcludes, cfg.DomainExcludes},
		{&m.assemblyIncludes, builtinAssemblyIncludes, cfg.AssemblyIncludes},
		{&m.assemblyExcludes, builtinAssemblyExcludes, cfg.AssemblyExcludes},
		{&m.methodIncludes, builtinMethodIncludes, cfg.MethodIncludes},
		{&m.methodExcludes, builtinMethodExcludes, cfg.MethodExcludes},
	}
	for _, l := range lists {
		if *l.dst, err = CompilePatterns(l.builtin, l.extra); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// IsDomainExcluded reports whether modules of the named app domain are left
// alone.
func (m *Matcher) IsDomainExcluded(name string) bool {
	return IsExcluded(m.domainIncludes, m.domainExcludes, name)
}

// IsAssemblyExcluded reports whether the named assembly is left alone.
func (m *Matcher) IsAssemblyExcluded(name string) bool {
	return IsExcluded(m.assemblyIncludes, m.assemblyExcludes, name)
}

// IsMethodExcluded reports whether the method with the given full name is
// left alone. Verdicts are cached.
func (m *Matcher) IsMethodExcluded(fullName string) bool {
	if v, ok := m.methods.Get(fullName); ok {
		return v
	}
	v := IsExcluded(m.methodIncludes, m.methodExcludes, fullName)
	if v {
		slog.Debug("Method excluded", slog.String("method", fullName))
	}
	m.methods.Add(fullName, v)
	return v
}
