package aspects

import (
	"fmt"
	"strings"
)

// Behavior is how a helper call is woven around a matched call site.
type Behavior int

// Behaviors
const (
	BehaviorUnknown Behavior = iota
	BehaviorMethodReplace
	BehaviorCtorReplace
	BehaviorInsertBefore
	BehaviorInsertAfter
)

var behaviorNames = map[string]Behavior{
	"AspectCtorReplace":        BehaviorCtorReplace,
	"AspectMethodReplace":      BehaviorMethodReplace,
	"AspectMethodInsertAfter":  BehaviorInsertAfter,
	"AspectMethodInsertBefore": BehaviorInsertBefore,
}

// ParseBehavior maps an attribute name, with or without its "Attribute"
// suffix, to a behavior.
func ParseBehavior(name string) Behavior {
	return behaviorNames[strings.TrimSuffix(name, "Attribute")]
}

// IsReplace reports whether the behavior overwrites the matched instruction.
func (b Behavior) IsReplace() bool {
	return b == BehaviorMethodReplace || b == BehaviorCtorReplace
}

func (b Behavior) String() string {
	switch b {
	case BehaviorMethodReplace:
		return "MethodReplace"
	case BehaviorCtorReplace:
		return "CtorReplace"
	case BehaviorInsertBefore:
		return "InsertBefore"
	case BehaviorInsertAfter:
		return "InsertAfter"
	default:
		return "Unknown"
	}
}

// Filter identifies a call site predicate that can veto a match.
type Filter int

// Filters
const (
	FilterNone Filter = iota
	// FilterStringOptimization skips string calls chained into another call.
	FilterStringOptimization
	// FilterStringLiterals skips calls whose string arguments are all literals.
	FilterStringLiterals
	// FilterStringLiteralsAny skips calls with any literal string argument.
	FilterStringLiteralsAny
	// FilterStringLiteral0 skips calls whose first argument is a literal.
	FilterStringLiteral0
	// FilterStringLiteral1 skips calls whose second argument is a literal.
	FilterStringLiteral1
)

var filterNames = []string{
	FilterNone:               "None",
	FilterStringOptimization: "StringOptimization",
	FilterStringLiterals:     "StringLiterals",
	FilterStringLiteralsAny:  "StringLiterals_Any",
	FilterStringLiteral0:     "StringLiteral_0",
	FilterStringLiteral1:     "StringLiteral_1",
}

func (f Filter) String() string {
	if int(f) < len(filterNames) {
		return filterNames[f]
	}
	return "Unknown"
}

// ParseFilter maps a filter name to its identifier.
func ParseFilter(name string) (Filter, bool) {
	for f, n := range filterNames {
		if n == name {
			return Filter(f), true
		}
	}
	return FilterNone, false
}

// parseFilters reads a bracketed, comma separated filter list. Empty entries
// and "None" are skipped.
func parseFilters(text string) ([]Filter, error) {
	var out []Filter
	for _, part := range splitList(text) {
		f, ok := ParseFilter(part)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, part)
		}
		if f != FilterNone {
			out = append(out, f)
		}
	}
	return out, nil
}

// AspectType classifies what an aspect does to taint.
type AspectType int

// Aspect types
const (
	AspectTypeNone AspectType = iota
	AspectTypeSource
	AspectTypeSink
	AspectTypePropagation
)

var aspectTypeNames = []string{
	AspectTypeNone:        "NONE",
	AspectTypeSource:      "SOURCE",
	AspectTypeSink:        "SINK",
	AspectTypePropagation: "PROPAGATION",
}

func (t AspectType) String() string {
	if int(t) < len(aspectTypeNames) {
		return aspectTypeNames[t]
	}
	return "NONE"
}

// ParseAspectType maps a name, case insensitively, to an aspect type. Unknown
// names map to AspectTypeNone.
func ParseAspectType(name string) AspectType {
	for t, n := range aspectTypeNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return AspectType(t)
		}
	}
	return AspectTypeNone
}

// VulnerabilityType names a vulnerability class a sink or security control
// relates to.
type VulnerabilityType int

// Vulnerability types
const (
	VulnerabilityNone VulnerabilityType = iota
	VulnerabilitySQLInjection
	VulnerabilityXSS
	VulnerabilitySSRF
	VulnerabilityArbitrarySocketConnection
	VulnerabilityDependency
	VulnerabilityUntrustedDeserialization
	VulnerabilityInsecureHashing
	VulnerabilityInsecureCipher
	VulnerabilityWeakRandomness
	VulnerabilityUnvalidatedRedirect
	VulnerabilityCmdInjection
	VulnerabilityArbitraryCodeExecution
	VulnerabilityInsecureCookie
	VulnerabilityNoHTTPOnlyCookie
	VulnerabilityPathTraversal
	VulnerabilityReflectionInjection
	VulnerabilityTrustBoundaryViolation
	VulnerabilityHeaderInjection
	VulnerabilityLDAPInjection
	VulnerabilityXPathInjection
	VulnerabilityNoSQLInjection
)

var vulnerabilityNames = []string{
	VulnerabilityNone:                      "NONE",
	VulnerabilitySQLInjection:              "SQL_INJECTION",
	VulnerabilityXSS:                       "XSS",
	VulnerabilitySSRF:                      "SSRF",
	VulnerabilityArbitrarySocketConnection: "ARBITRARY_SOCKET_CONNECTION",
	VulnerabilityDependency:                "DEPENDENCY",
	VulnerabilityUntrustedDeserialization:  "UNTRUSTED_DESERIALIZATION",
	VulnerabilityInsecureHashing:           "INSECURE_HASHING",
	VulnerabilityInsecureCipher:            "INSECURE_CIPHER",
	VulnerabilityWeakRandomness:            "WEAK_RANDOMNESS",
	VulnerabilityUnvalidatedRedirect:       "UNVALIDATED_REDIRECT",
	VulnerabilityCmdInjection:              "CMD_INJECTION",
	VulnerabilityArbitraryCodeExecution:    "ARBITRARY_CODE_EXECUTION",
	VulnerabilityInsecureCookie:            "INSECURE_COOKIE",
	VulnerabilityNoHTTPOnlyCookie:          "NO_HTTP_ONLY_COOKIE",
	VulnerabilityPathTraversal:             "PATH_TRAVERSAL",
	VulnerabilityReflectionInjection:       "REFLECTION_INJECTION",
	VulnerabilityTrustBoundaryViolation:    "TRUST_BOUNDARY_VIOLATION",
	VulnerabilityHeaderInjection:           "HEADER_INJECTION",
	VulnerabilityLDAPInjection:             "LDAP_INJECTION",
	VulnerabilityXPathInjection:            "XPATH_INJECTION",
	VulnerabilityNoSQLInjection:            "NO_SQL_INJECTION",
}

func (v VulnerabilityType) String() string {
	if int(v) < len(vulnerabilityNames) {
		return vulnerabilityNames[v]
	}
	return "NONE"
}

// Mark returns the security mark bit of the vulnerability type.
func (v VulnerabilityType) Mark() uint32 {
	if v == VulnerabilityNone {
		return 0
	}
	return 1 << (uint(v) - 1)
}

// ParseVulnerabilityType maps a name, case insensitively, to a vulnerability
// type. Unknown names map to VulnerabilityNone.
func ParseVulnerabilityType(name string) VulnerabilityType {
	for v, n := range vulnerabilityNames {
		if strings.EqualFold(n, name) {
			return VulnerabilityType(v)
		}
	}
	return VulnerabilityNone
}

// ParseVulnerabilityTypes reads a list separated by any of ",; " and drops
// unknown names. Surrounding brackets are ignored.
func ParseVulnerabilityTypes(text string) []VulnerabilityType {
	text = strings.Trim(strings.TrimSpace(text), "[]\"")
	var out []VulnerabilityType
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	}) {
		if v := ParseVulnerabilityType(part); v != VulnerabilityNone {
			out = append(out, v)
		}
	}
	return out
}

// JoinVulnerabilityTypes renders types as a comma separated list.
func JoinVulnerabilityTypes(types []VulnerabilityType) string {
	names := make([]string, len(types))
	for i, v := range types {
		names[i] = v.String()
	}
	return strings.Join(names, ",")
}

// SecurityMarks combines the mark bits of types.
func SecurityMarks(types []VulnerabilityType) uint32 {
	var marks uint32
	for _, v := range types {
		marks |= v.Mark()
	}
	return marks
}
