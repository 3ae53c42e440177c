package aspects

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

const (
	classPrefix  = "[AspectClass("
	aspectPrefix = "[Aspect"
	versionGate  = ");V"
	attrClose    = ")]"
	defaultValue = "DEFAULT"
)

// RuleSet is the outcome of parsing one or more rule sources.
type RuleSet struct {
	Classes []*Class
	// Aspects keeps source order, which is also match priority.
	Aspects []*Aspect
	// Dropped lists malformed lines.
	Dropped []*ParseError
	// Skipped counts well formed lines disabled by a version gate or mask.
	Skipped int
}

// Merge appends other's rules after rs's.
func (rs *RuleSet) Merge(other *RuleSet) {
	rs.Classes = append(rs.Classes, other.Classes...)
	rs.Aspects = append(rs.Aspects, other.Aspects...)
	rs.Dropped = append(rs.Dropped, other.Dropped...)
	rs.Skipped += other.Skipped
}

// Parser reads rule lines for one engine configuration.
type Parser struct {
	// HelperAssembly defines every helper type.
	HelperAssembly string
	// EngineVersion gates ";V" lines. Nil accepts every line.
	EngineVersion *version.Version
	// Categories selects lines by their trailing mask. Zero accepts every line.
	Categories uint32
}

// NewParser returns a parser. An empty engineVersion disables version gates.
func NewParser(helperAssembly, engineVersion string, categories uint32) (*Parser, error) {
	p := &Parser{HelperAssembly: helperAssembly, Categories: categories}
	if engineVersion != "" {
		v, err := version.NewVersion(engineVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid engine version %q: %w", engineVersion, err)
		}
		p.EngineVersion = v
	}
	return p, nil
}

// ParseReader parses rule lines read from r.
func (p *Parser) ParseReader(r io.Reader) (*RuleSet, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read aspect rules: %w", err)
	}
	return p.Parse(lines), nil
}

// Parse reads class and method lines. Malformed lines are dropped and
// recorded; lines disabled by a version gate or mask are counted as skipped,
// and so are the method lines of a skipped class. Other lines are ignored.
func (p *Parser) Parse(lines []string) *RuleSet {
	rs := &RuleSet{}
	var class *Class
	classSkipped := false

	for i, raw := range lines {
		n := i + 1
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, classPrefix):
			c, err := p.parseClass(trimmed)
			if err != nil {
				rs.drop(n, line, err)
				class, classSkipped = nil, true
				continue
			}
			c.Line, c.Text = n, line
			if !p.enabled(c.MinVersion, c.Mask) {
				slog.Debug("Skipping disabled aspect class",
					slog.Int("line", n),
					slog.String("type", c.TypeName))
				rs.Skipped++
				class, classSkipped = nil, true
				continue
			}
			class, classSkipped = c, false
			rs.Classes = append(rs.Classes, c)

		case strings.HasPrefix(trimmed, aspectPrefix):
			if class == nil {
				if classSkipped {
					rs.Skipped++
				} else {
					rs.drop(n, line, ErrOrphanAspect)
				}
				continue
			}
			a, err := p.parseAspect(trimmed)
			if err != nil {
				rs.drop(n, line, err)
				continue
			}
			a.Class, a.Line, a.Text = class, n, line
			if !p.enabled(a.MinVersion, a.Mask) {
				slog.Debug("Skipping disabled aspect",
					slog.Int("line", n),
					slog.String("target", a.TargetFullName()))
				rs.Skipped++
				continue
			}
			rs.Aspects = append(rs.Aspects, a)
		}
	}

	slog.Info("Aspect rules loaded",
		slog.Int("classes", len(rs.Classes)),
		slog.Int("aspects", len(rs.Aspects)),
		slog.Int("dropped", len(rs.Dropped)),
		slog.Int("skipped", rs.Skipped))
	return rs
}

func (rs *RuleSet) drop(n int, line string, err error) {
	pe := &ParseError{Line: n, Text: line, Err: err}
	slog.Warn("Dropping aspect rule",
		slog.Int("line", n),
		slog.String("error", err.Error()))
	rs.Dropped = append(rs.Dropped, pe)
}

func (p *Parser) enabled(minVersion *version.Version, mask uint32) bool {
	if p.EngineVersion != nil && minVersion != nil && minVersion.GreaterThan(p.EngineVersion) {
		return false
	}
	return mask == 0 || p.Categories == 0 || mask&p.Categories != 0
}

// attribute is one "[Name(params);Vx] rest" line split into its pieces.
type attribute struct {
	name    string
	params  []string
	version *version.Version
	rest    string
}

func parseAttribute(line string) (*attribute, error) {
	if !strings.HasPrefix(line, "[") {
		return nil, fmt.Errorf("%w: '['", ErrMissingDelimiter)
	}
	open := strings.IndexByte(line, '(')
	if open < 0 {
		return nil, fmt.Errorf("%w: '('", ErrMissingDelimiter)
	}
	attr := &attribute{name: strings.TrimSpace(line[1:open])}

	closeAt := strings.Index(line, attrClose)
	gateAt := strings.Index(line, versionGate)
	switch {
	case gateAt >= 0 && (closeAt < 0 || gateAt < closeAt):
		end := strings.IndexByte(line[gateAt:], ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: ']'", ErrMissingDelimiter)
		}
		gate := strings.TrimSpace(line[gateAt+len(versionGate) : gateAt+end])
		v, err := version.NewVersion(gate)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, gate)
		}
		attr.version = v
		attr.params = SplitParams(line[open+1 : gateAt])
		attr.rest = strings.TrimSpace(line[gateAt+end+1:])
	case closeAt >= 0:
		attr.params = SplitParams(line[open+1 : closeAt])
		attr.rest = strings.TrimSpace(line[closeAt+len(attrClose):])
	default:
		return nil, fmt.Errorf("%w: ')]'", ErrMissingDelimiter)
	}
	return attr, nil
}

func (a *attribute) param(i int) (string, bool) {
	if i >= len(a.params) {
		return "", false
	}
	return strings.TrimSpace(a.params[i]), true
}

func (p *Parser) parseClass(line string) (*Class, error) {
	attr, err := parseAttribute(line)
	if err != nil {
		return nil, err
	}
	c := &Class{Assembly: p.HelperAssembly, MinVersion: attr.version}

	if v, ok := attr.param(0); ok {
		c.Assemblies = splitList(v)
	}
	if v, ok := attr.param(1); ok {
		if c.Filters, err = parseFilters(v); err != nil {
			return nil, err
		}
	}
	if v, ok := attr.param(2); ok && v != defaultValue {
		c.Type = ParseAspectType(strings.Trim(v, "\""))
	}
	if v, ok := attr.param(3); ok && v != defaultValue {
		c.Vulnerabilities = ParseVulnerabilityTypes(v)
	}

	fields := strings.Fields(attr.rest)
	if len(fields) == 0 {
		return nil, ErrMissingHelper
	}
	c.TypeName = fields[0]
	if len(fields) > 1 {
		if c.Mask, err = parseMask(fields[1]); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (p *Parser) parseAspect(line string) (*Aspect, error) {
	attr, err := parseAttribute(line)
	if err != nil {
		return nil, err
	}
	a := &Aspect{Behavior: ParseBehavior(attr.name), MinVersion: attr.version}
	if a.Behavior == BehaviorUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBehavior, attr.name)
	}

	if v, ok := attr.param(0); ok {
		var assemblies string
		a.TargetMethod = v
		assemblies, a.TargetMethodType, a.TargetMethodName, a.TargetMethodParams = SplitType(v)
		a.TargetMethodAssemblies = splitList(assemblies)
		a.TargetMethodParams = strings.ReplaceAll(a.TargetMethodParams, " ", "")
	}
	if a.TargetMethodType == "" || a.TargetMethodName == "" {
		return nil, ErrMissingTarget
	}
	if v, ok := attr.param(1); ok {
		var assemblies string
		assemblies, a.TargetType, _, _ = SplitType(v)
		a.TargetTypeAssemblies = splitList(assemblies)
	}
	if v, ok := attr.param(2); ok {
		if a.ParamShift, err = parseInts(v); err != nil {
			return nil, err
		}
	}
	if len(a.ParamShift) == 0 {
		a.ParamShift = []int{0}
	}
	if v, ok := attr.param(3); ok {
		a.BoxParam = parseBools(v)
	}
	for len(a.BoxParam) < len(a.ParamShift) {
		a.BoxParam = append(a.BoxParam, false)
	}
	if v, ok := attr.param(4); ok {
		if a.Filters, err = parseFilters(v); err != nil {
			return nil, err
		}
	}
	if v, ok := attr.param(5); ok && v != defaultValue {
		a.Type = ParseAspectType(strings.Trim(v, "\""))
	}
	if v, ok := attr.param(6); ok && v != defaultValue {
		a.Vulnerabilities = ParseVulnerabilityTypes(v)
	}

	open := strings.IndexByte(attr.rest, '(')
	end := strings.IndexByte(attr.rest, ')')
	if open <= 0 || end < open {
		return nil, ErrMissingHelper
	}
	a.HelperName = strings.TrimSpace(attr.rest[:open])
	a.HelperParams = strings.ReplaceAll(attr.rest[open:end+1], " ", "")
	if mask := strings.TrimSpace(attr.rest[end+1:]); mask != "" {
		if a.Mask, err = parseMask(mask); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// SplitParams splits an attribute argument list on top level commas. An
// argument opened by a quote, '[', '(' or '<' runs to the matching closer and
// is returned without its delimiters.
func SplitParams(s string) []string {
	var parts []string
	for i := 0; i < len(s); {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i == len(s) {
			break
		}
		closer, quoted := paramClosers[s[i]]
		if !quoted {
			j := strings.IndexByte(s[i:], ',')
			if j < 0 {
				parts = append(parts, strings.TrimSpace(s[i:]))
				break
			}
			parts = append(parts, strings.TrimSpace(s[i:i+j]))
			i += j + 1
			continue
		}
		j := strings.IndexByte(s[i+1:], closer)
		if j < 0 {
			parts = append(parts, s[i+1:])
			break
		}
		parts = append(parts, s[i+1:i+1+j])
		i += j + 2
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i < len(s) && s[i] == ',' {
			i++
		}
	}
	return parts
}

var paramClosers = map[byte]byte{
	'"': '"',
	'[': ']',
	'(': ')',
	'<': '>',
}

// SplitType splits "asm1,asm2|Namespace.Type::Method(params)" into its
// parts. Without "::" the whole text after the assemblies is the type.
func SplitType(subject string) (assemblies, typeName, method, params string) {
	rest := subject
	if i := strings.IndexByte(rest, '|'); i >= 0 {
		assemblies = strings.TrimSpace(rest[:i])
		rest = rest[i+1:]
	}
	sep := strings.Index(rest, "::")
	if sep < 0 {
		return assemblies, strings.TrimSpace(rest), "", ""
	}
	typeName = strings.TrimSpace(rest[:sep])
	rest = rest[sep+2:]
	if i := strings.IndexByte(rest, '('); i >= 0 {
		method = strings.TrimSpace(rest[:i])
		params = strings.TrimSpace(rest[i:])
	} else {
		method = strings.TrimSpace(rest)
	}
	return assemblies, typeName, method, params
}

// splitList reads "a,b", "[a,b]" or "\"a,b\"" into its non empty entries.
func splitList(text string) []string {
	text = strings.Trim(strings.TrimSpace(text), "[]\"")
	var out []string
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInts(text string) ([]int, error) {
	var out []int
	for _, part := range splitList(text) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidShift, part)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseBools treats "0", "false" in any case and "" as false and anything
// else as true.
func parseBools(text string) []bool {
	var out []bool
	for _, part := range splitList(text) {
		out = append(out, part != "0" && !strings.EqualFold(part, "false"))
	}
	return out
}

func parseMask(text string) (uint32, error) {
	v, err := strconv.ParseUint(text, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMask, text)
	}
	return uint32(v), nil
}
