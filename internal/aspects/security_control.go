package aspects

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/isseis/go-iast-weaver/internal/cil/sig"
)

// Security control helper
const (
	SecurityControlHelperType   = "Datadog.Trace.Iast.SecurityControls.SecurityControlHelper"
	SecurityControlHelperMethod = "MarkAsSecure"
	SecurityControlHelperParams = "(System.String,System.Int32)"
)

// SecurityControlKind says what a security control vouches for.
type SecurityControlKind int

// Security control kinds
const (
	SecurityControlUnknown SecurityControlKind = iota
	// SecurityControlInputValidator marks the validated arguments secure.
	SecurityControlInputValidator
	// SecurityControlSanitizer marks the returned value secure.
	SecurityControlSanitizer
)

func (k SecurityControlKind) String() string {
	switch k {
	case SecurityControlInputValidator:
		return "INPUT_VALIDATOR"
	case SecurityControlSanitizer:
		return "SANITIZER"
	default:
		return "UNKNOWN"
	}
}

// ParseSecurityControlKind maps a kind name, case insensitively.
func ParseSecurityControlKind(name string) SecurityControlKind {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INPUT_VALIDATOR":
		return SecurityControlInputValidator
	case "SANITIZER":
		return SecurityControlSanitizer
	default:
		return SecurityControlUnknown
	}
}

// SecurityControl is a user declared validator or sanitizer method.
type SecurityControl struct {
	Text            string
	Kind            SecurityControlKind
	Vulnerabilities []VulnerabilityType
	Assembly        string
	Type            string
	Method          string
	// Params is the canonical parameter list, parentheses included.
	Params string
	// Indexes lists the validated parameters, first parameter 0. Empty means
	// every parameter.
	Indexes []int
}

// ParseSecurityControl reads one "KIND:VULNS:ASSEMBLY:TYPE:METHOD(PARAMS)[:INDEXES]"
// entry. VULNS and INDEXES are comma separated.
func ParseSecurityControl(text string) (*SecurityControl, error) {
	text = strings.TrimSpace(text)
	fields := strings.Split(text, ":")
	if len(fields) < 5 || len(fields) > 6 {
		return nil, fmt.Errorf("%w: expected 5 or 6 fields, got %d", ErrInvalidSecurityControl, len(fields))
	}
	sc := &SecurityControl{
		Text:            text,
		Kind:            ParseSecurityControlKind(fields[0]),
		Vulnerabilities: ParseVulnerabilityTypes(fields[1]),
		Assembly:        strings.TrimSpace(fields[2]),
		Type:            strings.TrimSpace(fields[3]),
	}
	if sc.Kind == SecurityControlUnknown {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSecurityControl, fields[0])
	}
	if len(sc.Vulnerabilities) == 0 {
		return nil, fmt.Errorf("%w: no vulnerability types", ErrInvalidSecurityControl)
	}
	if sc.Assembly == "" || sc.Type == "" {
		return nil, fmt.Errorf("%w: missing assembly or type", ErrInvalidSecurityControl)
	}

	method := strings.ReplaceAll(fields[4], " ", "")
	open := strings.IndexByte(method, '(')
	if open <= 0 || !strings.HasSuffix(method, ")") {
		return nil, fmt.Errorf("%w: malformed method %q", ErrInvalidSecurityControl, fields[4])
	}
	sc.Method, sc.Params = method[:open], method[open:]

	count := len(sig.SplitTypeList(sc.Params))
	if len(fields) == 6 {
		for _, part := range splitList(fields[5]) {
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= count {
				return nil, fmt.Errorf("%w: parameter index %q out of range", ErrInvalidSecurityControl, part)
			}
			sc.Indexes = append(sc.Indexes, idx)
		}
	}
	if sc.Kind == SecurityControlInputValidator && count == 0 {
		return nil, fmt.Errorf("%w: validator without parameters", ErrInvalidSecurityControl)
	}
	return sc, nil
}

// ParamShift converts the validated parameter indexes into shifts counted
// back from the last parameter, the order in which arguments sit on the
// stack. Sanitizers act on the returned value only.
func (sc *SecurityControl) ParamShift() []int {
	if sc.Kind == SecurityControlSanitizer {
		return []int{0}
	}
	count := len(sig.SplitTypeList(sc.Params))
	indexes := sc.Indexes
	if len(indexes) == 0 {
		for i := 0; i < count; i++ {
			indexes = append(indexes, i)
		}
	}
	shifts := make([]int, len(indexes))
	for i, idx := range indexes {
		shifts[i] = count - 1 - idx
	}
	return shifts
}

// ParseSecurityControls reads ';' separated security control entries into
// aspects bound to the MarkAsSecure helper. Validators insert the helper
// before the call, sanitizers after it.
func (p *Parser) ParseSecurityControls(text string) *RuleSet {
	rs := &RuleSet{}
	class := &Class{
		Assembly: p.HelperAssembly,
		TypeName: SecurityControlHelperType,
		Type:     AspectTypeNone,
	}
	for _, entry := range strings.Split(text, ";") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		sc, err := ParseSecurityControl(entry)
		if err != nil {
			rs.drop(0, entry, err)
			continue
		}
		rs.Aspects = append(rs.Aspects, sc.aspect(class))
	}
	if len(rs.Aspects) > 0 {
		rs.Classes = append(rs.Classes, class)
	}
	return rs
}

func (sc *SecurityControl) aspect(class *Class) *Aspect {
	behavior := BehaviorInsertAfter
	if sc.Kind == SecurityControlInputValidator {
		behavior = BehaviorInsertBefore
	}
	shifts := sc.ParamShift()
	return &Aspect{
		Class:                  class,
		Text:                   sc.Text,
		Behavior:               behavior,
		TargetMethod:           sc.Assembly + "|" + sc.Type + "::" + sc.Method + sc.Params,
		TargetMethodAssemblies: []string{sc.Assembly},
		TargetMethodType:       sc.Type,
		TargetMethodName:       sc.Method,
		TargetMethodParams:     sc.Params,
		ParamShift:             shifts,
		BoxParam:               make([]bool, len(shifts)),
		Type:                   AspectTypeNone,
		Vulnerabilities:        sc.Vulnerabilities,
		HelperName:             SecurityControlHelperMethod,
		HelperParams:           SecurityControlHelperParams,
		SecurityMarks:          SecurityMarks(sc.Vulnerabilities),
		HasSecurityMarks:       true,
	}
}
