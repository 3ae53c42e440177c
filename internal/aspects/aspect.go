// Package aspects parses the aspect rule set: the line oriented text that
// declares which call sites get a helper call woven around them.
//
// A class line opens a block of method rules bound to one helper type:
//
//	[AspectClass("mscorlib,System.Runtime",[StringOptimization],PROPAGATION,[])] Datadog.Trace.Iast.Aspects.StringAspects
//	  [AspectMethodReplace("System.String::Concat(System.String,System.String)","",[0],[False],[StringLiterals],PROPAGATION,[])] Concat(System.String,System.String)
//
// Either attribute may carry a minimum engine version gate, written
// ";V1.2.0" after the closing parenthesis, and either line may end with a
// category mask.
package aspects

import (
	"slices"
	"strings"

	"github.com/hashicorp/go-version"
)

// Class is a helper type and the defaults its method rules inherit.
type Class struct {
	// Line is the 1-based source line, 0 for synthesized classes.
	Line int
	Text string

	// Assembly is the assembly that defines the helper type.
	Assembly string
	// TypeName is the full name of the helper type.
	TypeName string

	// Assemblies lists the target assemblies of the block.
	Assemblies      []string
	Filters         []Filter
	Type            AspectType
	Vulnerabilities []VulnerabilityType

	MinVersion *version.Version
	Mask       uint32
}

// IsTargetModule reports whether the block applies to calls made from the
// named assembly.
func (c *Class) IsTargetModule(assembly string) bool {
	return slices.Contains(c.Assemblies, assembly)
}

// Aspect binds a target method pattern to a helper method and a behavior.
type Aspect struct {
	Class *Class
	// Line is the 1-based source line, 0 for synthesized aspects.
	Line int
	Text string

	Behavior Behavior

	// TargetMethod is the target as written, e.g.
	// "mscorlib|System.String::Concat(System.String,System.String)".
	TargetMethod           string
	TargetMethodAssemblies []string
	TargetMethodType       string
	TargetMethodName       string
	// TargetMethodParams is the canonical parameter list, parentheses included.
	TargetMethodParams string

	// TargetType is the receiver type a virtual aspect requires.
	TargetType           string
	TargetTypeAssemblies []string

	// ParamShift lists, per helper application, how many effective
	// parameters back from the last one the helper operates on.
	ParamShift []int
	// BoxParam parallels ParamShift and marks value type operands that are
	// boxed for the helper and unboxed afterwards.
	BoxParam []bool

	Filters         []Filter
	Type            AspectType
	Vulnerabilities []VulnerabilityType

	HelperName   string
	HelperParams string

	// SecurityMarks is pushed as an extra int32 argument of the helper when
	// HasSecurityMarks is set.
	SecurityMarks    uint32
	HasSecurityMarks bool

	MinVersion *version.Version
	Mask       uint32
}

// IsVirtual reports whether the aspect only applies when the receiver's
// static type is TargetType.
func (a *Aspect) IsVirtual() bool {
	return a.TargetType != "" && a.TargetMethodType != a.TargetType
}

// IsGeneric reports whether the target is a generic method instantiation.
func (a *Aspect) IsGeneric() bool {
	return strings.Contains(a.TargetMethod, "!!")
}

// IsTargetModule reports whether the aspect applies to calls made from the
// named assembly, either through its own assembly list or its class.
func (a *Aspect) IsTargetModule(assembly string) bool {
	if slices.Contains(a.TargetMethodAssemblies, assembly) {
		return true
	}
	return a.Class != nil && a.Class.IsTargetModule(assembly)
}

// AspectType returns the aspect's own type, falling back to the class type.
func (a *Aspect) AspectType() AspectType {
	if a.Type != AspectTypeNone || a.Class == nil {
		return a.Type
	}
	return a.Class.Type
}

// VulnerabilityTypes returns the aspect's own vulnerability types, falling
// back to the class list.
func (a *Aspect) VulnerabilityTypes() []VulnerabilityType {
	if len(a.Vulnerabilities) > 0 || a.Class == nil {
		return a.Vulnerabilities
	}
	return a.Class.Vulnerabilities
}

// AllFilters returns the class filters followed by the aspect's own.
func (a *Aspect) AllFilters() []Filter {
	var out []Filter
	if a.Class != nil {
		out = append(out, a.Class.Filters...)
	}
	return append(out, a.Filters...)
}

// IsEnabled reports whether the aspect is woven at all. Sinks without a
// vulnerability type have nothing to report.
func (a *Aspect) IsEnabled() bool {
	return a.AspectType() != AspectTypeSink || len(a.VulnerabilityTypes()) > 0
}

// HelperFullName renders the helper as "Type::Method(params)".
func (a *Aspect) HelperFullName() string {
	typeName := ""
	if a.Class != nil {
		typeName = a.Class.TypeName
	}
	return typeName + "::" + a.HelperName + a.HelperParams
}

// TargetFullName renders the target as "Type::Method(params)".
func (a *Aspect) TargetFullName() string {
	return a.TargetMethodType + "::" + a.TargetMethodName + a.TargetMethodParams
}

func (a *Aspect) String() string {
	if a.Text != "" {
		return a.Text
	}
	return "[Aspect" + a.Behavior.String() + "] " + a.TargetFullName() + " -> " + a.HelperFullName()
}
