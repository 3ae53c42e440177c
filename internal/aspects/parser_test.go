package aspects_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isseis/go-iast-weaver/internal/aspects"
)

const stringAspects = `[AspectClass("mscorlib,netstandard,System.Runtime",[StringOptimization],PROPAGATION,[])] Datadog.Trace.Iast.Aspects.StringAspects
  [AspectMethodReplace("System.String::Concat(System.String,System.String)","",[0],[False],[StringLiterals],DEFAULT,[])] Concat(System.String,System.String)
  [AspectMethodInsertBefore("System.String::Compare(System.String, System.String)","",[0,1],[False],[],SINK,[SQL_INJECTION,XSS])] Before(System.String)
  [AspectMethodInsertAfter("System.Text.StringBuilder::ToString()","System.Text.StringBuilder",[0],[True],[],DEFAULT,DEFAULT)] ToString(System.Object) 0x2
  [AspectMethodInsertAfter("System.Linq.Enumerable::First(System.Collections.Generic.IEnumerable<!!0>)","",[0],[False],[],DEFAULT,[])] First(System.Object)
`

func newParser(t *testing.T, engineVersion string, categories uint32) *aspects.Parser {
	t.Helper()
	p, err := aspects.NewParser("Datadog.Trace", engineVersion, categories)
	require.NoError(t, err)
	return p
}

func TestParse_ClassAndMethods(t *testing.T) {
	rs, err := newParser(t, "", 0).ParseReader(strings.NewReader(stringAspects))
	require.NoError(t, err)
	require.Empty(t, rs.Dropped)
	require.Len(t, rs.Classes, 1)
	require.Len(t, rs.Aspects, 4)

	class := rs.Classes[0]
	assert.Equal(t, 1, class.Line)
	assert.Equal(t, "Datadog.Trace", class.Assembly)
	assert.Equal(t, "Datadog.Trace.Iast.Aspects.StringAspects", class.TypeName)
	assert.Equal(t, []string{"mscorlib", "netstandard", "System.Runtime"}, class.Assemblies)
	assert.Equal(t, []aspects.Filter{aspects.FilterStringOptimization}, class.Filters)
	assert.Equal(t, aspects.AspectTypePropagation, class.Type)
	assert.True(t, class.IsTargetModule("System.Runtime"))
	assert.False(t, class.IsTargetModule("App"))

	concat := rs.Aspects[0]
	assert.Same(t, class, concat.Class)
	assert.Equal(t, aspects.BehaviorMethodReplace, concat.Behavior)
	assert.Equal(t, "System.String", concat.TargetMethodType)
	assert.Equal(t, "Concat", concat.TargetMethodName)
	assert.Equal(t, "(System.String,System.String)", concat.TargetMethodParams)
	assert.Equal(t, []int{0}, concat.ParamShift)
	assert.Equal(t, []bool{false}, concat.BoxParam)
	assert.Equal(t, []aspects.Filter{aspects.FilterStringOptimization, aspects.FilterStringLiterals}, concat.AllFilters())
	assert.Equal(t, aspects.AspectTypePropagation, concat.AspectType())
	assert.Equal(t, "Concat", concat.HelperName)
	assert.Equal(t, "(System.String,System.String)", concat.HelperParams)
	assert.Equal(t, "Datadog.Trace.Iast.Aspects.StringAspects::Concat(System.String,System.String)", concat.HelperFullName())
	assert.False(t, concat.IsVirtual())
	assert.False(t, concat.IsGeneric())

	compare := rs.Aspects[1]
	assert.Equal(t, aspects.BehaviorInsertBefore, compare.Behavior)
	assert.Equal(t, "(System.String,System.String)", compare.TargetMethodParams)
	assert.Equal(t, []int{0, 1}, compare.ParamShift)
	assert.Equal(t, []bool{false, false}, compare.BoxParam)
	assert.Equal(t, aspects.AspectTypeSink, compare.AspectType())
	assert.Equal(t, []aspects.VulnerabilityType{aspects.VulnerabilitySQLInjection, aspects.VulnerabilityXSS}, compare.VulnerabilityTypes())
	assert.True(t, compare.IsEnabled())

	toString := rs.Aspects[2]
	assert.Equal(t, "System.Text.StringBuilder", toString.TargetType)
	assert.False(t, toString.IsVirtual(), "declared type equals target type")
	assert.Equal(t, []bool{true}, toString.BoxParam)
	assert.Equal(t, uint32(2), toString.Mask)

	first := rs.Aspects[3]
	assert.True(t, first.IsGeneric())
	assert.Equal(t, "(System.Collections.Generic.IEnumerable<!!0>)", first.TargetMethodParams)
}

func TestParse_DroppedLines(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{
			name:    "unknown behavior",
			line:    `  [AspectMethodWrap("System.String::Trim()","",[0],[False],[],DEFAULT,[])] Trim(System.String)`,
			wantErr: aspects.ErrUnknownBehavior,
		},
		{
			name:    "missing closing delimiter",
			line:    `  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[] Trim(System.String)`,
			wantErr: aspects.ErrMissingDelimiter,
		},
		{
			name:    "unknown filter",
			line:    `  [AspectMethodReplace("System.String::Trim()","",[0],[False],[NoSuchFilter],DEFAULT,[])] Trim(System.String)`,
			wantErr: aspects.ErrUnknownFilter,
		},
		{
			name:    "bad version gate",
			line:    `  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[]);Vnot-a-version] Trim(System.String)`,
			wantErr: aspects.ErrInvalidVersion,
		},
		{
			name:    "missing helper",
			line:    `  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[])] `,
			wantErr: aspects.ErrMissingHelper,
		},
		{
			name:    "missing target",
			line:    `  [AspectMethodReplace("","",[0],[False],[],DEFAULT,[])] Trim(System.String)`,
			wantErr: aspects.ErrMissingTarget,
		},
		{
			name:    "bad shift",
			line:    `  [AspectMethodReplace("System.String::Trim()","",[x],[False],[],DEFAULT,[])] Trim(System.String)`,
			wantErr: aspects.ErrInvalidShift,
		},
		{
			name:    "bad mask",
			line:    `  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[])] Trim(System.String) zz`,
			wantErr: aspects.ErrInvalidMask,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := strings.Split(strings.TrimRight(stringAspects, "\n"), "\n")
			lines = append(lines[:2], append([]string{tt.line}, lines[2:]...)...)

			rs := newParser(t, "", 0).Parse(lines)
			require.Len(t, rs.Dropped, 1)
			assert.Len(t, rs.Aspects, 4, "remaining rules still load")

			dropped := rs.Dropped[0]
			assert.Equal(t, 3, dropped.Line)
			assert.ErrorIs(t, dropped, tt.wantErr)
			assert.ErrorIs(t, dropped, aspects.ErrRuleParse)
			var pe *aspects.ParseError
			assert.True(t, errors.As(error(dropped), &pe))
		})
	}
}

func TestParse_VersionGate(t *testing.T) {
	lines := []string{
		`[AspectClass("mscorlib",[],PROPAGATION,[])] Helpers`,
		`  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[]);V2.0.0] Trim(System.String)`,
		`  [AspectMethodReplace("System.String::Trim(System.Char[])","",[0],[False],[],DEFAULT,[]);V99.0.0] Trim(System.String,System.Char[])`,
		`[AspectClass("System.Web",[],SOURCE,[]);V99.0.0] FutureHelpers`,
		`  [AspectMethodInsertAfter("System.Web.HttpRequest::get_QueryString()","",[0],[False],[],DEFAULT,[])] Source(System.Object)`,
	}

	tests := []struct {
		name        string
		version     string
		wantClasses int
		wantAspects int
		wantSkipped int
	}{
		{name: "old engine skips gated lines", version: "2.1.0", wantClasses: 1, wantAspects: 1, wantSkipped: 3},
		{name: "older engine skips everything gated", version: "1.0.0", wantClasses: 1, wantAspects: 0, wantSkipped: 4},
		{name: "no engine version accepts all", version: "", wantClasses: 2, wantAspects: 3, wantSkipped: 0},
		{name: "new engine accepts all", version: "99.0.0", wantClasses: 2, wantAspects: 3, wantSkipped: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := newParser(t, tt.version, 0).Parse(lines)
			assert.Empty(t, rs.Dropped)
			assert.Len(t, rs.Classes, tt.wantClasses)
			assert.Len(t, rs.Aspects, tt.wantAspects)
			assert.Equal(t, tt.wantSkipped, rs.Skipped)
		})
	}
}

func TestParse_CategoryMask(t *testing.T) {
	lines := []string{
		`[AspectClass("mscorlib",[],PROPAGATION,[])] Helpers 0x1`,
		`  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[])] Trim(System.String) 2`,
		`  [AspectMethodReplace("System.String::ToUpper()","",[0],[False],[],DEFAULT,[])] ToUpper(System.String)`,
		`[AspectClass("System.Web",[],SOURCE,[])] WebHelpers 0x2`,
		`  [AspectMethodInsertAfter("System.Web.HttpRequest::get_QueryString()","",[0],[False],[],DEFAULT,[])] Source(System.Object)`,
	}
	rs := newParser(t, "", 0x1).Parse(lines)
	require.Len(t, rs.Aspects, 1)
	assert.Equal(t, "ToUpper", rs.Aspects[0].TargetMethodName)
	assert.Equal(t, 3, rs.Skipped)
}

func TestParse_OrphanAspect(t *testing.T) {
	rs := newParser(t, "", 0).Parse([]string{
		`  [AspectMethodReplace("System.String::Trim()","",[0],[False],[],DEFAULT,[])] Trim(System.String)`,
		`# comment`,
		``,
	})
	require.Len(t, rs.Dropped, 1)
	assert.ErrorIs(t, rs.Dropped[0], aspects.ErrOrphanAspect)
}

func TestParse_DeterministicOrder(t *testing.T) {
	p := newParser(t, "", 0)
	first, err := p.ParseReader(strings.NewReader(stringAspects))
	require.NoError(t, err)
	second, err := p.ParseReader(strings.NewReader(stringAspects))
	require.NoError(t, err)
	require.Len(t, second.Aspects, len(first.Aspects))
	for i := range first.Aspects {
		assert.Equal(t, first.Aspects[i].Line, second.Aspects[i].Line)
	}
}

func TestNewParser_InvalidVersion(t *testing.T) {
	_, err := aspects.NewParser("Datadog.Trace", "bogus", 0)
	assert.Error(t, err)
}

func TestSplitParams(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "quoted and bracketed",
			in:   `"mscorlib,netstandard",[StringOptimization],PROPAGATION,[]`,
			want: []string{"mscorlib,netstandard", "StringOptimization", "PROPAGATION", ""},
		},
		{
			name: "parenthesized target",
			in:   `"System.String::Concat(System.String,System.String)","",[0,1],[False,True]`,
			want: []string{"System.String::Concat(System.String,System.String)", "", "0,1", "False,True"},
		},
		{
			name: "bare values",
			in:   `a, b ,c`,
			want: []string{"a", "b", "c"},
		},
		{
			name: "unterminated quote",
			in:   `"abc`,
			want: []string{"abc"},
		},
		{
			name: "empty",
			in:   ``,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aspects.SplitParams(tt.in))
		})
	}
}

func TestSplitType(t *testing.T) {
	tests := []struct {
		in                                string
		assemblies, typeName, method, par string
	}{
		{in: "mscorlib,System.Runtime|System.String::Concat(System.String)", assemblies: "mscorlib,System.Runtime", typeName: "System.String", method: "Concat", par: "(System.String)"},
		{in: "System.String::Trim()", typeName: "System.String", method: "Trim", par: "()"},
		{in: "System.Text.StringBuilder", typeName: "System.Text.StringBuilder"},
		{in: "System.Web|System.Web.HttpRequest", assemblies: "System.Web", typeName: "System.Web.HttpRequest"},
		{in: "T::M", typeName: "T", method: "M"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assemblies, typeName, method, params := aspects.SplitType(tt.in)
			assert.Equal(t, tt.assemblies, assemblies)
			assert.Equal(t, tt.typeName, typeName)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.par, params)
		})
	}
}
