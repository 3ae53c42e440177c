package hosttesting

import (
	"github.com/isseis/go-iast-weaver/internal/cil"
	"github.com/isseis/go-iast-weaver/internal/host"
	"github.com/isseis/go-iast-weaver/internal/metadata"
)

// Identity of the fixture modules
const (
	AppModuleID    metadata.ModuleID    = 1
	HelperModuleID metadata.ModuleID    = 2
	AppDomain      metadata.AppDomainID = 1
)

// Assembly and type names of the fixture modules
const (
	AppAssembly    = "App"
	HelperAssembly = "Datadog.Trace"
	HelperType     = "Datadog.Trace.Iast.Aspects.StringAspects"
)

// Tokens of the application fixture module
const (
	RuntimeRef    cil.Token = 0x23000001
	StringRef     cil.Token = 0x01000001
	ObjectRef     cil.Token = 0x01000002
	ProgramType   cil.Token = 0x02000002
	NestedType    cil.Token = 0x02000003
	ConcatRef     cil.Token = 0x0a000001
	CompareRef    cil.Token = 0x0a000002
	ToUpperRef    cil.Token = 0x0a000003
	LiteralA      cil.Token = 0x70000001
	LiteralB      cil.Token = 0x70000002
	RunMethod     cil.Token = 0x06000001
	CompareMethod cil.Token = 0x06000002
	EchoMethod    cil.Token = 0x06000003
	UpperMethod   cil.Token = 0x06000004
)

// Tokens of the helper fixture module
const (
	HelperTypeDef cil.Token = 0x02000001
	BeforeHelper  cil.Token = 0x06000001
	ConcatHelper  cil.Token = 0x06000002
	AfterHelper   cil.Token = 0x06000003
)

// Signature blobs
var (
	// string (string, string)
	ConcatSig = host.Blob{0x00, 0x02, 0x0e, 0x0e, 0x0e}

	// int32 (string, string)
	CompareSig = host.Blob{0x00, 0x02, 0x08, 0x0e, 0x0e}

	// instance string ()
	ToUpperSig = host.Blob{0x20, 0x00, 0x0e}

	// string ()
	StringResultSig = host.Blob{0x00, 0x00, 0x0e}

	// int32 ()
	IntResultSig = host.Blob{0x00, 0x00, 0x08}

	// string (string)
	StringFilterSig = host.Blob{0x00, 0x01, 0x0e, 0x0e}
)

// Method bodies of the application fixture
var (
	// ldstr "a"; ldstr "b"; call String::Concat; ret
	RunBody = host.Blob{0x42, 0x72, 0x01, 0x00, 0x00, 0x70, 0x72, 0x02, 0x00, 0x00, 0x70, 0x28, 0x01, 0x00, 0x00, 0x0a, 0x2a}

	// ldstr "a"; ldstr "b"; call String::Compare; ret
	CompareBody = host.Blob{0x42, 0x72, 0x01, 0x00, 0x00, 0x70, 0x72, 0x02, 0x00, 0x00, 0x70, 0x28, 0x02, 0x00, 0x00, 0x0a, 0x2a}

	// ldarg.0; ldstr "b"; call String::Concat; ret
	EchoBody = host.Blob{0x32, 0x02, 0x72, 0x02, 0x00, 0x00, 0x70, 0x28, 0x01, 0x00, 0x00, 0x0a, 0x2a}

	// ldstr "a"; callvirt String::ToUpper; ldstr "b"; call String::Concat; ret
	UpperBody = host.Blob{0x56, 0x72, 0x01, 0x00, 0x00, 0x70, 0x6f, 0x03, 0x00, 0x00, 0x0a, 0x72, 0x02, 0x00, 0x00, 0x70, 0x28, 0x01, 0x00, 0x00, 0x0a, 0x2a}
)

// NewImage returns an application module calling String.Concat and
// String.Compare, and a helper module defining string aspects, both loaded
// into the same app domain.
func NewImage() *host.Image {
	app := &host.ModuleImage{
		ID:        AppModuleID,
		Name:      "App.dll",
		Assembly:  AppAssembly,
		AppDomain: AppDomain,
		AssemblyRefs: []host.AssemblyRefRow{
			{Token: RuntimeRef, Name: "System.Runtime"},
		},
		TypeRefs: []host.TypeRefRow{
			{Token: StringRef, Name: "System.String", Scope: RuntimeRef},
			{Token: ObjectRef, Name: "System.Object", Scope: RuntimeRef},
		},
		TypeDefs: []host.TypeDefRow{
			{Token: 0x02000001, Name: "<Module>"},
			{Token: ProgramType, Name: "App.Program", Extends: ObjectRef},
			{Token: NestedType, Name: "Nested", Extends: ObjectRef, Enclosing: ProgramType},
		},
		MemberRefs: []host.MemberRefRow{
			{Token: ConcatRef, Name: "Concat", Parent: StringRef, Signature: ConcatSig},
			{Token: CompareRef, Name: "Compare", Parent: StringRef, Signature: CompareSig},
			{Token: ToUpperRef, Name: "ToUpper", Parent: StringRef, Signature: ToUpperSig},
		},
		UserStrings: []host.UserStringRow{
			{Token: LiteralA, Value: "a"},
			{Token: LiteralB, Value: "b"},
		},
		Methods: []host.MethodRow{
			{Token: RunMethod, Name: "Run", Owner: ProgramType, Signature: StringResultSig, Body: RunBody},
			{Token: CompareMethod, Name: "Compare", Owner: ProgramType, Signature: IntResultSig, Body: CompareBody},
			{Token: EchoMethod, Name: "Echo", Owner: ProgramType, Signature: StringFilterSig, Body: EchoBody},
			{Token: UpperMethod, Name: "Upper", Owner: ProgramType, Signature: StringResultSig, Body: UpperBody},
		},
	}
	helper := &host.ModuleImage{
		ID:        HelperModuleID,
		Name:      "Datadog.Trace.dll",
		Assembly:  HelperAssembly,
		AppDomain: AppDomain,
		AssemblyRefs: []host.AssemblyRefRow{
			{Token: 0x23000001, Name: "System.Runtime"},
		},
		TypeRefs: []host.TypeRefRow{
			{Token: 0x01000001, Name: "System.Object", Scope: 0x23000001},
		},
		TypeDefs: []host.TypeDefRow{
			{Token: HelperTypeDef, Name: HelperType, Extends: 0x01000001},
		},
		Methods: []host.MethodRow{
			{Token: BeforeHelper, Name: "Before", Owner: HelperTypeDef, Signature: StringFilterSig},
			{Token: ConcatHelper, Name: "Concat", Owner: HelperTypeDef, Signature: ConcatSig},
			{Token: AfterHelper, Name: "After", Owner: HelperTypeDef, Signature: StringFilterSig},
		},
	}
	return &host.Image{Modules: []*host.ModuleImage{app, helper}}
}
