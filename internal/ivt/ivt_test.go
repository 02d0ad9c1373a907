package ivt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"binarycompat/internal/assembly"
	"binarycompat/internal/clr"
	"binarycompat/internal/identity"
	"binarycompat/internal/ivt"
)

// fakeModule is a minimal clr.Module double so the analyzer's logic can be
// exercised without a real PE fixture.
type fakeModule struct {
	typeDefs []*clr.TypeDef
	friends  []clr.Friend
}

func (m *fakeModule) AssemblyRefs() []clr.AssemblyRef               { return nil }
func (m *fakeModule) TypeDefs() []*clr.TypeDef                      { return m.typeDefs }
func (m *fakeModule) TypeRefs() []*clr.TypeRef                      { return nil }
func (m *fakeModule) MemberRefs() []*clr.MemberRef                  { return nil }
func (m *fakeModule) CustomAttributes() []clr.CustomAttribute       { return nil }
func (m *fakeModule) TypeCustomAttributes() []clr.TypeAttributeEntry { return nil }
func (m *fakeModule) ExportedTypes() []clr.ExportedType             { return nil }
func (m *fakeModule) InternalsVisibleTo() []clr.Friend              { return m.friends }

func def(short string, mod clr.Module) *assembly.Def {
	return &assembly.Def{ID: identity.AssemblyID{ShortName: short}, Path: short + ".dll", Mod: mod}
}

func TestCheckMemberRecordsUsageForInternalFriendMember(t *testing.T) {
	declaring := def("DepLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{
			Namespace: "MyApp", Name: "Foo", Flags: 0x1, // public type
			Methods: []clr.MethodDef{{Name: "Secret", Flags: 0x1}}, // private method
		}},
		friends: []clr.Friend{{ShortName: "App"}},
	})
	consumer := def("App", &fakeModule{})

	a := ivt.New(true)
	a.CheckMember(consumer, declaring, &clr.MemberRef{
		Owner: &clr.TypeRef{Namespace: "MyApp", Name: "Foo"},
		Name:  "Secret",
	})

	usages := a.Sorted()
	require.Len(t, usages, 1)
	assert.Equal(t, "DepLib", usages[0].Exposer)
	assert.Equal(t, "App", usages[0].Consumer)
	assert.Equal(t, "MyApp.Foo.Secret", usages[0].Member)
}

func TestCheckMemberSkipsNonFriendConsumer(t *testing.T) {
	declaring := def("DepLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{
			Namespace: "MyApp", Name: "Foo", Flags: 0x1,
			Methods: []clr.MethodDef{{Name: "Secret", Flags: 0x1}},
		}},
		friends: []clr.Friend{{ShortName: "Trusted"}},
	})
	consumer := def("Untrusted", &fakeModule{})

	a := ivt.New(true)
	a.CheckMember(consumer, declaring, &clr.MemberRef{
		Owner: &clr.TypeRef{Namespace: "MyApp", Name: "Foo"},
		Name:  "Secret",
	})

	assert.Empty(t, a.Sorted())
}

func TestCheckMemberSkipsPublicMembers(t *testing.T) {
	declaring := def("DepLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{
			Namespace: "MyApp", Name: "Foo", Flags: 0x1,
			Methods: []clr.MethodDef{{Name: "Public", Flags: 0x6}},
		}},
		friends: []clr.Friend{{ShortName: "App"}},
	})
	consumer := def("App", &fakeModule{})

	a := ivt.New(true)
	a.CheckMember(consumer, declaring, &clr.MemberRef{
		Owner: &clr.TypeRef{Namespace: "MyApp", Name: "Foo"},
		Name:  "Public",
	})

	assert.Empty(t, a.Sorted())
}

func TestCheckTypeNoopWhenDisabled(t *testing.T) {
	declaring := def("DepLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{Namespace: "MyApp", Name: "Foo", Flags: 0x0}},
		friends:  []clr.Friend{{ShortName: "App"}},
	})
	consumer := def("App", &fakeModule{})

	a := ivt.New(false)
	a.CheckType(consumer, declaring, "MyApp.Foo")

	assert.Empty(t, a.Sorted())
}

func TestCheckTypeRequiresPublicKeyTokenWhenFriendDeclaresOne(t *testing.T) {
	declaring := def("DepLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{Namespace: "MyApp", Name: "Internal", Flags: 0x0}},
		friends:  []clr.Friend{{ShortName: "App", PublicKeyToken: []byte{1, 2, 3, 4}}},
	})
	consumer := def("App", &fakeModule{})
	consumer.ID.PublicKeyToken = []byte{9, 9, 9, 9}

	a := ivt.New(true)
	a.CheckType(consumer, declaring, "MyApp.Internal")

	assert.Empty(t, a.Sorted(), "mismatched public key token should not count as a friend")
}

func TestSortedOrdersByExposerThenConsumerThenMember(t *testing.T) {
	declaringB := def("BLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{
			Namespace: "N", Name: "T", Flags: 0x1,
			Methods: []clr.MethodDef{
				{Name: "Z", Flags: 0x1},
				{Name: "A", Flags: 0x1},
			},
		}},
		friends: []clr.Friend{{ShortName: "AppZ"}, {ShortName: "AppA"}},
	})
	declaringA := def("ALib", &fakeModule{
		typeDefs: []*clr.TypeDef{{
			Namespace: "N", Name: "T", Flags: 0x1,
			Methods: []clr.MethodDef{{Name: "M", Flags: 0x1}},
		}},
		friends: []clr.Friend{{ShortName: "AppA"}},
	})
	appA := def("AppA", &fakeModule{})
	appZ := def("AppZ", &fakeModule{})

	a := ivt.New(true)
	a.CheckMember(appZ, declaringB, &clr.MemberRef{Owner: &clr.TypeRef{Namespace: "N", Name: "T"}, Name: "Z"})
	a.CheckMember(appA, declaringB, &clr.MemberRef{Owner: &clr.TypeRef{Namespace: "N", Name: "T"}, Name: "A"})
	a.CheckMember(appA, declaringA, &clr.MemberRef{Owner: &clr.TypeRef{Namespace: "N", Name: "T"}, Name: "M"})

	usages := a.Sorted()
	require.Len(t, usages, 3)
	// ALib sorts before BLib regardless of member/consumer; within BLib,
	// consumer AppA sorts before AppZ.
	assert.Equal(t, "ALib", usages[0].Exposer)
	assert.Equal(t, "BLib", usages[1].Exposer)
	assert.Equal(t, "AppA", usages[1].Consumer)
	assert.Equal(t, "BLib", usages[2].Exposer)
	assert.Equal(t, "AppZ", usages[2].Consumer)
}

func TestRenderRoslynFiltersToCodeAnalysisExposers(t *testing.T) {
	usages := []assembly.IVTUsage{
		{Exposer: "Microsoft.CodeAnalysis.CSharp", Consumer: "Roslyn.Tools", Member: "X.Y"},
		{Exposer: "DepLib", Consumer: "App", Member: "A.B"},
	}
	rendered := ivt.RenderRoslyn(usages)
	assert.Contains(t, rendered, "Microsoft.CodeAnalysis.CSharp")
	assert.NotContains(t, rendered, "DepLib")
}
