package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"binarycompat/internal/assembly"
	"binarycompat/internal/classify"
	"binarycompat/internal/clr"
	"binarycompat/internal/identity"
)

type fakeModule struct {
	typeDefs []*clr.TypeDef
	attrs    []clr.CustomAttribute
	exported []clr.ExportedType
}

func (m *fakeModule) AssemblyRefs() []clr.AssemblyRef               { return nil }
func (m *fakeModule) TypeDefs() []*clr.TypeDef                      { return m.typeDefs }
func (m *fakeModule) TypeRefs() []*clr.TypeRef                      { return nil }
func (m *fakeModule) MemberRefs() []*clr.MemberRef                  { return nil }
func (m *fakeModule) CustomAttributes() []clr.CustomAttribute       { return m.attrs }
func (m *fakeModule) TypeCustomAttributes() []clr.TypeAttributeEntry { return nil }
func (m *fakeModule) ExportedTypes() []clr.ExportedType             { return m.exported }
func (m *fakeModule) InternalsVisibleTo() []clr.Friend              { return nil }

func def(short string, mod clr.Module) *assembly.Def {
	return &assembly.Def{ID: identity.AssemblyID{ShortName: short}, Path: short + ".dll", Mod: mod}
}

func TestIsFrameworkNameFixedList(t *testing.T) {
	assert.True(t, classify.IsFrameworkName("mscorlib"))
	assert.True(t, classify.IsFrameworkName("MSCORLIB"))
	assert.True(t, classify.IsFrameworkName("WindowsBase"))
	assert.False(t, classify.IsFrameworkName("MyApp"))
}

func TestIsFrameworkNameSystemPrefix(t *testing.T) {
	assert.True(t, classify.IsFrameworkName("System.Data"))
	assert.True(t, classify.IsFrameworkName("system.xml"))
	assert.False(t, classify.IsFrameworkName("SystemCustom"))
}

func TestClassifierIsFrameworkByShortName(t *testing.T) {
	c := classify.New()
	d := def("mscorlib", &fakeModule{})
	assert.True(t, c.IsFramework(d))
}

func TestClassifierIsFrameworkByProductAttribute(t *testing.T) {
	c := classify.New()
	d := def("SomeLib", &fakeModule{
		attrs: []clr.CustomAttribute{
			{TypeName: "System.Reflection.AssemblyProductAttribute", Args: []string{"Microsoft® .NET Framework"}},
		},
	})
	assert.True(t, c.IsFramework(d))
}

func TestClassifierIsFrameworkByMetadataAttribute(t *testing.T) {
	c := classify.New()
	d := def("SomeLib", &fakeModule{
		attrs: []clr.CustomAttribute{
			{TypeName: "System.Reflection.AssemblyMetadataAttribute", Args: []string{".NETFrameworkAssembly"}},
		},
	})
	assert.True(t, c.IsFramework(d))
}

func TestClassifierIsFrameworkFalseForOrdinaryAssembly(t *testing.T) {
	c := classify.New()
	d := def("MyApp", &fakeModule{})
	assert.False(t, c.IsFramework(d))
}

func TestClassifierIsFrameworkMemoizesByPath(t *testing.T) {
	c := classify.New()
	d := def("SomeLib", &fakeModule{
		attrs: []clr.CustomAttribute{
			{TypeName: "System.Reflection.AssemblyProductAttribute", Args: []string{"Microsoft® .NET Framework"}},
		},
	})
	first := c.IsFramework(d)
	// Mutate the module after the first call; the memoized result must stick.
	d.Mod.(*fakeModule).attrs = nil
	second := c.IsFramework(d)
	assert.Equal(t, first, second)
	assert.True(t, second)
}

func TestClassifierIsFacadeShape(t *testing.T) {
	c := classify.New()
	d := def("Facade", &fakeModule{
		typeDefs: []*clr.TypeDef{{Name: "<Module>"}},
		exported: []clr.ExportedType{{Namespace: "MyApp", Name: "Foo"}},
	})
	assert.True(t, c.IsFacade(d))
}

func TestClassifierIsFacadeFalseWithConcreteTypes(t *testing.T) {
	c := classify.New()
	d := def("RealLib", &fakeModule{
		typeDefs: []*clr.TypeDef{{Name: "<Module>"}, {Namespace: "MyApp", Name: "Foo"}},
		exported: []clr.ExportedType{{Namespace: "MyApp", Name: "Bar"}},
	})
	assert.False(t, c.IsFacade(d))
}

func TestClassifierIsFacadeFalseWithoutExportedTypes(t *testing.T) {
	c := classify.New()
	d := def("Lib", &fakeModule{typeDefs: []*clr.TypeDef{{Name: "<Module>"}}})
	assert.False(t, c.IsFacade(d))
}
