package check

import (
	"fmt"
	"strings"

	"binarycompat/internal/assembly"
)

// CheckEmbeddedInteropTypes is the /embeddedInteropTypes pass (§12.1): flags
// TypeRefs whose target TypeDef, in its declaring assembly, carries a
// TypeIdentifierAttribute-shaped custom attribute — the marker embedded
// interop types (NoPIA) leave behind.
func (c *Checker) CheckEmbeddedInteropTypes(a *assembly.Def) {
	for _, tr := range a.Mod.TypeRefs() {
		def := c.scopeDef(tr.Scope)
		if def == nil {
			continue
		}
		if hasTypeIdentifierAttribute(def, tr.FullName()) {
			c.store.Add(fmt.Sprintf("Embedded interop type '%s' referenced from assembly '%s'", tr.FullName(), a.FullName()))
		}
	}
}

func hasTypeIdentifierAttribute(def *assembly.Def, typeFullName string) bool {
	for _, entry := range def.Mod.TypeCustomAttributes() {
		if entry.TypeFullName != typeFullName {
			continue
		}
		if strings.HasSuffix(entry.Attr.TypeName, "TypeIdentifierAttribute") {
			return true
		}
	}
	return false
}

// CheckIntPtrCtors is the /intPtrCtors pass (§12.1): flags MemberRefs that
// construct System.IntPtr or System.UIntPtr, a classic 32/64-bit portability
// smell.
func (c *Checker) CheckIntPtrCtors(a *assembly.Def) {
	for _, mr := range a.Mod.MemberRefs() {
		if mr.Owner == nil || mr.Name != ".ctor" {
			continue
		}
		switch mr.Owner.FullName() {
		case "System.IntPtr", "System.UIntPtr":
			c.store.Add(fmt.Sprintf("Platform-pointer constructor '%s' used in assembly '%s'", mr.FullName(), a.FullName()))
		}
	}
}
