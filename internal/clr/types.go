// Package clr implements the one piece of "the underlying metadata reader"
// (spec §1, §9 DESIGN NOTES) that this repository does not treat as an
// external collaborator: a real, from-scratch reader of the ECMA-335 CLI
// metadata format embedded in a managed PE file. It exposes exactly the
// read-only surface the spec's resolver/checker/classifier need — modules,
// type definitions/references, member references, custom attributes, and
// exported (type-forwarded) types — and nothing else. It does not execute,
// JIT, or rewrite anything it reads.
package clr

import (
	"fmt"

	"binarycompat/internal/identity"
)

// ScopeKind distinguishes the three places a TypeRef's ResolutionScope can
// point: another assembly, the current module, or an enclosing (nesting)
// type.
type ScopeKind int

const (
	ScopeAssemblyRef ScopeKind = iota
	ScopeModule
	ScopeNestedType
)

// Scope is a TypeRef's ResolutionScope, decoded into one of ScopeKind's
// three cases.
type Scope struct {
	Kind        ScopeKind
	AssemblyRef AssemblyRef // valid when Kind == ScopeAssemblyRef
	Enclosing   *TypeRef    // valid when Kind == ScopeNestedType
}

// AssemblyRef re-exports identity.AssemblyRef so callers of this package
// never need to import internal/identity directly for metadata-shaped code.
type AssemblyRef = identity.AssemblyRef

// TypeRef is a reference to a type declared in another scope.
type TypeRef struct {
	Scope     Scope
	Namespace string
	Name      string
}

// FullName renders "Namespace.Name", omitting the dot when Namespace is empty.
func (t *TypeRef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// TypeAttributes is the subset of System.Reflection.TypeAttributes bits this
// reader inspects (visibility only).
type TypeAttributes uint32

const (
	VisibilityMask      TypeAttributes = 0x7
	VisibilityPublic    TypeAttributes = 0x1
	VisibilityNestedPub TypeAttributes = 0x2
)

// IsPublic reports whether the type is visible outside its declaring assembly.
func (f TypeAttributes) IsPublic() bool {
	switch f & VisibilityMask {
	case VisibilityPublic, VisibilityNestedPub, 0x4, 0x6: // public, nested-public, nested-family, nested-fam-and-assem
		return f&VisibilityMask == VisibilityPublic || f&VisibilityMask == VisibilityNestedPub
	}
	return false
}

// TypeDef is a type defined in the assembly being examined.
type TypeDef struct {
	Namespace string
	Name      string
	Flags     TypeAttributes
	Fields    []Field
	Methods   []MethodDef
}

func (t *TypeDef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// IsInternal reports whether the type is not public (§4.G IVT check).
func (t *TypeDef) IsInternal() bool { return !t.Flags.IsPublic() }

// Field is a field definition, enough to satisfy member-reference checks.
type Field struct {
	Name  string
	Flags uint16
}

// IsInternal reports whether the field lacks FamORAssem/Public/Family access
// (FieldAttributes visibility mask, low 3 bits: 1=private,3=assembly,6=public,
// 4=family,5=famorassem,2=famandassem).
func (f Field) IsInternal() bool {
	switch f.Flags & 0x7 {
	case 6, 4, 5:
		return false
	}
	return true
}

// MethodDef is a method definition, enough to satisfy member-reference checks.
type MethodDef struct {
	Name      string
	Signature string
	Flags     uint16
}

func (m MethodDef) IsInternal() bool {
	switch m.Flags & 0x7 {
	case 6, 4, 5:
		return false
	}
	return true
}

// MemberRef is a reference to a field or method declared in some other
// TypeRef/TypeDef.
type MemberRef struct {
	Owner     *TypeRef
	Name      string
	Signature string
}

func (m *MemberRef) FullName() string {
	if m.Owner == nil {
		return m.Name
	}
	return fmt.Sprintf("%s.%s", m.Owner.FullName(), m.Name)
}

// CustomAttribute is a decoded custom attribute application: the attribute
// type's full name plus its fixed constructor string arguments (this reader
// does not decode named/field arguments or non-string fixed arguments — see
// DESIGN.md).
type CustomAttribute struct {
	TypeName string
	Args     []string
}

// ExportedType is a type-forwarder entry: a type whose implementation lives
// in another assembly (facade detection, §4.B, and facade passthrough, §4.C
// strategy 2 "verified non-facade").
type ExportedType struct {
	Namespace      string
	Name           string
	Implementation AssemblyRef
}

func (e ExportedType) FullName() string {
	if e.Namespace == "" {
		return e.Name
	}
	return e.Namespace + "." + e.Name
}

// TypeAttributeEntry pairs a declared custom attribute with the full name
// of the TypeDef it is applied to (§12.1 embedded-interop-type detection).
type TypeAttributeEntry struct {
	TypeFullName string
	Attr         CustomAttribute
}

// Module is the read-only surface of a loaded assembly's single module: the
// ordered outbound AssemblyRefs, iterables of type/member definitions and
// references, custom attributes, exported types, and the InternalsVisibleTo
// friend list (data model §3 AssemblyDef.module).
type Module interface {
	AssemblyRefs() []AssemblyRef
	TypeDefs() []*TypeDef
	TypeRefs() []*TypeRef
	MemberRefs() []*MemberRef
	CustomAttributes() []CustomAttribute
	TypeCustomAttributes() []TypeAttributeEntry
	ExportedTypes() []ExportedType
	InternalsVisibleTo() []Friend
}

// Friend is one parsed InternalsVisibleToAttribute("Name[, PublicKey=...]")
// entry (§4.G, §9 "IVT decoding details": short-name match mandatory,
// key-match optional unless present).
type Friend struct {
	ShortName      string
	PublicKeyToken []byte // nil when no key clause was present
}
