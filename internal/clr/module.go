package clr

import (
	"encoding/hex"
	"fmt"
	"strings"

	"binarycompat/internal/identity"
)

// module is the concrete Module implementation backed by decoded metadata
// tables. Everything is materialized eagerly at load time; there is no lazy
// resolution, matching the single-pass, single-threaded model of §5.
type module struct {
	assemblyRefs []AssemblyRef
	typeDefs     []*TypeDef
	typeRefs     []*TypeRef
	memberRefs   []*MemberRef
	customAttrs  []CustomAttribute // assembly-level only
	typeAttrs    []TypeAttributeEntry // per-TypeDef attributes (§12.1)
	exportedTypes []ExportedType
	friends      []Friend
	identity     identity.AssemblyID
}

func (m *module) AssemblyRefs() []AssemblyRef                  { return m.assemblyRefs }
func (m *module) TypeDefs() []*TypeDef                         { return m.typeDefs }
func (m *module) TypeRefs() []*TypeRef                         { return m.typeRefs }
func (m *module) MemberRefs() []*MemberRef                     { return m.memberRefs }
func (m *module) CustomAttributes() []CustomAttribute          { return m.customAttrs }
func (m *module) TypeCustomAttributes() []TypeAttributeEntry   { return m.typeAttrs }
func (m *module) ExportedTypes() []ExportedType                { return m.exportedTypes }
func (m *module) InternalsVisibleTo() []Friend                 { return m.friends }
func (m *module) Identity() identity.AssemblyID                { return m.identity }

// Probe reports whether path carries a CLI header (§6: "detected via
// PE-header probe: presence of a CLI header directory"). It does not parse
// metadata tables; Load does that. A false result with a nil error means
// the file is not a managed assembly — not an error condition (§4.A).
func Probe(path string) (managed bool, err error) {
	_, _, _, managed, err = probeManaged(path)
	return managed, err
}

// Load decodes path's CLI metadata into a Module plus its own AssemblyID.
// It returns (nil, _, false, nil) for a well-formed but non-managed PE (or
// non-PE) file, and a non-nil error only for a file that claims to carry
// managed metadata but whose tables the decoder cannot parse (§4.A
// LoadFailure).
func Load(path string) (Module, identity.AssemblyID, bool, error) {
	raw, sections, header, managed, err := probeManaged(path)
	if err != nil {
		return nil, identity.AssemblyID{}, false, err
	}
	if !managed {
		return nil, identity.AssemblyID{}, false, nil
	}

	mdBytes, err := readRVA(raw, sections, header.MetaDataRVA, header.MetaDataSize)
	if err != nil {
		return nil, identity.AssemblyID{}, true, fmt.Errorf("clr: reading metadata root: %w", err)
	}

	root, err := parseMetadataRoot(mdBytes)
	if err != nil {
		return nil, identity.AssemblyID{}, true, fmt.Errorf("clr: parsing metadata root: %w", err)
	}

	ts, err := parseTableStream(root.tildeStream)
	if err != nil {
		return nil, identity.AssemblyID{}, true, fmt.Errorf("clr: parsing table stream: %w", err)
	}

	m := build(ts, root)
	return m, m.identity, true, nil
}

func build(ts *tableStream, root *metadataRoot) *module {
	m := &module{}

	strAt := func(idx uint64) string { return stringAt(root.stringsHeap, uint32(idx)) }
	blobAtIdx := func(idx uint64) []byte { return blobAt(root.blobHeap, uint32(idx)) }

	// AssemblyRef table.
	for i := uint32(0); i < ts.count(tblAssemblyRef); i++ {
		row := ts.row(tblAssemblyRef, i)
		tok := blobAtIdx(row[5])
		m.assemblyRefs = append(m.assemblyRefs, identity.AssemblyID{
			ShortName:      strAt(row[6]),
			Version:        identity.Version{Major: uint16(row[0]), Minor: uint16(row[1]), Build: uint16(row[2]), Revision: uint16(row[3])},
			Culture:        strAt(row[7]),
			PublicKeyToken: tok,
		})
	}

	// Defining Assembly row (row 0 if present): identity + assembly-level
	// custom attributes (AssemblyProduct/AssemblyMetadata/InternalsVisibleTo).
	if ts.count(tblAssembly) > 0 {
		row := ts.row(tblAssembly, 0)
		m.identity = identity.AssemblyID{
			ShortName:      strAt(row[7]),
			Version:        identity.Version{Major: uint16(row[1]), Minor: uint16(row[2]), Build: uint16(row[3]), Revision: uint16(row[4])},
			Culture:        strAt(row[8]),
			PublicKeyToken: blobAtIdx(row[6]),
		}
	}

	// TypeRef table: first pass builds bare structs (scope left raw),
	// second pass resolves nested-type scopes now that all TypeRefs exist.
	type rawScope struct {
		tableID int
		row     uint32
	}
	scopes := make([]rawScope, ts.count(tblTypeRef))
	for i := uint32(0); i < ts.count(tblTypeRef); i++ {
		row := ts.row(tblTypeRef, i)
		tr := &TypeRef{Name: strAt(row[1]), Namespace: strAt(row[2])}
		tblID, rowIdx := decodeCoded(codedResolutionScope, row[0])
		scopes[i] = rawScope{tblID, rowIdx}
		m.typeRefs = append(m.typeRefs, tr)
	}
	for i, sc := range scopes {
		tr := m.typeRefs[i]
		switch sc.tableID {
		case tblAssemblyRef:
			if sc.row >= 1 && int(sc.row) <= len(m.assemblyRefs) {
				tr.Scope = Scope{Kind: ScopeAssemblyRef, AssemblyRef: m.assemblyRefs[sc.row-1]}
			}
		case tblTypeRef:
			if sc.row >= 1 && int(sc.row) <= len(m.typeRefs) {
				tr.Scope = Scope{Kind: ScopeNestedType, Enclosing: m.typeRefs[sc.row-1]}
			}
		default:
			tr.Scope = Scope{Kind: ScopeModule}
		}
	}

	// Field and MethodDef tables, sliced per-TypeDef by range below.
	allFields := make([]Field, ts.count(tblField))
	for i := uint32(0); i < ts.count(tblField); i++ {
		row := ts.row(tblField, i)
		allFields[i] = Field{Name: strAt(row[1]), Flags: uint16(row[0])}
	}
	allMethods := make([]MethodDef, ts.count(tblMethodDef))
	for i := uint32(0); i < ts.count(tblMethodDef); i++ {
		row := ts.row(tblMethodDef, i)
		allMethods[i] = MethodDef{Name: strAt(row[3]), Flags: uint16(row[2])}
	}

	// TypeDef table.
	typeDefCount := ts.count(tblTypeDef)
	for i := uint32(0); i < typeDefCount; i++ {
		row := ts.row(tblTypeDef, i)
		td := &TypeDef{
			Flags:     TypeAttributes(row[0]),
			Name:      strAt(row[1]),
			Namespace: strAt(row[2]),
		}
		fieldStart := uint32(row[4])
		methodStart := uint32(row[5])
		fieldEnd := uint32(len(allFields)) + 1
		methodEnd := uint32(len(allMethods)) + 1
		if i+1 < typeDefCount {
			next := ts.row(tblTypeDef, i+1)
			fieldEnd = uint32(next[4])
			methodEnd = uint32(next[5])
		}
		if fieldStart >= 1 && fieldStart <= uint32(len(allFields))+1 && fieldEnd >= fieldStart {
			td.Fields = append(td.Fields, allFields[fieldStart-1:min32(fieldEnd-1, uint32(len(allFields)))]...)
		}
		if methodStart >= 1 && methodStart <= uint32(len(allMethods))+1 && methodEnd >= methodStart {
			td.Methods = append(td.Methods, allMethods[methodStart-1:min32(methodEnd-1, uint32(len(allMethods)))]...)
		}
		m.typeDefs = append(m.typeDefs, td)
	}

	// MemberRef table.
	for i := uint32(0); i < ts.count(tblMemberRef); i++ {
		row := ts.row(tblMemberRef, i)
		tblID, rowIdx := decodeCoded(codedMemberRefParent, row[0])
		mr := &MemberRef{Name: strAt(row[1])}
		switch tblID {
		case tblTypeRef:
			if rowIdx >= 1 && int(rowIdx) <= len(m.typeRefs) {
				mr.Owner = m.typeRefs[rowIdx-1]
			}
		case tblTypeDef:
			if rowIdx >= 1 && int(rowIdx) <= len(m.typeDefs) {
				td := m.typeDefs[rowIdx-1]
				mr.Owner = &TypeRef{Name: td.Name, Namespace: td.Namespace, Scope: Scope{Kind: ScopeModule}}
			}
		}
		m.memberRefs = append(m.memberRefs, mr)
	}

	// ExportedType table (facade detection, §4.B).
	for i := uint32(0); i < ts.count(tblExportedType); i++ {
		row := ts.row(tblExportedType, i)
		et := ExportedType{Name: strAt(row[2]), Namespace: strAt(row[3])}
		tblID, rowIdx := decodeCoded(codedImplementation, row[4])
		if tblID == tblAssemblyRef && rowIdx >= 1 && int(rowIdx) <= len(m.assemblyRefs) {
			et.Implementation = m.assemblyRefs[rowIdx-1]
		}
		m.exportedTypes = append(m.exportedTypes, et)
	}

	// CustomAttribute table: keep assembly-level attributes (Parent == the
	// single Assembly row) for the classifier and IVT analyzer (§4.B, §4.G),
	// and TypeDef-level ones for the embedded-interop pass (§12.1).
	// Attributes on any other parent are dropped.
	for i := uint32(0); i < ts.count(tblCustomAttribute); i++ {
		row := ts.row(tblCustomAttribute, i)
		parentTbl, parentRow := decodeCoded(codedHasCustomAttribute, row[0])

		typeTbl, typeRow := decodeCoded(codedCustomAttributeType, row[1])
		var typeName string
		switch typeTbl {
		case tblMemberRef:
			if typeRow >= 1 && int(typeRow) <= len(m.memberRefs) {
				if owner := m.memberRefs[typeRow-1].Owner; owner != nil {
					typeName = owner.FullName()
				}
			}
		case tblMethodDef:
			typeName = methodOwnerTypeName(m.typeDefs, allMethods, typeRow)
		}
		args := decodeFixedStringArgs(blobAtIdx(row[2]))
		ca := CustomAttribute{TypeName: typeName, Args: args}

		switch {
		case parentTbl == tblAssembly && parentRow == 1:
			m.customAttrs = append(m.customAttrs, ca)
			if typeName == "System.Runtime.CompilerServices.InternalsVisibleToAttribute" && len(args) > 0 {
				m.friends = append(m.friends, parseFriend(args[0]))
			}
		case parentTbl == tblTypeDef && parentRow >= 1 && int(parentRow) <= len(m.typeDefs):
			td := m.typeDefs[parentRow-1]
			m.typeAttrs = append(m.typeAttrs, TypeAttributeEntry{TypeFullName: td.FullName(), Attr: ca})
		}
	}

	return m
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// methodOwnerTypeName finds which TypeDef's method range a MethodDef row
// index (1-based) falls within, for CustomAttributeType==MethodDef.
func methodOwnerTypeName(typeDefs []*TypeDef, allMethods []MethodDef, methodRow uint32) string {
	if methodRow < 1 || int(methodRow) > len(allMethods) {
		return ""
	}
	target := allMethods[methodRow-1]
	for _, td := range typeDefs {
		for _, m := range td.Methods {
			if m.Name == target.Name && m.Flags == target.Flags {
				return td.FullName()
			}
		}
	}
	return ""
}

// parseFriend parses an InternalsVisibleToAttribute constructor argument of
// the form "AssemblyName" or "AssemblyName, PublicKey=hexstring" (§9 "IVT
// decoding details").
func parseFriend(arg string) Friend {
	name := arg
	var token []byte
	if idx := strings.IndexByte(arg, ','); idx >= 0 {
		name = strings.TrimSpace(arg[:idx])
		rest := strings.TrimSpace(arg[idx+1:])
		const prefix = "PublicKey="
		if strings.HasPrefix(rest, prefix) {
			if decoded, err := hex.DecodeString(strings.TrimSpace(rest[len(prefix):])); err == nil {
				token = decoded
			}
		}
	}
	return Friend{ShortName: name, PublicKeyToken: token}
}
