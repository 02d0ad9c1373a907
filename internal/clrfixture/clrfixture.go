// Package clrfixture builds synthetic managed PE binaries for tests: a
// minimal but genuine ECMA-335 CLI metadata image that internal/clr's
// decoder (and everything built on top of it) loads exactly like a real
// assembly on disk. It exists purely to give the loader/resolver/checker
// test suites real files to point at, without needing an actual .NET
// toolchain in the build environment.
package clrfixture

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
)

// TypeRefSpec is one row of the synthetic TypeRef table.
type TypeRefSpec struct {
	Namespace   string
	Name        string
	AssemblyRef int // index into Spec.AssemblyRefs (its ResolutionScope)
}

// FieldSpec is one row of the synthetic Field table, owned by a TypeDef.
type FieldSpec struct {
	Name  string
	Flags uint16
}

// MethodSpec is one row of the synthetic MethodDef table, owned by a TypeDef.
type MethodSpec struct {
	Name  string
	Flags uint16
}

// TypeDefSpec is one row of the synthetic TypeDef table. A "<Module>" row is
// always prepended automatically, matching every real assembly's row 0.
type TypeDefSpec struct {
	Namespace string
	Name      string
	Flags     uint32
	Fields    []FieldSpec
	Methods   []MethodSpec
}

// MemberRefSpec is one row of the synthetic MemberRef table, whose Class
// coded index points at a TypeRef.
type MemberRefSpec struct {
	TypeRef int // index into Spec.TypeRefs
	Name    string
}

// AssemblyRefSpec is one row of the synthetic AssemblyRef table.
type AssemblyRefSpec struct {
	Name    string
	Version [4]uint16
}

// AttributeSpec is one CustomAttribute row: its constructor is a MemberRef
// (Spec.MemberRefs[MemberRef], typically named ".ctor"), and it applies
// either to the defining Assembly (TypeDef == -1) or to Spec.TypeDefs[TypeDef].
type AttributeSpec struct {
	MemberRef int
	TypeDef   int
	Args      []string
}

// Spec describes one synthetic assembly to build.
type Spec struct {
	Name         string
	Version      [4]uint16
	AssemblyRefs []AssemblyRefSpec
	TypeRefs     []TypeRefSpec
	TypeDefs     []TypeDefSpec
	MemberRefs   []MemberRefSpec
	Attributes   []AttributeSpec
}

// coded-index tag widths and table orderings, mirroring internal/clr's
// codedTags table for exactly the families this builder emits.
const (
	tagResolutionScopeAssemblyRef  = 2 // {Module,ModuleRef,AssemblyRef,TypeRef}, bits=2
	bitsResolutionScope            = 2
	tagMemberRefParentTypeRef      = 1 // {TypeDef,TypeRef,ModuleRef,MethodDef,TypeSpec}, bits=3
	bitsMemberRefParent            = 3
	tagHasCustomAttributeTypeDef   = 3 // ...,TypeDef is index 3, bits=5
	tagHasCustomAttributeAssembly  = 14
	bitsHasCustomAttribute         = 5
	tagCustomAttributeTypeMemberRef = 3 // {-,-,MethodDef,MemberRef,-}, bits=3
	bitsCustomAttributeType        = 3
)

func coded(bits uint, tag int, row1based uint32) uint16 {
	if row1based == 0 {
		return 0
	}
	return uint16(row1based)<<bits | uint16(tag)
}

// heap is a simple #Strings/#Blob heap builder; index 0 is always the shared
// empty entry, matching the ECMA-335 convention both packages read.
type heap struct {
	buf []byte
}

func newHeap() *heap { return &heap{buf: []byte{0}} }

func (h *heap) str(s string) uint16 {
	if s == "" {
		return 0
	}
	off := uint16(len(h.buf))
	h.buf = append(h.buf, []byte(s)...)
	h.buf = append(h.buf, 0)
	return off
}

func (h *heap) blob(data []byte) uint16 {
	if len(data) == 0 {
		return 0
	}
	off := uint16(len(h.buf))
	h.buf = append(h.buf, encodeCompressedLen(len(data))...)
	h.buf = append(h.buf, data...)
	return off
}

func encodeCompressedLen(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n < 0x4000:
		return []byte{byte(n>>8) | 0x80, byte(n)}
	default:
		return []byte{byte(n>>24) | 0xC0, byte(n >> 16), byte(n >> 8), byte(n)}
	}
}

// customAttributeBlob encodes a CustomAttribute Value blob carrying only
// fixed SerString arguments (ECMA-335 II.23.3), matching what
// internal/clr's decodeFixedStringArgs expects.
func customAttributeBlob(args []string) []byte {
	buf := []byte{0x01, 0x00} // prolog
	for _, a := range args {
		buf = append(buf, encodeCompressedLen(len(a))...)
		buf = append(buf, []byte(a)...)
	}
	return buf
}

// Build renders spec into a full, debug/pe-parseable managed PE image.
func Build(spec Spec) []byte {
	strs := newHeap()
	blobs := newHeap()

	var tilde bytes.Buffer

	// AssemblyRef table (id 0x23).
	var arBuf bytes.Buffer
	for _, ar := range spec.AssemblyRefs {
		binary.Write(&arBuf, binary.LittleEndian, ar.Version[0])
		binary.Write(&arBuf, binary.LittleEndian, ar.Version[1])
		binary.Write(&arBuf, binary.LittleEndian, ar.Version[2])
		binary.Write(&arBuf, binary.LittleEndian, ar.Version[3])
		binary.Write(&arBuf, binary.LittleEndian, uint32(0)) // Flags
		binary.Write(&arBuf, binary.LittleEndian, blobs.blob(nil))
		binary.Write(&arBuf, binary.LittleEndian, strs.str(ar.Name))
		binary.Write(&arBuf, binary.LittleEndian, strs.str(""))
		binary.Write(&arBuf, binary.LittleEndian, blobs.blob(nil))
	}

	// TypeRef table (id 0x01).
	var trBuf bytes.Buffer
	for _, tr := range spec.TypeRefs {
		scope := coded(bitsResolutionScope, tagResolutionScopeAssemblyRef, uint32(tr.AssemblyRef+1))
		binary.Write(&trBuf, binary.LittleEndian, scope)
		binary.Write(&trBuf, binary.LittleEndian, strs.str(tr.Name))
		binary.Write(&trBuf, binary.LittleEndian, strs.str(tr.Namespace))
	}

	// Field and MethodDef tables (ids 0x04, 0x06), plus per-TypeDef ranges.
	allDefs := append([]TypeDefSpec{{Namespace: "", Name: "<Module>"}}, spec.TypeDefs...)
	var fieldBuf, methodBuf bytes.Buffer
	fieldStarts := make([]uint16, len(allDefs))
	methodStarts := make([]uint16, len(allDefs))
	fieldCount, methodCount := uint16(0), uint16(0)
	for i, td := range allDefs {
		fieldStarts[i] = fieldCount + 1
		for _, f := range td.Fields {
			binary.Write(&fieldBuf, binary.LittleEndian, f.Flags)
			binary.Write(&fieldBuf, binary.LittleEndian, strs.str(f.Name))
			binary.Write(&fieldBuf, binary.LittleEndian, blobs.blob(nil))
			fieldCount++
		}
		methodStarts[i] = methodCount + 1
		for _, m := range td.Methods {
			binary.Write(&methodBuf, binary.LittleEndian, uint32(0)) // RVA
			binary.Write(&methodBuf, binary.LittleEndian, uint16(0)) // ImplFlags
			binary.Write(&methodBuf, binary.LittleEndian, m.Flags)
			binary.Write(&methodBuf, binary.LittleEndian, strs.str(m.Name))
			binary.Write(&methodBuf, binary.LittleEndian, blobs.blob(nil))
			binary.Write(&methodBuf, binary.LittleEndian, uint16(1)) // ParamList, unused
			methodCount++
		}
	}

	// TypeDef table (id 0x02).
	var tdBuf bytes.Buffer
	for i, td := range allDefs {
		binary.Write(&tdBuf, binary.LittleEndian, td.Flags)
		binary.Write(&tdBuf, binary.LittleEndian, strs.str(td.Name))
		binary.Write(&tdBuf, binary.LittleEndian, strs.str(td.Namespace))
		binary.Write(&tdBuf, binary.LittleEndian, uint16(0)) // Extends: null
		binary.Write(&tdBuf, binary.LittleEndian, fieldStarts[i])
		binary.Write(&tdBuf, binary.LittleEndian, methodStarts[i])
	}

	// MemberRef table (id 0x0A).
	var mrBuf bytes.Buffer
	for _, mr := range spec.MemberRefs {
		parent := coded(bitsMemberRefParent, tagMemberRefParentTypeRef, uint32(mr.TypeRef+1))
		binary.Write(&mrBuf, binary.LittleEndian, parent)
		binary.Write(&mrBuf, binary.LittleEndian, strs.str(mr.Name))
		binary.Write(&mrBuf, binary.LittleEndian, blobs.blob(nil))
	}

	// CustomAttribute table (id 0x0C).
	var caBuf bytes.Buffer
	for _, at := range spec.Attributes {
		var parent uint16
		if at.TypeDef < 0 {
			parent = coded(bitsHasCustomAttribute, tagHasCustomAttributeAssembly, 1)
		} else {
			// allDefs[0] is the synthetic <Module> row, so spec.TypeDefs[i]
			// sits at 1-based row i+2.
			parent = coded(bitsHasCustomAttribute, tagHasCustomAttributeTypeDef, uint32(at.TypeDef+2))
		}
		typ := coded(bitsCustomAttributeType, tagCustomAttributeTypeMemberRef, uint32(at.MemberRef+1))
		binary.Write(&caBuf, binary.LittleEndian, parent)
		binary.Write(&caBuf, binary.LittleEndian, typ)
		binary.Write(&caBuf, binary.LittleEndian, blobs.blob(customAttributeBlob(at.Args)))
	}

	// Assembly table (id 0x20): the defining identity, always exactly 1 row.
	var asmBuf bytes.Buffer
	binary.Write(&asmBuf, binary.LittleEndian, uint32(0x8004)) // HashAlgId: SHA1
	binary.Write(&asmBuf, binary.LittleEndian, spec.Version[0])
	binary.Write(&asmBuf, binary.LittleEndian, spec.Version[1])
	binary.Write(&asmBuf, binary.LittleEndian, spec.Version[2])
	binary.Write(&asmBuf, binary.LittleEndian, spec.Version[3])
	binary.Write(&asmBuf, binary.LittleEndian, uint32(0)) // Flags
	binary.Write(&asmBuf, binary.LittleEndian, blobs.blob(nil))
	binary.Write(&asmBuf, binary.LittleEndian, strs.str(spec.Name))
	binary.Write(&asmBuf, binary.LittleEndian, strs.str(""))

	type tbl struct {
		id   int
		rows int
		buf  []byte
	}
	tables := []tbl{
		{0x01, len(spec.TypeRefs), trBuf.Bytes()},
		{0x02, len(allDefs), tdBuf.Bytes()},
		{0x04, int(fieldCount), fieldBuf.Bytes()},
		{0x06, int(methodCount), methodBuf.Bytes()},
		{0x0A, len(spec.MemberRefs), mrBuf.Bytes()},
		{0x0C, len(spec.Attributes), caBuf.Bytes()},
		{0x20, 1, asmBuf.Bytes()},
		{0x23, len(spec.AssemblyRefs), arBuf.Bytes()},
	}

	var valid uint64
	for _, t := range tables {
		if t.rows > 0 {
			valid |= 1 << uint(t.id)
		}
	}

	binary.Write(&tilde, binary.LittleEndian, uint32(0)) // reserved
	tilde.WriteByte(1)                                   // MajorVersion
	tilde.WriteByte(1)                                   // MinorVersion
	tilde.WriteByte(0)                                   // HeapSizes: narrow heaps throughout
	tilde.WriteByte(1)                                   // reserved
	binary.Write(&tilde, binary.LittleEndian, valid)
	binary.Write(&tilde, binary.LittleEndian, valid) // Sorted: unused by the reader

	for _, t := range tables {
		if t.rows > 0 {
			binary.Write(&tilde, binary.LittleEndian, uint32(t.rows))
		}
	}
	for _, t := range tables {
		if t.rows > 0 {
			tilde.Write(t.buf)
		}
	}

	root := buildMetadataRoot(tilde.Bytes(), strs.buf, blobs.buf)
	return wrapPE(root)
}

// buildMetadataRoot assembles the BSJB metadata root header, its three
// stream headers (#~, #Strings, #Blob), and their raw bytes (ECMA-335
// II.24.2.1/24.2.2).
func buildMetadataRoot(tilde, strings, blobs []byte) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, uint32(0x424A5342)) // "BSJB"
	binary.Write(&b, binary.LittleEndian, uint16(1))          // MajorVersion
	binary.Write(&b, binary.LittleEndian, uint16(1))          // MinorVersion
	binary.Write(&b, binary.LittleEndian, uint32(0))          // Reserved

	verStr := append([]byte("v4.0.30319"), 0)
	for len(verStr)%4 != 0 {
		verStr = append(verStr, 0)
	}
	binary.Write(&b, binary.LittleEndian, uint32(len(verStr)))
	b.Write(verStr)
	binary.Write(&b, binary.LittleEndian, uint16(0)) // Flags (reserved)
	binary.Write(&b, binary.LittleEndian, uint16(3)) // NumberOfStreams

	type stream struct {
		name string
		data []byte
	}
	streams := []stream{{"#~", tilde}, {"#Strings", strings}, {"#Blob", blobs}}

	headerNameSize := func(name string) int {
		n := len(name) + 1
		for n%4 != 0 {
			n++
		}
		return n
	}

	dataStart := b.Len()
	for _, s := range streams {
		dataStart += 8 + headerNameSize(s.name)
	}

	offsets := make([]int, len(streams))
	cur := dataStart
	for i, s := range streams {
		offsets[i] = cur
		cur += len(s.data)
		for cur%4 != 0 {
			cur++
		}
	}

	for i, s := range streams {
		binary.Write(&b, binary.LittleEndian, uint32(offsets[i]))
		binary.Write(&b, binary.LittleEndian, uint32(len(s.data)))
		nameSize := headerNameSize(s.name)
		nameBytes := make([]byte, nameSize)
		copy(nameBytes, s.name)
		b.Write(nameBytes)
	}

	for i, s := range streams {
		for b.Len() < offsets[i] {
			b.WriteByte(0)
		}
		b.Write(s.data)
	}
	return b.Bytes()
}

const (
	sectionRVA     = 0x2000
	fileAlign      = 0x200
	peHeaderOffset = 0x80
)

func alignUp(n, align uint32) uint32 {
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	return n
}

// wrapPE places a 72-byte IMAGE_COR20_HEADER (pointing at root) plus root
// itself into a single ".text" section of an otherwise minimal PE32 image,
// with the COM-descriptor data directory (index 14) pointing at the CLI
// header (§6 detection contract: "CLI header at PE data directory index 14").
func wrapPE(root []byte) []byte {
	corHeader := make([]byte, 72)
	binary.LittleEndian.PutUint32(corHeader[0:4], 72)
	binary.LittleEndian.PutUint16(corHeader[4:6], 2)
	binary.LittleEndian.PutUint16(corHeader[6:8], 5)
	binary.LittleEndian.PutUint32(corHeader[8:12], sectionRVA+72)
	binary.LittleEndian.PutUint32(corHeader[12:16], uint32(len(root)))

	sectionContent := append(append([]byte{}, corHeader...), root...)
	sizeOfRawData := alignUp(uint32(len(sectionContent)), fileAlign)
	sectionData := make([]byte, sizeOfRawData)
	copy(sectionData, sectionContent)

	var b bytes.Buffer

	dosStub := make([]byte, peHeaderOffset)
	dosStub[0], dosStub[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dosStub[0x3C:0x40], peHeaderOffset)
	b.Write(dosStub)

	b.WriteString("PE\x00\x00")

	fh := pe.FileHeader{
		Machine:              0x14c,
		NumberOfSections:     1,
		SizeOfOptionalHeader: 224,
		Characteristics:      0x0102,
	}
	binary.Write(&b, binary.LittleEndian, fh)

	oh := pe.OptionalHeader32{
		Magic:                       0x10b,
		SizeOfCode:                  uint32(len(sectionData)),
		BaseOfCode:                  sectionRVA,
		ImageBase:                   0x400000,
		SectionAlignment:            0x2000,
		FileAlignment:               fileAlign,
		MajorOperatingSystemVersion: 4,
		MajorSubsystemVersion:       4,
		SizeOfImage:                 alignUp(sectionRVA+uint32(len(sectionData)), 0x2000),
		SizeOfHeaders:               fileAlign,
		Subsystem:                   3,
		SizeOfStackReserve:          0x100000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}
	oh.DataDirectory[14] = pe.DataDirectory{VirtualAddress: sectionRVA, Size: 72}
	binary.Write(&b, binary.LittleEndian, oh)

	var name [8]byte
	copy(name[:], ".text")
	sh := pe.SectionHeader32{
		Name:            name,
		VirtualSize:     uint32(len(sectionContent)),
		VirtualAddress:  sectionRVA,
		SizeOfRawData:   sizeOfRawData,
		PointerToRawData: fileAlign,
		Characteristics: 0x60000020,
	}
	binary.Write(&b, binary.LittleEndian, sh)

	for b.Len() < fileAlign {
		b.WriteByte(0)
	}
	b.Write(sectionData)

	return b.Bytes()
}
