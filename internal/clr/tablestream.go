package clr

import (
	"encoding/binary"
	"fmt"
)

// Table IDs this reader knows the layout of (ECMA-335 II.22). Tables not
// listed here never appear in practice (reserved IDs) and are not handled.
const (
	tblModule                 = 0x00
	tblTypeRef                = 0x01
	tblTypeDef                = 0x02
	tblField                  = 0x04
	tblMethodDef              = 0x06
	tblParam                  = 0x08
	tblInterfaceImpl          = 0x09
	tblMemberRef              = 0x0A
	tblConstant               = 0x0B
	tblCustomAttribute        = 0x0C
	tblFieldMarshal           = 0x0D
	tblDeclSecurity           = 0x0E
	tblClassLayout            = 0x0F
	tblFieldLayout            = 0x10
	tblStandAloneSig          = 0x11
	tblEventMap               = 0x12
	tblEvent                  = 0x14
	tblPropertyMap            = 0x15
	tblProperty               = 0x17
	tblMethodSemantics        = 0x18
	tblMethodImpl             = 0x19
	tblModuleRef              = 0x1A
	tblTypeSpec               = 0x1B
	tblImplMap                = 0x1C
	tblFieldRVA               = 0x1D
	tblAssembly               = 0x20
	tblAssemblyProcessor      = 0x21
	tblAssemblyOS             = 0x22
	tblAssemblyRef            = 0x23
	tblAssemblyRefProcessor   = 0x24
	tblAssemblyRefOS          = 0x25
	tblFile                   = 0x26
	tblExportedType           = 0x27
	tblManifestResource       = 0x28
	tblNestedClass            = 0x29
	tblGenericParam           = 0x2A
	tblMethodSpec             = 0x2B
	tblGenericParamConstraint = 0x2C
)

// colKind identifies the wire shape of a single table column.
type colKind int

const (
	colU16 colKind = iota
	colU32
	colStr   // index into #Strings
	colBlob  // index into #Blob
	colGuid  // index into #GUID (size-only; value unused)
	colTable // simple index into a single other table
	colCoded // coded index across several tables
)

type column struct {
	kind  colKind
	table int         // for colTable: the referenced table id
	coded codedKind   // for colCoded
}

type codedKind int

const (
	codedResolutionScope codedKind = iota
	codedTypeDefOrRef
	codedMemberRefParent
	codedHasCustomAttribute
	codedCustomAttributeType
	codedImplementation
	codedHasConstant
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedTypeOrMethodDef
)

// codedTag describes one coded-index family: its tag width in bits and the
// ordered list of tables the tag selects among.
type codedTag struct {
	bits   uint
	tables []int
}

var codedTags = map[codedKind]codedTag{
	codedResolutionScope:     {2, []int{tblModule, tblModuleRef, tblAssemblyRef, tblTypeRef}},
	codedTypeDefOrRef:        {2, []int{tblTypeDef, tblTypeRef, tblTypeSpec}},
	codedMemberRefParent:     {3, []int{tblTypeDef, tblTypeRef, tblModuleRef, tblMethodDef, tblTypeSpec}},
	codedHasCustomAttribute:  {5, []int{tblMethodDef, tblField, tblTypeRef, tblTypeDef, tblParam, tblInterfaceImpl, tblMemberRef, tblModule, tblDeclSecurity, tblProperty, tblEvent, tblStandAloneSig, tblModuleRef, tblTypeSpec, tblAssembly, tblAssemblyRef, tblFile, tblExportedType, tblManifestResource, tblGenericParam, tblGenericParamConstraint, tblMethodSpec}},
	codedCustomAttributeType: {3, []int{-1, -1, tblMethodDef, tblMemberRef, -1}},
	codedImplementation:      {2, []int{tblFile, tblAssemblyRef, tblExportedType}},
	codedHasConstant:         {2, []int{tblField, tblParam, tblProperty}},
	codedHasFieldMarshal:     {1, []int{tblField, tblParam}},
	codedHasDeclSecurity:     {2, []int{tblTypeDef, tblMethodDef, tblAssembly}},
	codedHasSemantics:        {1, []int{tblEvent, tblProperty}},
	codedMethodDefOrRef:      {1, []int{tblMethodDef, tblMemberRef}},
	codedMemberForwarded:     {1, []int{tblField, tblMethodDef}},
	codedTypeOrMethodDef:     {1, []int{tblTypeDef, tblMethodDef}},
}

// schemas maps each known table id to its ordered column list.
var schemas = map[int][]column{
	tblModule:                 {{kind: colU16}, {kind: colStr}, {kind: colGuid}, {kind: colGuid}, {kind: colGuid}},
	tblTypeRef:                {{kind: colCoded, coded: codedResolutionScope}, {kind: colStr}, {kind: colStr}},
	tblTypeDef:                {{kind: colU32}, {kind: colStr}, {kind: colStr}, {kind: colCoded, coded: codedTypeDefOrRef}, {kind: colTable, table: tblField}, {kind: colTable, table: tblMethodDef}},
	tblField:                  {{kind: colU16}, {kind: colStr}, {kind: colBlob}},
	tblMethodDef:              {{kind: colU32}, {kind: colU16}, {kind: colU16}, {kind: colStr}, {kind: colBlob}, {kind: colTable, table: tblParam}},
	tblParam:                  {{kind: colU16}, {kind: colU16}, {kind: colStr}},
	tblInterfaceImpl:          {{kind: colTable, table: tblTypeDef}, {kind: colCoded, coded: codedTypeDefOrRef}},
	tblMemberRef:              {{kind: colCoded, coded: codedMemberRefParent}, {kind: colStr}, {kind: colBlob}},
	tblConstant:               {{kind: colU16}, {kind: colCoded, coded: codedHasConstant}, {kind: colBlob}},
	tblCustomAttribute:        {{kind: colCoded, coded: codedHasCustomAttribute}, {kind: colCoded, coded: codedCustomAttributeType}, {kind: colBlob}},
	tblFieldMarshal:           {{kind: colCoded, coded: codedHasFieldMarshal}, {kind: colBlob}},
	tblDeclSecurity:           {{kind: colU16}, {kind: colCoded, coded: codedHasDeclSecurity}, {kind: colBlob}},
	tblClassLayout:            {{kind: colU16}, {kind: colU32}, {kind: colTable, table: tblTypeDef}},
	tblFieldLayout:            {{kind: colU32}, {kind: colTable, table: tblField}},
	tblStandAloneSig:          {{kind: colBlob}},
	tblEventMap:               {{kind: colTable, table: tblTypeDef}, {kind: colTable, table: tblEvent}},
	tblEvent:                  {{kind: colU16}, {kind: colStr}, {kind: colCoded, coded: codedTypeDefOrRef}},
	tblPropertyMap:            {{kind: colTable, table: tblTypeDef}, {kind: colTable, table: tblProperty}},
	tblProperty:               {{kind: colU16}, {kind: colStr}, {kind: colBlob}},
	tblMethodSemantics:        {{kind: colU16}, {kind: colTable, table: tblMethodDef}, {kind: colCoded, coded: codedHasSemantics}},
	tblMethodImpl:             {{kind: colTable, table: tblTypeDef}, {kind: colCoded, coded: codedMethodDefOrRef}, {kind: colCoded, coded: codedMethodDefOrRef}},
	tblModuleRef:              {{kind: colStr}},
	tblTypeSpec:               {{kind: colBlob}},
	tblImplMap:                {{kind: colU16}, {kind: colCoded, coded: codedMemberForwarded}, {kind: colStr}, {kind: colTable, table: tblModuleRef}},
	tblFieldRVA:                {{kind: colU32}, {kind: colTable, table: tblField}},
	tblAssembly:               {{kind: colU32}, {kind: colU16}, {kind: colU16}, {kind: colU16}, {kind: colU16}, {kind: colU32}, {kind: colBlob}, {kind: colStr}, {kind: colStr}},
	tblAssemblyProcessor:      {{kind: colU32}},
	tblAssemblyOS:             {{kind: colU32}, {kind: colU32}, {kind: colU32}},
	tblAssemblyRef:            {{kind: colU16}, {kind: colU16}, {kind: colU16}, {kind: colU16}, {kind: colU32}, {kind: colBlob}, {kind: colStr}, {kind: colStr}, {kind: colBlob}},
	tblAssemblyRefProcessor:   {{kind: colU32}, {kind: colTable, table: tblAssemblyRef}},
	tblAssemblyRefOS:          {{kind: colU32}, {kind: colU32}, {kind: colU32}, {kind: colTable, table: tblAssemblyRef}},
	tblFile:                   {{kind: colU32}, {kind: colStr}, {kind: colBlob}},
	tblExportedType:           {{kind: colU32}, {kind: colU32}, {kind: colStr}, {kind: colStr}, {kind: colCoded, coded: codedImplementation}},
	tblManifestResource:       {{kind: colU32}, {kind: colU32}, {kind: colStr}, {kind: colCoded, coded: codedImplementation}},
	tblNestedClass:            {{kind: colTable, table: tblTypeDef}, {kind: colTable, table: tblTypeDef}},
	tblGenericParam:           {{kind: colU16}, {kind: colU16}, {kind: colCoded, coded: codedTypeOrMethodDef}, {kind: colStr}},
	tblMethodSpec:             {{kind: colCoded, coded: codedMethodDefOrRef}, {kind: colBlob}},
	tblGenericParamConstraint: {{kind: colTable, table: tblGenericParam}, {kind: colCoded, coded: codedTypeDefOrRef}},
}

// tableStream is the fully decoded #~ stream: row counts and raw column
// values (as uint64, coded indices left packed as table-tag|row) for every
// table present.
type tableStream struct {
	rowCounts [64]uint32
	rows      map[int][][]uint64
	wideStr   bool
	wideGUID  bool
	wideBlob  bool
}

// row returns the n-th (0-based) row of table id, or nil if table is absent
// or n is out of range.
func (t *tableStream) row(id int, n uint32) []uint64 {
	rows := t.rows[id]
	if int(n) >= len(rows) {
		return nil
	}
	return rows[n]
}

func (t *tableStream) count(id int) uint32 { return t.rowCounts[id] }

// decodeCoded splits a decoded coded-index raw value into (tableID, rowIndex
// 1-based as stored, or 0 meaning "null").
func decodeCoded(kind codedKind, raw uint64) (tableID int, row uint32) {
	tag := codedTags[kind]
	mask := uint64(1)<<tag.bits - 1
	tagVal := raw & mask
	idx := raw >> tag.bits
	if int(tagVal) >= len(tag.tables) {
		return -1, 0
	}
	return tag.tables[tagVal], uint32(idx)
}

// parseTableStream decodes the #~ stream header and every present table's
// rows (ECMA-335 II.24.2.6).
func parseTableStream(data []byte) (*tableStream, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("clr: #~ stream truncated")
	}
	heapSizes := data[6]
	valid := binary.LittleEndian.Uint64(data[8:16])
	// sorted bitmask at data[16:24] is not needed by this reader.
	pos := 24

	ts := &tableStream{rows: make(map[int][][]uint64)}
	ts.wideStr = heapSizes&0x01 != 0
	ts.wideGUID = heapSizes&0x02 != 0
	ts.wideBlob = heapSizes&0x04 != 0

	var present []int
	for id := 0; id < 64; id++ {
		if valid&(1<<uint(id)) != 0 {
			present = append(present, id)
		}
	}
	for _, id := range present {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("clr: row count truncated for table %#x", id)
		}
		ts.rowCounts[id] = binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	for _, id := range present {
		schema, ok := schemas[id]
		if !ok {
			return nil, fmt.Errorf("clr: unsupported metadata table %#x", id)
		}
		widths := make([]int, len(schema))
		for i, c := range schema {
			widths[i] = ts.columnWidth(c)
		}
		rowWidth := 0
		for _, w := range widths {
			rowWidth += w
		}
		n := int(ts.rowCounts[id])
		rows := make([][]uint64, n)
		for r := 0; r < n; r++ {
			if pos+rowWidth > len(data) {
				return nil, fmt.Errorf("clr: table %#x row %d truncated", id, r)
			}
			vals := make([]uint64, len(schema))
			off := pos
			for i, w := range widths {
				if w == 2 {
					vals[i] = uint64(binary.LittleEndian.Uint16(data[off : off+2]))
				} else {
					vals[i] = uint64(binary.LittleEndian.Uint32(data[off : off+4]))
				}
				off += w
			}
			rows[r] = vals
			pos += rowWidth
		}
		ts.rows[id] = rows
	}
	return ts, nil
}

// columnWidth returns 2 or 4, the on-disk width of one column.
func (t *tableStream) columnWidth(c column) int {
	switch c.kind {
	case colU16:
		return 2
	case colU32:
		return 4
	case colStr:
		if t.wideStr {
			return 4
		}
		return 2
	case colGuid:
		if t.wideGUID {
			return 4
		}
		return 2
	case colBlob:
		if t.wideBlob {
			return 4
		}
		return 2
	case colTable:
		if t.rowCounts[c.table] >= 1<<16 {
			return 4
		}
		return 2
	case colCoded:
		tag := codedTags[c.coded]
		var maxRows uint32
		for _, tbl := range tag.tables {
			if tbl < 0 {
				continue
			}
			if t.rowCounts[tbl] > maxRows {
				maxRows = t.rowCounts[tbl]
			}
		}
		if maxRows >= 1<<(16-tag.bits) {
			return 4
		}
		return 2
	}
	return 2
}
