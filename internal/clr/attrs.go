package clr

// decodeFixedStringArgs does a best-effort decode of a CustomAttribute Value
// blob's fixed constructor arguments, assuming (as is true of every
// attribute this reader inspects — AssemblyProductAttribute,
// AssemblyMetadataAttribute, InternalsVisibleToAttribute,
// TypeIdentifierAttribute) that they are all SerString arguments. It does
// not decode named arguments, non-string fixed arguments, or arbitrary
// custom attribute signatures in general; see DESIGN.md.
func decodeFixedStringArgs(blob []byte) []string {
	if len(blob) < 2 {
		return nil
	}
	// Prolog: 0x0001 (ECMA-335 II.23.3).
	pos := 2
	var args []string
	for pos < len(blob) {
		if blob[pos] == 0xFF { // null string
			args = append(args, "")
			pos++
			continue
		}
		n, consumed := decodeCompressedLen(blob[pos:])
		if consumed == 0 {
			break
		}
		pos += consumed
		if pos+n > len(blob) {
			break
		}
		args = append(args, string(blob[pos:pos+n]))
		pos += n
	}
	return args
}
