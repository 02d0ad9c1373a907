package clr

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
)

// comDescriptorDirectory is the index of the CLI header (COM descriptor)
// entry in a PE optional header's sixteen-slot data directory (spec §6:
// "CLI header at PE data directory index 14").
const comDescriptorDirectory = 14

// corHeaderSize is sizeof(IMAGE_COR20_HEADER).
const corHeaderSize = 72

// corHeader is the subset of IMAGE_COR20_HEADER this reader needs: just the
// MetaData data directory locating the metadata root.
type corHeader struct {
	MetaDataRVA  uint32
	MetaDataSize uint32
}

// probeManaged opens path and, if it carries a CLI header, returns the raw
// file bytes plus the section table needed to translate RVAs to file
// offsets. A nil return with a nil error means the file exists but is not a
// managed assembly, either because it is not a PE image at all or because
// it carries no CLI header (§4.A: "not a managed
// assembly" is a normal, non-error outcome, not a LoadFailure).
func probeManaged(path string) (raw []byte, sections []*pe.Section, header corHeader, managed bool, err error) {
	raw, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, corHeader{}, false, err
	}

	f, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		// Not a PE file at all: absent-managed-metadata, not a LoadFailure.
		return nil, nil, corHeader{}, false, nil
	}
	defer f.Close()

	var dirs []pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs = oh.DataDirectory[:]
	case *pe.OptionalHeader64:
		dirs = oh.DataDirectory[:]
	default:
		return nil, nil, corHeader{}, false, nil
	}
	if len(dirs) <= comDescriptorDirectory {
		return nil, nil, corHeader{}, false, nil
	}
	dir := dirs[comDescriptorDirectory]
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil, nil, corHeader{}, false, nil
	}

	corBytes, err := readRVA(raw, f.Sections, dir.VirtualAddress, corHeaderSize)
	if err != nil || len(corBytes) < corHeaderSize {
		return nil, nil, corHeader{}, false, nil
	}

	// IMAGE_COR20_HEADER: cb(4) MajorRuntimeVersion(2) MinorRuntimeVersion(2)
	// MetaData.RVA(4) MetaData.Size(4) ...
	h := corHeader{
		MetaDataRVA:  binary.LittleEndian.Uint32(corBytes[8:12]),
		MetaDataSize: binary.LittleEndian.Uint32(corBytes[12:16]),
	}
	if h.MetaDataRVA == 0 || h.MetaDataSize == 0 {
		return nil, nil, corHeader{}, false, nil
	}
	return raw, f.Sections, h, true, nil
}

// readRVA translates a relative virtual address into the containing
// section's raw file data and returns size bytes starting there.
func readRVA(raw []byte, sections []*pe.Section, rva uint32, size uint32) ([]byte, error) {
	for _, s := range sections {
		vsize := s.VirtualSize
		if vsize == 0 || vsize < s.Size {
			vsize = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+vsize {
			fileOff := s.Offset + (rva - s.VirtualAddress)
			end := uint64(fileOff) + uint64(size)
			if end > uint64(len(raw)) {
				return nil, fmt.Errorf("clr: rva %#x out of range", rva)
			}
			return raw[fileOff : uint64(fileOff)+uint64(size)], nil
		}
	}
	return nil, fmt.Errorf("clr: rva %#x not found in any section", rva)
}
