// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	imageOrdinalFlag32  = uint32(0x80000000)
	imageOrdinalFlag64  = uint64(0x8000000000000000)
	addressMask32       = uint32(0x7fffffff)
	addressMask64       = uint64(0x7fffffffffffffff)
	maxDllLength        = 0x200
	maxImportNameLength = 0x200
)

// ErrImportTableMismatch is reported when the import address table and the
// import name table of one descriptor do not terminate after the same number
// of entries.
var ErrImportTableMismatch = errors.New(
	"import address table and import name table lengths differ")

// ImageImportDescriptor is one entry of the import directory table, one per
// DLL the image links against. The table ends with an all-zero descriptor.
type ImageImportDescriptor struct {
	// The RVA of the import name table (INT), an array of thunks carrying a
	// name or ordinal for each import. Aliased to Characteristics in winnt.h.
	OriginalFirstThunk uint32 `json:"original_first_thunk"`

	// Zero until the image is bound, then the time/date stamp of the DLL.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// The index of the first forwarder reference (-1 if no forwarders).
	ForwarderChain uint32 `json:"forwarder_chain"`

	// The RVA of the NUL-terminated ASCII name of the DLL.
	Name uint32 `json:"name"`

	// The RVA of the import address table (IAT). Identical in content to the
	// INT until the image is bound.
	FirstThunk uint32 `json:"first_thunk"`
}

// ImportFunction is one imported symbol of one descriptor. Address is the
// value stored in the IAT slot as it appears in the image; Hint and Name come
// from the INT side and Hint is meaningful only for by-name imports.
type ImportFunction struct {
	// Resolved name, or "(Ordinal N)" for a by-ordinal import.
	Name string `json:"name"`

	// Index into the exporting DLL's name pointer table. By-name imports only.
	Hint uint16 `json:"hint"`

	// True when the INT entry carries an ordinal instead of a name RVA.
	ByOrdinal bool `json:"by_ordinal"`

	// Ordinal number for a by-ordinal import, the low 16 bits of the thunk.
	Ordinal uint16 `json:"ordinal"`

	// The raw IAT slot value, widened to 64 bits on PE32.
	Address uint64 `json:"address"`
}

// Import is one parsed import descriptor: the wire record plus its resolved
// DLL name and function list.
type Import struct {
	Name       string                `json:"name"`
	Functions  []ImportFunction      `json:"functions"`
	Descriptor ImageImportDescriptor `json:"descriptor"`
}

// readThunk reads one thunk slot at rva, 4 bytes wide on PE32 and 8 on
// PE32+, widening the PE32 value to 64 bits.
func (img *Image) readThunk(rva uint32) (uint64, error) {
	offset, err := img.resolveDirectoryRva(rva, "ImageThunkData")
	if err != nil {
		return 0, err
	}
	if img.Is64 {
		return img.ReadUint64(offset)
	}
	v, err := img.ReadUint32(offset)
	return uint64(v), err
}

// thunkIsOrdinal reports whether a thunk imports by ordinal: the top bit of
// the entry, at whichever width the image uses.
func (img *Image) thunkIsOrdinal(thunk uint64) bool {
	if img.Is64 {
		return thunk&imageOrdinalFlag64 != 0
	}
	return uint32(thunk)&imageOrdinalFlag32 != 0
}

// thunkNameRVA extracts the IMAGE_IMPORT_BY_NAME RVA of a by-name thunk, the
// low 31 or 63 bits of the entry.
func (img *Image) thunkNameRVA(thunk uint64) uint32 {
	if img.Is64 {
		return uint32(thunk & addressMask64)
	}
	return uint32(thunk) & addressMask32
}

// walkThunkTables walks the descriptor's INT and IAT in lockstep until both
// hit their zero terminator. The by-ordinal/by-name decision and the hint and
// name come from the INT entry; the recorded address is the IAT value. The
// two tables must terminate together.
func (img *Image) walkThunkTables(desc *ImageImportDescriptor) ([]ImportFunction, error) {
	width := uint32(4)
	if img.Is64 {
		width = 8
	}

	var functions []ImportFunction
	for i := uint32(0); ; i++ {
		intEntry, err := img.readThunk(desc.OriginalFirstThunk + i*width)
		if err != nil {
			return nil, err
		}
		iatEntry, err := img.readThunk(desc.FirstThunk + i*width)
		if err != nil {
			return nil, err
		}

		if intEntry == 0 && iatEntry == 0 {
			break
		}
		if intEntry == 0 || iatEntry == 0 {
			return nil, &ParseError{Kind: DecodeFailure, Struct: "ImageThunkData",
				Offset: desc.OriginalFirstThunk + i*width, Err: ErrImportTableMismatch}
		}

		imp := ImportFunction{Address: iatEntry}
		if img.thunkIsOrdinal(intEntry) {
			imp.ByOrdinal = true
			imp.Ordinal = uint16(intEntry)
			imp.Name = fmt.Sprintf("(Ordinal %d)", imp.Ordinal)
		} else {
			// The low bits are an RVA to an IMAGE_IMPORT_BY_NAME record:
			// a u16 hint followed by the NUL-terminated function name.
			byNameOffset, err := img.resolveDirectoryRva(
				img.thunkNameRVA(intEntry), "ImageImportByName")
			if err != nil {
				return nil, err
			}
			imp.Hint, err = img.ReadUint16(byNameOffset)
			if err != nil {
				return nil, err
			}
			imp.Name, err = img.readCStringAt(byNameOffset+2, maxImportNameLength)
			if err != nil {
				return nil, err
			}
		}

		functions = append(functions, imp)
	}
	return functions, nil
}

// parseImportDirectory walks the import descriptor table at the directory's
// RVA. Iteration stops at the first descriptor whose OriginalFirstThunk is
// zero (the all-zero terminator included), which is not emitted; a table
// missing its terminator is bounded by the directory size instead.
func (img *Image) parseImportDirectory(rva, size uint32) error {

	descSize := uint32(binary.Size(ImageImportDescriptor{}))
	maxDescriptors := size / descSize

	for n := uint32(0); n < maxDescriptors; n++ {
		fileOffset, err := img.resolveDirectoryRva(rva, "ImageImportDescriptor")
		if err != nil {
			return err
		}

		desc := ImageImportDescriptor{}
		if err := img.structUnpack(&desc, fileOffset, descSize); err != nil {
			return err
		}
		if desc.OriginalFirstThunk == 0 {
			break
		}
		rva += descSize

		nameOffset, err := img.resolveDirectoryRva(desc.Name, "ImageImportDescriptor.Name")
		if err != nil {
			return err
		}
		dllName, err := img.readCStringAt(nameOffset, maxDllLength)
		if err != nil {
			return err
		}

		functions, err := img.walkThunkTables(&desc)
		if err != nil {
			return err
		}

		img.Imports = append(img.Imports, Import{
			Name:       dllName,
			Functions:  functions,
			Descriptor: desc,
		})
	}

	if len(img.Imports) > 0 {
		img.HasImport = true
	}
	return nil
}
