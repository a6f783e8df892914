// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"fmt"
)

// The following values are defined for the Type field of the debug directory entry:
const (
	// An unknown value that is ignored by all tools.
	ImageDebugTypeUnknown = 0

	// The COFF debug information (line numbers, symbol table, and string table).
	ImageDebugTypeCOFF = 1

	// The Visual C++ debug information.
	ImageDebugTypeCodeView = 2

	// A copy of .pdata section.
	ImageDebugTypeException = 5

	// Reserved.
	ImageDebugTypeFixup = 6

	// The mapping from an RVA in image to an RVA in source image.
	ImageDebugTypeOMAPToSrc = 7

	// The mapping from an RVA in source image to an RVA in image.
	ImageDebugTypeOMAPFromSrc = 8

	// Reserved for Borland.
	ImageDebugTypeBorland = 9

	// Reserved.
	ImageDebugTypeReserved = 10

	// Incremental Link Time Code Generation (iLTCG).
	ImageDebugTypeILTCG = 14

	// Intel MPX.
	ImageDebugTypeMPX = 15
)

// CVSignatureRSDS is the CodeView signature of a PDB 7.0 payload, 'RSDS' as
// a little-endian dword.
const CVSignatureRSDS = 0x53445352

const maxPDBPathLength = 0x200

// ImageDebugDirectoryType represents the type of a debug directory entry.
type ImageDebugDirectoryType uint32

// ImageDebugDirectory is one fixed 28-byte record of the debug directory; the
// directory holds size/28 of them.
type ImageDebugDirectory struct {
	// Reserved, must be 0.
	Characteristics uint32 `json:"characteristics"`

	// The time and date that the debug data was created.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// The major version number of the debug data format.
	MajorVersion uint16 `json:"major_version"`

	// The minor version number of the debug data format.
	MinorVersion uint16 `json:"minor_version"`

	// The format of debugging information.
	Type ImageDebugDirectoryType `json:"type"`

	// The size of the debug data, not including the directory itself.
	SizeOfData uint32 `json:"size_of_data"`

	// The RVA of the debug data when loaded.
	AddressOfRawData uint32 `json:"address_of_raw_data"`

	// The file pointer to the debug data.
	PointerToRawData uint32 `json:"pointer_to_raw_data"`
}

// DebugEntry wraps an ImageDebugDirectory record with its decoded payload.
type DebugEntry struct {
	Struct ImageDebugDirectory `json:"struct"`

	// The CodeView RSDS payload (CVInfoPDB70) for a type 2 record, nil
	// otherwise; a type 2 record with any other signature also leaves it nil.
	Info interface{} `json:"info"`

	// Type of the debug entry, stringified.
	Type string `json:"type"`
}

// GUID is the 128-bit PDB identity: three little-endian fields followed by
// eight big-endian bytes.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// CVSignature represents a CodeView signature.
type CVSignature uint32

// CVInfoPDB70 is the CodeView payload of a type 2 debug record: the 'RSDS'
// signature, the PDB GUID and age, and the NUL-terminated PDB path.
type CVInfoPDB70 struct {
	CVSignature CVSignature `json:"cv_signature"`

	// A unique identifier, which changes with every rebuild of the
	// executable and PDB file.
	Signature GUID `json:"signature"`

	// Incremented every time a part of the PDB file is updated without
	// rewriting the whole file.
	Age uint32 `json:"age"`

	// Name of the PDB file, possibly a full or partial path.
	PDBFileName string `json:"pdb_file_name"`
}

// parseDebugDirectory decodes the sequence of fixed 28-byte debug records at
// the directory RVA; size/28 records are present. For CodeView records the
// payload is located through AddressOfRawData, translated via its containing
// section like any other RVA.
func (img *Image) parseDebugDirectory(rva, size uint32) error {

	debugDir := ImageDebugDirectory{}
	debugDirSize := uint32(binary.Size(debugDir))
	debugDirsCount := size / debugDirSize

	for i := uint32(0); i < debugDirsCount; i++ {
		offset, err := img.resolveDirectoryRva(rva+debugDirSize*i, "ImageDebugDirectory")
		if err != nil {
			return err
		}
		if err := img.structUnpack(&debugDir, offset, debugDirSize); err != nil {
			return err
		}

		entry := DebugEntry{Struct: debugDir, Type: debugDir.Type.String()}

		if debugDir.Type == ImageDebugTypeCodeView {
			cvOffset, err := img.resolveDirectoryRva(debugDir.AddressOfRawData, "CVInfoPDB70")
			if err != nil {
				return err
			}
			signature, err := img.ReadUint32(cvOffset)
			if err != nil {
				return err
			}

			if signature == CVSignatureRSDS {
				pdb := CVInfoPDB70{CVSignature: CVSignatureRSDS}

				guidSize := uint32(binary.Size(pdb.Signature))
				if err := img.structUnpack(&pdb.Signature, cvOffset+4, guidSize); err != nil {
					return err
				}
				pdb.Age, err = img.ReadUint32(cvOffset + 4 + guidSize)
				if err != nil {
					return err
				}
				pdb.PDBFileName, err = img.readCStringAt(cvOffset+4+guidSize+4, maxPDBPathLength)
				if err != nil {
					return err
				}

				entry.Info = pdb
			}
		}

		img.Debugs = append(img.Debugs, entry)
	}

	if len(img.Debugs) > 0 {
		img.HasDebug = true
	}
	return nil
}

// String returns the string representation of a GUID. The first three fields
// are stored little-endian and the trailing eight bytes big-endian, decoded
// here as two words and a dword. Hex digits are uppercase with no per-field
// zero padding.
func (g GUID) String() string {
	d4 := binary.BigEndian.Uint16(g.Data4[0:2])
	d5 := binary.BigEndian.Uint16(g.Data4[2:4])
	d6 := binary.BigEndian.Uint32(g.Data4[4:8])
	return fmt.Sprintf("%X-%X-%X-%X-%X%X", g.Data1, g.Data2, g.Data3, d4, d5, d6)
}

// String returns the string representation of a debug entry type.
func (t ImageDebugDirectoryType) String() string {
	debugTypeMap := map[ImageDebugDirectoryType]string{
		ImageDebugTypeUnknown:     "Unknown",
		ImageDebugTypeCOFF:        "COFF",
		ImageDebugTypeCodeView:    "CodeView",
		ImageDebugTypeException:   "Exception",
		ImageDebugTypeFixup:       "Fixup",
		ImageDebugTypeOMAPToSrc:   "OMAP To Src",
		ImageDebugTypeOMAPFromSrc: "OMAP From Src",
		ImageDebugTypeBorland:     "Borland",
		ImageDebugTypeReserved:    "Reserved",
		ImageDebugTypeILTCG:       "iLTCG",
		ImageDebugTypeMPX:         "MPX",
	}

	if v, ok := debugTypeMap[t]; ok {
		return v
	}
	return "?"
}

// String returns a string interpretation of a CodeView signature.
func (s CVSignature) String() string {
	if s == CVSignatureRSDS {
		return "RSDS"
	}
	return "?"
}
