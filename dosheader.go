// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
)

// ImageDOSHeader represents the DOS stub of a PE.
type ImageDOSHeader struct {
	// Magic number.
	Magic uint16 `json:"magic"`

	// Bytes on last page of file.
	BytesOnLastPageOfFile uint16 `json:"bytes_on_last_page_of_file"`

	// Pages in file.
	PagesInFile uint16 `json:"pages_in_file"`

	// Relocations.
	Relocations uint16 `json:"relocations"`

	// Size of header in paragraphs.
	SizeOfHeader uint16 `json:"size_of_header"`

	// Minimum extra paragraphs needed.
	MinExtraParagraphsNeeded uint16 `json:"min_extra_paragraphs_needed"`

	// Maximum extra paragraphs needed.
	MaxExtraParagraphsNeeded uint16 `json:"max_extra_paragraphs_needed"`

	// Initial (relative) SS value.
	InitialSS uint16 `json:"initial_ss"`

	// Initial SP value.
	InitialSP uint16 `json:"initial_sp"`

	// Checksum.
	Checksum uint16 `json:"checksum"`

	// Initial IP value.
	InitialIP uint16 `json:"initial_ip"`

	// Initial (relative) CS value.
	InitialCS uint16 `json:"initial_cs"`

	// Image address of relocation table.
	AddressOfRelocationTable uint16 `json:"address_of_relocation_table"`

	// Overlay number.
	OverlayNumber uint16 `json:"overlay_number"`

	// Reserved words.
	ReservedWords1 [4]uint16 `json:"reserved_words_1"`

	// OEM identifier.
	OEMIdentifier uint16 `json:"oem_identifier"`

	// OEM information.
	OEMInformation uint16 `json:"oem_information"`

	// Reserved words.
	ReservedWords2 [10]uint16 `json:"reserved_words_2"`

	// Image address of new exe header (Elfanew).
	AddressOfNewEXEHeader uint32 `json:"address_of__new_exe_header"`

	// IsWindowsExecutable reports whether the magic field holds the MZ
	// signature (the ZM variant is not accepted). When false, the remaining DOS header
	// fields above are still populated from the raw bytes read at offset 0,
	// but the image is not a Windows executable and parsing stops here.
	IsWindowsExecutable bool `json:"is_windows_executable"`
}

// ParseDOSHeader parses the DOS header stub. Every PE file begins with a small
// MS-DOS stub. The need for this arose in the early days of Windows, before a
// significant number of consumers were running it. When executed on a machine
// without Windows, the program could at least print out a message saying that
// Windows was required to run the executable.
func (img *Image) ParseDOSHeader() (err error) {
	offset := uint32(0)
	size := uint32(binary.Size(img.DOSHeader))
	err = img.structUnpack(&img.DOSHeader, offset, size)
	if err != nil {
		return err
	}

	if img.DOSHeader.Magic != ImageDOSSignature {
		// Not a Windows executable. This is not an error: the header bytes
		// were read successfully, they just don't describe an MZ stub.
		img.DOSHeader.IsWindowsExecutable = false
		img.HasDOSHdr = true
		return nil
	}
	img.DOSHeader.IsWindowsExecutable = true

	// `e_lfanew` is the only other element of the DOS header needed to turn
	// the EXE into a PE: the offset of the NT headers. An out-of-range value
	// fails there, at the signature read.
	img.HasDOSHdr = true
	return nil
}
