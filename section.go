// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"strings"
)

// Section characteristics flags, the subset meaningful to an image file.
const (
	// ImageScnCntCode indicates the section contains executable code.
	ImageScnCntCode = 0x00000020

	// ImageScnCntInitializedData indicates the section contains initialized
	// data.
	ImageScnCntInitializedData = 0x00000040

	// ImageScnCntUninitializedData indicates the section contains
	// uninitialized data.
	ImageScnCntUninitializedData = 0x00000080

	// ImageScnMemDiscardable indicates the section can be discarded as needed.
	ImageScnMemDiscardable = 0x02000000

	// ImageScnMemShared indicates the section can be shared in memory.
	ImageScnMemShared = 0x10000000

	// ImageScnMemExecute indicates the section can be executed as code.
	ImageScnMemExecute = 0x20000000

	// ImageScnMemRead indicates the section can be read.
	ImageScnMemRead = 0x40000000

	// ImageScnMemWrite indicates the section can be written to.
	ImageScnMemWrite = 0x80000000
)

// ImageSectionHeader is one row of the section table. Each row maps a
// contiguous range of RVAs onto a range of file offsets; every RVA the
// directory parsers dereference is translated through exactly one of these.
type ImageSectionHeader struct {
	// An 8-byte, NUL-padded ASCII name. If the name is exactly 8 characters
	// there is no terminating NUL.
	Name [8]uint8 `json:"name"`

	// The total size of the section when loaded into memory. If this value
	// is greater than SizeOfRawData, the tail of the section is zero-filled.
	VirtualSize uint32 `json:"virtual_size"`

	// The address of the first byte of the section relative to the image
	// base when loaded into memory.
	VirtualAddress uint32 `json:"virtual_address"`

	// The size of the initialized data on disk, rounded to FileAlignment.
	SizeOfRawData uint32 `json:"size_of_raw_data"`

	// The file pointer to the first page of the section within the file.
	PointerToRawData uint32 `json:"pointer_to_raw_data"`

	// The file pointer to the beginning of relocation entries. Zero for
	// executable images.
	PointerToRelocations uint32 `json:"pointer_to_relocations"`

	// The file pointer to the beginning of COFF line-number entries.
	// Deprecated, zero in practice.
	PointerToLineNumbers uint32 `json:"pointer_to_line_numbers"`

	// The number of relocation entries. Zero for executable images.
	NumberOfRelocations uint16 `json:"number_of_relocations"`

	// The number of COFF line-number entries. Deprecated, zero in practice.
	NumberOfLineNumbers uint16 `json:"number_of_line_numbers"`

	// The flags describing the characteristics of the section.
	Characteristics uint32 `json:"characteristics"`
}

// String returns the section name with the NUL padding stripped.
func (sh *ImageSectionHeader) String() string {
	return strings.Replace(string(sh.Name[:]), "\x00", "", -1)
}

// virtualExtent is the size of the RVA range the section claims: the virtual
// size when the linker recorded one, the raw size otherwise (object-style
// headers leave VirtualSize zero).
func (sh *ImageSectionHeader) virtualExtent() uint32 {
	if sh.VirtualSize != 0 {
		return sh.VirtualSize
	}
	return sh.SizeOfRawData
}

// Contains reports whether rva falls within the half-open interval
// [VirtualAddress, VirtualAddress+extent). An RVA equal to the section end
// is not contained.
func (sh *ImageSectionHeader) Contains(rva uint32) bool {
	return rva >= sh.VirtualAddress && rva < sh.VirtualAddress+sh.virtualExtent()
}

// sectionContaining returns the section whose RVA range contains rva, or nil.
// Sections in a valid image do not overlap; if they do, the first match in
// declaration order wins.
func (img *Image) sectionContaining(rva uint32) *ImageSectionHeader {
	for i := range img.Sections {
		if img.Sections[i].Contains(rva) {
			return &img.Sections[i]
		}
	}
	return nil
}

// ParseSectionHeader reads NumberOfSections section headers, laid out
// immediately after the optional header.
func (img *Image) ParseSectionHeader() error {

	optionalHeaderOffset := img.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(imageFileHeaderWireSize)
	offset := optionalHeaderOffset +
		uint32(img.NtHeader.FileHeader.SizeOfOptionalHeader)

	headerSize := uint32(binary.Size(ImageSectionHeader{}))
	count := img.NtHeader.FileHeader.NumberOfSections

	for i := uint16(0); i < count; i++ {
		sh := ImageSectionHeader{}
		if err := img.structUnpack(&sh, offset, headerSize); err != nil {
			return err
		}
		img.Sections = append(img.Sections, sh)
		offset += headerSize
	}

	if len(img.Sections) > 0 {
		img.HasSections = true
	}
	return nil
}
