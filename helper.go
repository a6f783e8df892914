// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
)

const (
	// TinyPESize On Windows XP (x32) the smallest PE executable is 97 bytes.
	TinyPESize = 97

	// imageFileHeaderWireSize is the on-disk size of IMAGE_FILE_HEADER (the
	// COFF header), fixed by the format. ImageFileHeader carries one extra
	// derived field (IsPortableExecutable) beyond the wire layout, so
	// binary.Size(FileHeader) can't be used for offset math.
	imageFileHeaderWireSize = 20
)

var (
	// ErrInvalidPESize is returned when the file size is less than the
	// smallest PE file size possible.
	ErrInvalidPESize = errors.New("not a PE file, smaller than tiny PE")

	// ErrOutsideBoundary is reported when attempting to read an address
	// beyond file image limits.
	ErrOutsideBoundary = errors.New("reading data outside boundary")

	// ErrSectionNotFound is reported when an RVA maps to no section.
	ErrSectionNotFound = errors.New("rva does not map to any section")

	// errNoStringTerminator is reported when a NUL-terminated string has no
	// terminator within its allotted span.
	errNoStringTerminator = errors.New("no NUL terminator found within span")
)

// GetOffsetFromRva translates an RVA to a file offset through the section
// that contains it: rva - VirtualAddress + PointerToRawData. The all-ones
// sentinel is returned when no section contains the RVA.
func (img *Image) GetOffsetFromRva(rva uint32) uint32 {
	section := img.sectionContaining(rva)
	if section == nil {
		return ^uint32(0)
	}
	return rva - section.VirtualAddress + section.PointerToRawData
}

// resolveDirectoryRva translates a directory's RVA to a file offset,
// returning a *ParseError with Kind UnresolvableRva when no section contains
// it. structName identifies the structure the caller is about to decode.
func (img *Image) resolveDirectoryRva(rva uint32, structName string) (uint32, error) {
	offset := img.GetOffsetFromRva(rva)
	if offset == ^uint32(0) {
		return 0, &ParseError{Kind: UnresolvableRva, Struct: structName,
			Offset: rva, Err: ErrSectionNotFound}
	}
	return offset, nil
}

// readCStringAt reads a NUL-terminated ASCII string starting at offset,
// requiring the terminator to appear within maxLen bytes and within the
// buffer. The returned string excludes the terminator.
func (img *Image) readCStringAt(offset, maxLen uint32) (string, error) {
	if offset >= img.size {
		return "", &ParseError{Kind: StringDecodeFailure, Struct: "string",
			Offset: offset, Err: ErrOutsideBoundary}
	}
	end := offset + maxLen
	if end < offset || end > img.size {
		end = img.size
	}
	for i := offset; i < end; i++ {
		if img.data[i] == 0 {
			return string(img.data[offset:i]), nil
		}
	}
	return "", &ParseError{Kind: StringDecodeFailure, Struct: "string",
		Offset: offset, Err: errNoStringTerminator}
}

// getStringAtRVA resolves rva through its containing section and reads the
// NUL-terminated ASCII string there, returning "" when the RVA does not
// resolve or the string is unterminated. For name-table entries where a
// missing name should not abort the walk.
func (img *Image) getStringAtRVA(rva, maxLen uint32) string {
	offset := img.GetOffsetFromRva(rva)
	if offset == ^uint32(0) {
		return ""
	}
	s, err := img.readCStringAt(offset, maxLen)
	if err != nil {
		return ""
	}
	return s
}

// ReadUint64 reads a little-endian uint64 at offset.
func (img *Image) ReadUint64(offset uint32) (uint64, error) {
	if img.size < 8 || offset > img.size-8 {
		return 0, &ParseError{Kind: DecodeFailure, Struct: "uint64",
			Offset: offset, Err: ErrOutsideBoundary}
	}
	return binary.LittleEndian.Uint64(img.data[offset:]), nil
}

// ReadUint32 reads a little-endian uint32 at offset.
func (img *Image) ReadUint32(offset uint32) (uint32, error) {
	if img.size < 4 || offset > img.size-4 {
		return 0, &ParseError{Kind: DecodeFailure, Struct: "uint32",
			Offset: offset, Err: ErrOutsideBoundary}
	}
	return binary.LittleEndian.Uint32(img.data[offset:]), nil
}

// ReadUint16 reads a little-endian uint16 at offset.
func (img *Image) ReadUint16(offset uint32) (uint16, error) {
	if img.size < 2 || offset > img.size-2 {
		return 0, &ParseError{Kind: DecodeFailure, Struct: "uint16",
			Offset: offset, Err: ErrOutsideBoundary}
	}
	return binary.LittleEndian.Uint16(img.data[offset:]), nil
}

// ReadUint8 reads a byte at offset.
func (img *Image) ReadUint8(offset uint32) (uint8, error) {
	if offset >= img.size {
		return 0, &ParseError{Kind: DecodeFailure, Struct: "uint8",
			Offset: offset, Err: ErrOutsideBoundary}
	}
	return img.data[offset], nil
}

// ReadBytesAtOffset returns size bytes starting at offset, borrowed from the
// image buffer.
func (img *Image) ReadBytesAtOffset(offset, size uint32) ([]byte, error) {
	end := offset + size
	if end < offset || offset >= img.size || end > img.size {
		return nil, &ParseError{Kind: DecodeFailure, Struct: "bytes",
			Offset: offset, Err: ErrOutsideBoundary}
	}
	return img.data[offset:end], nil
}

// structUnpack decodes size bytes at offset into iface, a pointer to a
// fixed-layout little-endian struct. Failures carry the struct's type name
// and the attempted offset.
func (img *Image) structUnpack(iface interface{}, offset, size uint32) error {
	name := structTypeName(iface)

	end := offset + size
	if end < offset || offset >= img.size || end > img.size {
		return &ParseError{Kind: DecodeFailure, Struct: name,
			Offset: offset, Err: ErrOutsideBoundary}
	}

	buf := bytes.NewReader(img.data[offset:end])
	if err := binary.Read(buf, binary.LittleEndian, iface); err != nil {
		return &ParseError{Kind: DecodeFailure, Struct: name,
			Offset: offset, Err: err}
	}
	return nil
}

// structTypeName returns the short Go type name of a struct pointer, for use
// as the Struct field of a ParseError.
func structTypeName(iface interface{}) string {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
