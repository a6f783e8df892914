// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"testing"
)

func parsedMinimalImage(t *testing.T) *Image {
	t.Helper()
	img, err := NewBytes(minimalImageBytes(), nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return img
}

func TestGetOffsetFromRva(t *testing.T) {
	img := parsedMinimalImage(t)

	section := img.Sections[0]
	got := img.GetOffsetFromRva(section.VirtualAddress + 2)
	want := section.PointerToRawData + 2
	if got != want {
		t.Errorf("GetOffsetFromRva = %#x, want %#x", got, want)
	}

	if off := img.GetOffsetFromRva(0x00800000); off != ^uint32(0) {
		t.Errorf("GetOffsetFromRva on an unmapped RVA = %#x, want the sentinel", off)
	}
}

func TestResolveDirectoryRvaError(t *testing.T) {
	img := parsedMinimalImage(t)

	_, err := img.resolveDirectoryRva(0x00800000, "ImageExportDirectory")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("resolveDirectoryRva error = %v, want a *ParseError", err)
	}
	if parseErr.Kind != UnresolvableRva || parseErr.Struct != "ImageExportDirectory" ||
		parseErr.Offset != 0x00800000 {
		t.Errorf("ParseError = %+v, want UnresolvableRva for ImageExportDirectory at 0x800000", parseErr)
	}
	if !errors.Is(err, ErrSectionNotFound) {
		t.Errorf("error should wrap ErrSectionNotFound, got %v", err)
	}
}

func TestBoundedReads(t *testing.T) {
	img := parsedMinimalImage(t)

	if _, err := img.ReadUint32(0); err != nil {
		t.Errorf("ReadUint32(0) failed: %v", err)
	}

	var parseErr *ParseError
	_, err := img.ReadUint32(img.size - 3)
	if !errors.As(err, &parseErr) || parseErr.Kind != DecodeFailure {
		t.Errorf("ReadUint32 past the end = %v, want a DecodeFailure ParseError", err)
	}
	_, err = img.ReadUint64(img.size)
	if !errors.As(err, &parseErr) || parseErr.Kind != DecodeFailure {
		t.Errorf("ReadUint64 past the end = %v, want a DecodeFailure ParseError", err)
	}
	_, err = img.ReadBytesAtOffset(img.size-1, 2)
	if !errors.As(err, &parseErr) || parseErr.Kind != DecodeFailure {
		t.Errorf("ReadBytesAtOffset past the end = %v, want a DecodeFailure ParseError", err)
	}
}

func TestReadCStringAt(t *testing.T) {
	img, err := NewBytes([]byte("abc\x00def"), nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}

	s, err := img.readCStringAt(0, 16)
	if err != nil || s != "abc" {
		t.Errorf("readCStringAt(0) = %q, %v, want \"abc\"", s, err)
	}

	// The terminator must appear within the buffer.
	_, err = img.readCStringAt(4, 16)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) || parseErr.Kind != StringDecodeFailure {
		t.Errorf("readCStringAt on an unterminated string = %v, want StringDecodeFailure", err)
	}
}
