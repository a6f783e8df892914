// Copyright 2022 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

func TestParseDOSHeader(t *testing.T) {
	img := buildImage(false, ImageFileMachineI386, []testSection{
		{name: ".text", rawData: []byte{0x90, 0x90, 0x90, 0x90}, characteristics: 0x60000020},
	}, [16]DataDirectory{})

	want := ImageDOSHeader{
		Magic:                 ImageDOSSignature,
		AddressOfNewEXEHeader: testPEHeaderOffset,
		IsWindowsExecutable:   true,
	}

	file, err := NewBytes(img, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}

	if err := file.ParseDOSHeader(); err != nil {
		t.Fatalf("ParseDOSHeader failed: %v", err)
	}

	if file.DOSHeader != want {
		t.Errorf("parse DOS header assertion failed, got %v, want %v", file.DOSHeader, want)
	}
}

func TestParseDOSHeaderNonMZIsNotAnError(t *testing.T) {
	data := make([]byte, TinyPESize)
	copy(data, []byte{0x7F, 0x45, 0x4C, 0x46}) // "\x7FELF", not MZ/ZM.

	file, err := NewBytes(data, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}

	if err := file.Parse(); err != nil {
		t.Fatalf("Parse() on a non-MZ image returned an error: %v", err)
	}
	if file.DOSHeader.IsWindowsExecutable {
		t.Errorf("IsWindowsExecutable = true, want false")
	}
	if !file.HasDOSHdr {
		t.Errorf("HasDOSHdr = false, want true")
	}
	if file.HasNTHdr {
		t.Errorf("HasNTHdr = true, want false: parsing should have stopped after the DOS header")
	}
}
