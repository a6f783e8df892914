// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

func TestParseSectionHeaders(t *testing.T) {
	data := buildImage(false, ImageFileMachineI386, []testSection{
		{name: ".text", rawData: []byte{0x90, 0x90, 0x90, 0x90}, characteristics: ImageScnCntCode | ImageScnMemExecute | ImageScnMemRead},
		{name: ".rdata", rawData: []byte{0xAA, 0xBB, 0xCC, 0xDD}, characteristics: ImageScnCntInitializedData | ImageScnMemRead},
	}, [16]DataDirectory{})

	img, err := NewBytes(data, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(img.Sections) != 2 {
		t.Fatalf("sections count = %d, want 2", len(img.Sections))
	}
	if !img.HasSections {
		t.Errorf("HasSections = false, want true")
	}

	if name := img.Sections[0].String(); name != ".text" {
		t.Errorf("sections[0] name = %q, want %q", name, ".text")
	}
	if name := img.Sections[1].String(); name != ".rdata" {
		t.Errorf("sections[1] name = %q, want %q", name, ".rdata")
	}
	if img.Sections[1].Characteristics != ImageScnCntInitializedData|ImageScnMemRead {
		t.Errorf("sections[1] characteristics = %#x", img.Sections[1].Characteristics)
	}
}

func TestSectionContainsEdges(t *testing.T) {
	sh := ImageSectionHeader{
		VirtualAddress: 0x1000,
		VirtualSize:    0x10,
		SizeOfRawData:  0x200,
	}

	if !sh.Contains(0x1000) {
		t.Errorf("Contains(start) = false, want true")
	}
	if !sh.Contains(0x100F) {
		t.Errorf("Contains(last byte) = false, want true")
	}
	// The RVA equal to VirtualAddress+size is not contained.
	if sh.Contains(0x1010) {
		t.Errorf("Contains(end) = true, want false")
	}
	if sh.Contains(0x0FFF) {
		t.Errorf("Contains(before start) = true, want false")
	}

	// With VirtualSize zero, SizeOfRawData supplies the extent.
	raw := ImageSectionHeader{VirtualAddress: 0x2000, SizeOfRawData: 0x200}
	if !raw.Contains(0x21FF) || raw.Contains(0x2200) {
		t.Errorf("zero-VirtualSize extent should fall back to SizeOfRawData")
	}
}

func TestSectionContainingFirstMatchWins(t *testing.T) {
	// Overlapping sections do not occur in a valid image; when they do, the
	// first match in declaration order wins.
	img := &Image{
		Sections: []ImageSectionHeader{
			{VirtualAddress: 0x1000, VirtualSize: 0x1000, PointerToRawData: 0x400},
			{VirtualAddress: 0x1800, VirtualSize: 0x1000, PointerToRawData: 0x1400},
		},
	}

	section := img.sectionContaining(0x1900)
	if section == nil || section.PointerToRawData != 0x400 {
		t.Errorf("sectionContaining(0x1900) = %+v, want the first declared section", section)
	}
	if img.sectionContaining(0x4000) != nil {
		t.Errorf("sectionContaining(0x4000) should be nil")
	}
}
