// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"
)

// buildDebugDataRSDS lays out a single IMAGE_DEBUG_DIRECTORY entry followed
// by its CodeView payload, both within the same section starting at
// sectionRVA. AddressOfRawData points at the payload; parseDebugDirectory
// translates it through the containing section like any other RVA.
func buildDebugDataRSDS(pdbName string, sectionRVA uint32) (data []byte, cvOff uint32, size uint32) {
	const dirSize = 28
	const cvHeaderSize = 24 // signature(4) + GUID(16) + age(4)

	cvOff = uint32(dirSize)
	total := cvOff + cvHeaderSize + uint32(len(pdbName)) + 1
	buf := make([]byte, total)

	// ImageDebugDirectory: Characteristics, TimeDateStamp, MajorVersion,
	// MinorVersion, Type, SizeOfData, AddressOfRawData, PointerToRawData.
	binary.LittleEndian.PutUint32(buf[0:4], 0)
	binary.LittleEndian.PutUint32(buf[4:8], 0x5F5E1000)
	binary.LittleEndian.PutUint16(buf[8:10], 0)
	binary.LittleEndian.PutUint16(buf[10:12], 0)
	binary.LittleEndian.PutUint32(buf[12:16], ImageDebugTypeCodeView)
	binary.LittleEndian.PutUint32(buf[16:20], cvHeaderSize+uint32(len(pdbName))+1)
	binary.LittleEndian.PutUint32(buf[20:24], sectionRVA+cvOff)
	binary.LittleEndian.PutUint32(buf[24:28], 0)

	// CodeView RSDS payload: signature, GUID, age, NUL-terminated PDB name.
	binary.LittleEndian.PutUint32(buf[cvOff:cvOff+4], CVSignatureRSDS)
	binary.LittleEndian.PutUint32(buf[cvOff+4:cvOff+8], 0xDBE09E71)
	binary.LittleEndian.PutUint16(buf[cvOff+8:cvOff+10], 0xB370)
	binary.LittleEndian.PutUint16(buf[cvOff+10:cvOff+12], 0x9CB7)
	copy(buf[cvOff+12:cvOff+20], []byte{34, 197, 94, 85, 115, 250, 123, 225})
	binary.LittleEndian.PutUint32(buf[cvOff+20:cvOff+24], 1)
	copy(buf[cvOff+24:], pdbName)

	return buf, cvOff, dirSize
}

func TestDebugDirectoryCodeViewRSDS(t *testing.T) {
	rva := uint32(testSectionAlign)
	data, _, size := buildDebugDataRSDS("kernel32.pdb", rva)

	img := buildImage(false, ImageFileMachineI386, []testSection{
		{name: ".rdata", rawData: data, characteristics: 0x40000040},
	}, [16]DataDirectory{
		ImageDirectoryEntryDebug: {VirtualAddress: rva, Size: size},
	})

	file, err := NewBytes(img, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := file.parseDebugDirectory(rva, size); err != nil {
		t.Fatalf("parseDebugDirectory failed: %v", err)
	}

	if len(file.Debugs) != 1 {
		t.Fatalf("debugs count = %d, want 1", len(file.Debugs))
	}
	if !file.HasDebug {
		t.Errorf("HasDebug = false, want true")
	}

	entry := file.Debugs[0]
	if entry.Type != "CodeView" {
		t.Errorf("entry.Type = %q, want %q", entry.Type, "CodeView")
	}

	pdb, ok := entry.Info.(CVInfoPDB70)
	if !ok {
		t.Fatalf("entry.Info is %T, want CVInfoPDB70", entry.Info)
	}
	if pdb.CVSignature.String() != "RSDS" {
		t.Errorf("CVSignature = %v, want RSDS", pdb.CVSignature)
	}
	if pdb.PDBFileName != "kernel32.pdb" {
		t.Errorf("PDBFileName = %q, want %q", pdb.PDBFileName, "kernel32.pdb")
	}
	wantGUID := GUID{
		Data1: 0xDBE09E71,
		Data2: 0xB370,
		Data3: 0x9CB7,
		Data4: [8]byte{34, 197, 94, 85, 115, 250, 123, 225},
	}
	if pdb.Signature != wantGUID {
		t.Errorf("Signature GUID = %+v, want %+v", pdb.Signature, wantGUID)
	}
	wantGUIDStr := "DBE09E71-B370-9CB7-22C5-5E5573FA7BE1"
	if got := pdb.Signature.String(); got != wantGUIDStr {
		t.Errorf("Signature.String() = %q, want %q", got, wantGUIDStr)
	}
	if pdb.Age != 1 {
		t.Errorf("Age = %d, want 1", pdb.Age)
	}
}
