// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"
)

// buildCOR20Header encodes a minimal IMAGE_COR20_HEADER at the start of the
// returned buffer.
func buildCOR20Header(flags COMImageFlagsType, entryPoint uint32) []byte {
	buf := make([]byte, 72)
	binary.LittleEndian.PutUint32(buf[0:4], 72)      // Cb
	binary.LittleEndian.PutUint16(buf[4:6], 2)       // MajorRuntimeVersion
	binary.LittleEndian.PutUint16(buf[6:8], 5)       // MinorRuntimeVersion
	binary.LittleEndian.PutUint32(buf[8:12], 0x2050) // MetaData.VirtualAddress
	binary.LittleEndian.PutUint32(buf[12:16], 0x60)  // MetaData.Size
	binary.LittleEndian.PutUint32(buf[16:20], uint32(flags))
	binary.LittleEndian.PutUint32(buf[20:24], entryPoint)
	return buf
}

func TestClrHeaderDirectory(t *testing.T) {
	data := buildCOR20Header(COMImageFlagsILOnly|COMImageFlagsStrongNameSigned, 0x06000001)
	rva := uint32(testSectionAlign)

	img := buildImage(false, ImageFileMachineI386, []testSection{
		{name: ".text", rawData: data, characteristics: 0x60000020},
	}, [16]DataDirectory{
		ImageDirectoryEntryCLR: {VirtualAddress: rva, Size: uint32(len(data))},
	})

	file, err := NewBytes(img, &Options{Fast: true})
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	if err := file.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := file.parseCLRHeaderDirectory(rva, uint32(len(data))); err != nil {
		t.Fatalf("parseCLRHeaderDirectory failed: %v", err)
	}

	if !file.HasCLR {
		t.Errorf("HasCLR = false, want true")
	}

	hdr := file.CLR.CLRHeader
	if hdr.Cb != 72 {
		t.Errorf("Cb = %d, want 72", hdr.Cb)
	}
	if hdr.MajorRuntimeVersion != 2 || hdr.MinorRuntimeVersion != 5 {
		t.Errorf("runtime version = %d.%d, want 2.5", hdr.MajorRuntimeVersion, hdr.MinorRuntimeVersion)
	}
	if hdr.MetaData.VirtualAddress != 0x2050 || hdr.MetaData.Size != 0x60 {
		t.Errorf("MetaData = %+v, want {0x2050 0x60}", hdr.MetaData)
	}
	if hdr.EntryPointRVAorToken != 0x06000001 {
		t.Errorf("EntryPointRVAorToken = %#x, want 0x06000001", hdr.EntryPointRVAorToken)
	}
	wantFlags := COMImageFlagsType(COMImageFlagsILOnly | COMImageFlagsStrongNameSigned)
	if hdr.Flags != wantFlags {
		t.Errorf("Flags = %#x, want %#x", hdr.Flags, wantFlags)
	}
}

func TestCOMImageFlagsTypeString(t *testing.T) {
	flags := COMImageFlagsType(COMImageFlagsILOnly | COMImageFlags32BitRequired)

	values := flags.String()
	if len(values) != 2 {
		t.Fatalf("String() returned %d values, want 2: %v", len(values), values)
	}

	want := map[string]bool{"IL Only": true, "32-Bit Required": true}
	for _, v := range values {
		if !want[v] {
			t.Errorf("unexpected flag string %q", v)
		}
	}

	if got := COMImageFlagsType(0).String(); len(got) != 0 {
		t.Errorf("String() on zero flags = %v, want empty", got)
	}
}
