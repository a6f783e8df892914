// Copyright 2021 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"errors"
	"testing"
)

func minimalImageBytes() []byte {
	return buildImage(false, ImageFileMachineI386, []testSection{
		{name: ".text", rawData: []byte{0x90, 0x90, 0x90, 0x90}, characteristics: ImageScnCntCode | ImageScnMemExecute | ImageScnMemRead},
	}, [16]DataDirectory{})
}

func TestParse(t *testing.T) {
	data := minimalImageBytes()

	img, err := NewBytes(data, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	defer img.Close()

	if err := img.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !img.Is32 {
		t.Errorf("Is32 = false, want true")
	}
	if len(img.Sections) != 1 {
		t.Fatalf("Sections count = %d, want 1", len(img.Sections))
	}
}

func TestParseRejectsTooSmallBuffer(t *testing.T) {
	img, err := NewBytes([]byte{0x4D, 0x5A}, nil)
	if err != nil {
		t.Fatalf("NewBytes failed on tiny buffer: %v", err)
	}

	err = img.Parse()
	var parseErr *ParseError
	if !errors.As(err, &parseErr) || parseErr.Kind != IoFailure ||
		!errors.Is(err, ErrInvalidPESize) {
		t.Errorf("Parse() on tiny buffer = %v, want an IoFailure ParseError wrapping %v",
			err, ErrInvalidPESize)
	}
}

func TestParseAllDirectoriesAbsent(t *testing.T) {
	// Every data directory entry is zero-size: the parse succeeds and every
	// directory record stays absent.
	data := minimalImageBytes()

	img, err := NewBytes(data, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}
	if err := img.Parse(); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if img.HasExport || img.HasImport || img.HasDebug || img.HasLoadCFG || img.HasCLR {
		t.Errorf("expected every directory to be absent, got %+v", img.ImageInfo)
	}
	if len(img.Imports) != 0 || len(img.Debugs) != 0 {
		t.Errorf("expected no directory records, got %d imports, %d debug entries",
			len(img.Imports), len(img.Debugs))
	}
}

func TestParseUnresolvableDirectoryIsFatal(t *testing.T) {
	// A present export directory whose RVA maps to no section aborts the
	// parse with an UnresolvableRva error.
	img := buildImage(false, ImageFileMachineI386, []testSection{
		{name: ".text", rawData: []byte{0x90, 0x90, 0x90, 0x90}, characteristics: ImageScnCntCode | ImageScnMemExecute | ImageScnMemRead},
	}, [16]DataDirectory{
		ImageDirectoryEntryExport: {VirtualAddress: 0x00800000, Size: 0x40},
	})

	file, err := NewBytes(img, nil)
	if err != nil {
		t.Fatalf("NewBytes failed: %v", err)
	}

	err = file.Parse()
	var parseErr *ParseError
	if !errors.As(err, &parseErr) || parseErr.Kind != UnresolvableRva {
		t.Errorf("Parse() = %v, want an UnresolvableRva ParseError", err)
	}
}
