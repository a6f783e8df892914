// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"fmt"
)

const maxExportNameLength = 0x200

// ImageExportDirectory represents the IMAGE_EXPORT_DIRECTORY structure, the
// header of the export table. It is pointed to by the first data directory
// entry.
type ImageExportDirectory struct {
	Characteristics       uint32 `json:"characteristics"`
	TimeDateStamp         uint32 `json:"time_date_stamp"`
	MajorVersion          uint16 `json:"major_version"`
	MinorVersion          uint16 `json:"minor_version"`
	Name                  uint32 `json:"name"`
	Base                  uint32 `json:"base"`
	NumberOfFunctions     uint32 `json:"number_of_functions"`
	NumberOfNames         uint32 `json:"number_of_names"`
	AddressOfFunctions    uint32 `json:"address_of_functions"`
	AddressOfNames        uint32 `json:"address_of_names"`
	AddressOfNameOrdinals uint32 `json:"address_of_name_ordinals"`
}

// ExportFunction represents a single exported symbol. Name is synthesized
// as "(Ordinal N)" when no entry in the name table maps to this function
// slot. Forwarder/ForwarderRVA are populated when the function RVA points
// inside the export directory itself, meaning the export is forwarded to
// another module (the forwarder string is not followed any further: doing
// so would resolve a forwarded export across modules).
type ExportFunction struct {
	Ordinal      uint32 `json:"ordinal"`
	FunctionRVA  uint32 `json:"function_rva"`
	NameRVA      uint32 `json:"name_rva"`
	Name         string `json:"name"`
	Forwarder    string `json:"forwarder"`
	ForwarderRVA uint32 `json:"forwarder_rva"`
}

// Export represents the export table along with its parsed directory header.
type Export struct {
	Struct    ImageExportDirectory `json:"struct"`
	Functions []ExportFunction     `json:"functions"`
	Name      string               `json:"name"`
}

// parseExportDirectory parses the export directory. If size is zero the
// directory is absent and this is never invoked (callers gate on size != 0).
func (img *Image) parseExportDirectory(rva, size uint32) error {

	fileOffset, err := img.resolveDirectoryRva(rva, "ImageExportDirectory")
	if err != nil {
		return err
	}
	exportDir := ImageExportDirectory{}
	exportDirSize := uint32(binary.Size(exportDir))
	if err := img.structUnpack(&exportDir, fileOffset, exportDirSize); err != nil {
		return err
	}

	nameOffset, err := img.resolveDirectoryRva(exportDir.Name, "ImageExportDirectory.Name")
	if err != nil {
		return err
	}
	moduleName, err := img.readCStringAt(nameOffset, maxExportNameLength)
	if err != nil {
		return err
	}

	// Build the ordinal -> name map: for i in [0, NumberOfNames), the name
	// pointer table at AddressOfNames[i] gives the name RVA, and the
	// ordinal table at AddressOfNameOrdinals[i] gives the export-table
	// index that name belongs to.
	type namedExport struct {
		rva  uint32
		name string
	}
	nameOf := make(map[uint32]namedExport, exportDir.NumberOfNames)
	for i := uint32(0); i < exportDir.NumberOfNames; i++ {
		ordOff := img.GetOffsetFromRva(exportDir.AddressOfNameOrdinals + i*2)
		index, err := img.ReadUint16(ordOff)
		if err != nil {
			return err
		}

		nameOff := img.GetOffsetFromRva(exportDir.AddressOfNames + i*4)
		nameRVA, err := img.ReadUint32(nameOff)
		if err != nil {
			return err
		}

		nameOf[uint32(index)] = namedExport{
			rva:  nameRVA,
			name: img.getStringAtRVA(nameRVA, maxExportNameLength),
		}
	}

	exportStart := rva
	exportEnd := rva + size

	functions := make([]ExportFunction, 0, exportDir.NumberOfFunctions)
	for i := uint32(0); i < exportDir.NumberOfFunctions; i++ {
		addrOff := img.GetOffsetFromRva(exportDir.AddressOfFunctions + i*4)
		funcRVA, err := img.ReadUint32(addrOff)
		if err != nil {
			return err
		}

		// Unused export slots are zero and are skipped.
		if funcRVA == 0 {
			continue
		}

		ef := ExportFunction{
			Ordinal:     exportDir.Base + i,
			FunctionRVA: funcRVA,
		}

		if named, ok := nameOf[i]; ok {
			ef.Name = named.name
			ef.NameRVA = named.rva
		} else {
			ef.Name = fmt.Sprintf("(Ordinal %d)", ef.Ordinal)
		}

		// A function RVA landing inside the export directory itself is a
		// forwarder: the function body lives in another module, named by
		// a zero-terminated ASCII string at that RVA.
		if funcRVA >= exportStart && funcRVA < exportEnd {
			ef.ForwarderRVA = funcRVA
			ef.Forwarder = img.getStringAtRVA(funcRVA, maxExportNameLength)
		}

		functions = append(functions, ef)
	}

	img.Export = Export{
		Struct:    exportDir,
		Functions: functions,
		Name:      moduleName,
	}

	if len(img.Export.Functions) > 0 || img.Export.Name != "" {
		img.HasExport = true
	}

	return nil
}
