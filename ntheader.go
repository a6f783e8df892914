// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"errors"
)

// ErrImageNtOptionalHeaderMagicNotFound is returned when the optional header
// magic is neither PE32 nor PE32+. ROM images (magic 0x107) and anything
// else unknown are not processed further.
var ErrImageNtOptionalHeaderMagicNotFound = errors.New(
	"not a valid PE signature. Optional Header magic not found")

// ImageFileHeaderMachineType represents the type of the file header Machine field.
type ImageFileHeaderMachineType uint16

// ImageFileHeaderCharacteristicsType represents the type of the file header
// Characteristics field.
type ImageFileHeaderCharacteristicsType uint16

// ImageOptionalHeaderSubsystemType represents the type of the optional header
// Subsystem field.
type ImageOptionalHeaderSubsystemType uint16

// ImageOptionalHeaderDllCharacteristicsType represents the type of the optional
// header DllCharacteristics field.
type ImageOptionalHeaderDllCharacteristicsType uint16

// ImageNtHeader represents the NT headers: the "PE\0\0" signature, the COFF
// file header and the optional header.
type ImageNtHeader struct {
	// Signature is a DWORD containing the value 50h, 45h, 00h, 00h.
	Signature uint32 `json:"signature"`

	// The COFF file header, located immediately after the PE signature.
	FileHeader ImageFileHeader `json:"file_header"`

	// OptionalHeader is of type ImageOptionalHeader32 or ImageOptionalHeader64.
	OptionalHeader interface{} `json:"optional_header"`
}

// ImageFileHeader contains the most general characteristics of the file.
type ImageFileHeader struct {
	// The number that identifies the type of target machine.
	Machine ImageFileHeaderMachineType `json:"machine"`

	// The number of sections, i.e. the size of the section table that
	// immediately follows the headers.
	NumberOfSections uint16 `json:"number_of_sections"`

	// The low 32 bits of the number of seconds since the Unix epoch when the
	// file was created.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// The file offset of the COFF symbol table, or zero if none is present.
	PointerToSymbolTable uint32 `json:"pointer_to_symbol_table"`

	// The number of entries in the COFF symbol table.
	NumberOfSymbols uint32 `json:"number_of_symbols"`

	// The size of the optional header.
	SizeOfOptionalHeader uint16 `json:"size_of_optional_header"`

	// The flags that indicate the attributes of the file.
	Characteristics ImageFileHeaderCharacteristicsType `json:"characteristics"`

	// IsPortableExecutable reports whether the NT headers begin with the
	// "PE\0\0" signature and carry a non-zero machine type. When false, the
	// image is not a portable executable and parsing stops without an error.
	IsPortableExecutable bool `json:"is_portable_executable"`
}

// ImageOptionalHeader32 is the PE32 optional header. BaseOfData exists only
// in this variant; PE32+ drops it.
type ImageOptionalHeader32 struct {
	// 0x10B for PE32, 0x20B for PE32+, 0x107 for a ROM image.
	Magic uint16 `json:"magic"`

	// Linker version that produced the file.
	MajorLinkerVersion uint8 `json:"major_linker_version"`
	MinorLinkerVersion uint8 `json:"minor_linker_version"`

	// The sum of all code section sizes.
	SizeOfCode uint32 `json:"size_of_code"`

	// The sum of all initialized data section sizes.
	SizeOfInitializedData uint32 `json:"size_of_initialized_data"`

	// The sum of all uninitialized (BSS) section sizes.
	SizeOfUninitializedData uint32 `json:"size_of_uninitialized_data"`

	// The RVA of the entry point, zero when there is none.
	AddressOfEntryPoint uint32 `json:"address_of_entrypoint"`

	// The RVA of the beginning-of-code section.
	BaseOfCode uint32 `json:"base_of_code"`

	// The RVA of the beginning-of-data section. Absent from PE32+.
	BaseOfData uint32 `json:"base_of_data"`

	// The preferred load address of the image, a multiple of 64K.
	ImageBase uint32 `json:"image_base"`

	// Section alignment in memory; at least FileAlignment.
	SectionAlignment uint32 `json:"section_alignment"`

	// Alignment of section raw data in the file, a power of 2 from 512 to 64K.
	FileAlignment uint32 `json:"file_alignment"`

	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`

	// Reserved, must be zero.
	Win32VersionValue uint32 `json:"win32_version_value"`

	// The size of the image in memory, a multiple of SectionAlignment.
	SizeOfImage uint32 `json:"size_of_image"`

	// The combined size of all headers rounded up to FileAlignment.
	SizeOfHeaders uint32 `json:"size_of_headers"`

	// The image file checksum.
	CheckSum uint32 `json:"checksum"`

	// The subsystem required to run this image.
	Subsystem ImageOptionalHeaderSubsystemType `json:"subsystem"`

	DllCharacteristics ImageOptionalHeaderDllCharacteristicsType `json:"dll_characteristics"`

	// Stack and heap reservations. 32 bits wide here, 64 in PE32+.
	SizeOfStackReserve uint32 `json:"size_of_stack_reserve"`
	SizeOfStackCommit  uint32 `json:"size_of_stack_commit"`
	SizeOfHeapReserve  uint32 `json:"size_of_heap_reserve"`
	SizeOfHeapCommit   uint32 `json:"size_of_heap_commit"`

	// Reserved, must be zero.
	LoaderFlags uint32 `json:"loader_flags"`

	// Number of data directory entries the image claims. The table below is
	// decoded as 16 slots regardless.
	NumberOfRvaAndSizes uint32 `json:"number_of_rva_and_sizes"`

	DataDirectory [16]DataDirectory `json:"data_directories"`
}

// ImageOptionalHeader64 is the PE32+ optional header: ImageBase and the
// stack/heap fields widen to 64 bits and BaseOfData is gone.
type ImageOptionalHeader64 struct {
	Magic                       uint16                                    `json:"magic"`
	MajorLinkerVersion          uint8                                     `json:"major_linker_version"`
	MinorLinkerVersion          uint8                                     `json:"minor_linker_version"`
	SizeOfCode                  uint32                                    `json:"size_of_code"`
	SizeOfInitializedData       uint32                                    `json:"size_of_initialized_data"`
	SizeOfUninitializedData     uint32                                    `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint         uint32                                    `json:"address_of_entrypoint"`
	BaseOfCode                  uint32                                    `json:"base_of_code"`
	ImageBase                   uint64                                    `json:"image_base"`
	SectionAlignment            uint32                                    `json:"section_alignment"`
	FileAlignment               uint32                                    `json:"file_alignment"`
	MajorOperatingSystemVersion uint16                                    `json:"major_os_version"`
	MinorOperatingSystemVersion uint16                                    `json:"minor_os_version"`
	MajorImageVersion           uint16                                    `json:"major_image_version"`
	MinorImageVersion           uint16                                    `json:"minor_image_version"`
	MajorSubsystemVersion       uint16                                    `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16                                    `json:"minor_subsystem_version"`
	Win32VersionValue           uint32                                    `json:"win32_version_value"`
	SizeOfImage                 uint32                                    `json:"size_of_image"`
	SizeOfHeaders               uint32                                    `json:"size_of_headers"`
	CheckSum                    uint32                                    `json:"checksum"`
	Subsystem                   ImageOptionalHeaderSubsystemType          `json:"subsystem"`
	DllCharacteristics          ImageOptionalHeaderDllCharacteristicsType `json:"dll_characteristics"`
	SizeOfStackReserve          uint64                                    `json:"size_of_stack_reserve"`
	SizeOfStackCommit           uint64                                    `json:"size_of_stack_commit"`
	SizeOfHeapReserve           uint64                                    `json:"size_of_heap_reserve"`
	SizeOfHeapCommit            uint64                                    `json:"size_of_heap_commit"`
	LoaderFlags                 uint32                                    `json:"loader_flags"`
	NumberOfRvaAndSizes         uint32                                    `json:"number_of_rva_and_sizes"`
	DataDirectory               [16]DataDirectory                         `json:"data_directories"`
}

// DataDirectory locates one named table within the image. The directory is
// present iff Size is non-zero.
type DataDirectory struct {
	VirtualAddress uint32 // The RVA of the table.
	Size           uint32 // The size in bytes of the table.
}

// ParseNTHeader parses the NT headers at the offset given by e_lfanew.
// A signature other than "PE\0\0" is not an error: the image is simply not a
// portable executable, and parsing stops after this check.
func (img *Image) ParseNTHeader() error {
	ntHeaderOffset := img.DOSHeader.AddressOfNewEXEHeader
	signature, err := img.ReadUint32(ntHeaderOffset)
	if err != nil {
		return err
	}

	if signature != ImageNTSignature {
		img.NtHeader.FileHeader.IsPortableExecutable = false
		return nil
	}
	img.NtHeader.Signature = signature

	// The wire COFF header is 20 bytes; the read size covers the trailing
	// derived IsPortableExecutable field too, or binary.Read runs out of
	// bytes. The flag is recomputed from Machine right after.
	fileHeaderReadSize := uint32(binary.Size(img.NtHeader.FileHeader))
	fileHeaderOffset := ntHeaderOffset + 4
	err = img.structUnpack(&img.NtHeader.FileHeader, fileHeaderOffset, fileHeaderReadSize)
	if err != nil {
		return err
	}
	img.NtHeader.FileHeader.IsPortableExecutable = img.NtHeader.FileHeader.Machine != 0

	// The optional header follows the COFF header and is discriminated by
	// its leading magic: PE32 and PE32+ differ in the width of ImageBase and
	// the stack/heap fields, and PE32+ drops BaseOfData.
	optHeaderOffset := ntHeaderOffset + (imageFileHeaderWireSize + 4)
	magic, err := img.ReadUint16(optHeaderOffset)
	if err != nil {
		return err
	}

	switch magic {
	case ImageNtOptionalHeader64Magic:
		oh64 := ImageOptionalHeader64{}
		err = img.structUnpack(&oh64, optHeaderOffset, uint32(binary.Size(oh64)))
		if err != nil {
			return err
		}
		img.Is64 = true
		img.NtHeader.OptionalHeader = oh64
	case ImageNtOptionalHeader32Magic:
		oh32 := ImageOptionalHeader32{}
		err = img.structUnpack(&oh32, optHeaderOffset, uint32(binary.Size(oh32)))
		if err != nil {
			return err
		}
		img.Is32 = true
		img.NtHeader.OptionalHeader = oh32
	default:
		return ErrImageNtOptionalHeaderMagicNotFound
	}

	img.HasNTHdr = true
	return nil
}

// dataDirectories returns the fixed 16-slot directory table of whichever
// optional header variant the image carries.
func (img *Image) dataDirectories() [16]DataDirectory {
	if img.Is64 {
		return img.NtHeader.OptionalHeader.(ImageOptionalHeader64).DataDirectory
	}
	return img.NtHeader.OptionalHeader.(ImageOptionalHeader32).DataDirectory
}

// String returns the string representation of the Machine field.
func (t ImageFileHeaderMachineType) String() string {
	machineType := map[ImageFileHeaderMachineType]string{
		ImageFileHeaderMachineType(ImageFileMachineUnknown): "Unknown",
		ImageFileHeaderMachineType(ImageFileMachineAMD64):   "x64",
		ImageFileHeaderMachineType(ImageFileMachineARM):     "ARM little endian",
		ImageFileHeaderMachineType(ImageFileMachineARM64):   "ARM64 little endian",
		ImageFileHeaderMachineType(ImageFileMachineARMNT):   "ARM Thumb-2 little endian",
		ImageFileHeaderMachineType(ImageFileMachineEBC):     "EFI byte code",
		ImageFileHeaderMachineType(ImageFileMachineI386):    "Intel 386 or later / compatible processors",
		ImageFileHeaderMachineType(ImageFileMachineIA64):    "Intel Itanium processor family",
		ImageFileHeaderMachineType(ImageFileMachinePowerPC): "Power PC little endian",
		ImageFileHeaderMachineType(ImageFileMachineR4000):   "MIPS little endian",
		ImageFileHeaderMachineType(ImageFileMachineTHUMB):   "Thumb",
	}

	if val, ok := machineType[t]; ok {
		return val
	}
	return "?"
}

// String returns the string representations of the set Characteristics bits.
func (t ImageFileHeaderCharacteristicsType) String() []string {
	var values []string
	fileHeaderCharacteristics := map[ImageFileHeaderCharacteristicsType]string{
		ImageFileRelocsStripped:    "RelocsStripped",
		ImageFileExecutableImage:   "ExecutableImage",
		ImageFileLineNumsStripped:  "LineNumsStripped",
		ImageFileLocalSymsStripped: "LocalSymsStripped",
		ImageFileLargeAddressAware: "LargeAddressAware",
		ImageFile32BitMachine:      "32BitMachine",
		ImageFileDebugStripped:     "DebugStripped",
		ImageFileSystem:            "FileSystem",
		ImageFileDLL:               "DLL",
	}

	for k, s := range fileHeaderCharacteristics {
		if k&t != 0 {
			values = append(values, s)
		}
	}
	return values
}

// String returns the string representations of the set DllCharacteristics bits.
func (t ImageOptionalHeaderDllCharacteristicsType) String() []string {
	var values []string
	imgDllCharacteristics := map[ImageOptionalHeaderDllCharacteristicsType]string{
		ImageDllCharacteristicsHighEntropyVA:        "HighEntropyVA",
		ImageDllCharacteristicsDynamicBase:          "DynamicBase",
		ImageDllCharacteristicsForceIntegrity:       "ForceIntegrity",
		ImageDllCharacteristicsNXCompact:            "NXCompact",
		ImageDllCharacteristicsNoIsolation:          "NoIsolation",
		ImageDllCharacteristicsNoSEH:                "NoSEH",
		ImageDllCharacteristicsNoBind:               "NoBind",
		ImageDllCharacteristicsAppContainer:         "AppContainer",
		ImageDllCharacteristicsWdmDriver:            "WdmDriver",
		ImageDllCharacteristicsGuardCF:              "GuardCF",
		ImageDllCharacteristicsTerminalServiceAware: "TerminalServiceAware",
	}

	for k, s := range imgDllCharacteristics {
		if k&t != 0 {
			values = append(values, s)
		}
	}
	return values
}

// String returns the string representation of the Subsystem field.
func (subsystem ImageOptionalHeaderSubsystemType) String() string {
	subsystemMap := map[ImageOptionalHeaderSubsystemType]string{
		ImageSubsystemUnknown:                "Unknown",
		ImageSubsystemNative:                 "Native",
		ImageSubsystemWindowsGUI:             "Windows GUI",
		ImageSubsystemWindowsCUI:             "Windows CUI",
		ImageSubsystemOS2CUI:                 "OS/2 character",
		ImageSubsystemPosixCUI:               "POSIX character",
		ImageSubsystemNativeWindows:          "Native Win9x driver",
		ImageSubsystemWindowsCEGUI:           "Windows CE GUI",
		ImageSubsystemEFIApplication:         "EFI Application",
		ImageSubsystemEFIBootServiceDriver:   "EFI Boot Service Driver",
		ImageSubsystemEFIRuntimeDriver:       "EFI Runtime Driver",
		ImageSubsystemEFIRom:                 "EFI ROM image",
		ImageSubsystemXBOX:                   "XBOX",
		ImageSubsystemWindowsBootApplication: "Windows boot application",
	}

	if val, ok := subsystemMap[subsystem]; ok {
		return val
	}
	return "?"
}

// PrettyOptionalHeaderMagic returns the string representation of the optional
// header Magic field.
func (img *Image) PrettyOptionalHeaderMagic() string {
	var magic uint16
	if img.Is64 {
		magic = img.NtHeader.OptionalHeader.(ImageOptionalHeader64).Magic
	} else {
		magic = img.NtHeader.OptionalHeader.(ImageOptionalHeader32).Magic
	}

	switch magic {
	case ImageNtOptionalHeader32Magic:
		return "PE32"
	case ImageNtOptionalHeader64Magic:
		return "PE64"
	case ImageROMOptionalHeaderMagic:
		return "ROM"
	default:
		return "?"
	}
}
