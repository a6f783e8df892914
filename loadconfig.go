// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// References:
// https://www.virtualbox.org/svn/vbox/trunk/include/iprt/formats/pecoff.h
// https://github.com/hdoc/llvm-project/blob/release/15.x/llvm/include/llvm/Object/COFF.h

package pe

import (
	"bytes"
	"encoding/binary"
)

// The GuardFlags field contains a combination of one or more of the
// following flags and subfields:
const (
	// ImageGuardCfInstrumented indicates that the module performs control flow
	// integrity checks using system-supplied support.
	ImageGuardCfInstrumented = 0x00000100

	// ImageGuardCfWInstrumented indicates that the module performs control
	// flow and write integrity checks.
	ImageGuardCfWInstrumented = 0x00000200

	// ImageGuardCfFunctionTablePresent indicates that the module contains
	// valid control flow target metadata.
	ImageGuardCfFunctionTablePresent = 0x00000400

	// ImageGuardSecurityCookieUnused indicates that the module does not make
	// use of the /GS security cookie.
	ImageGuardSecurityCookieUnused = 0x00000800

	// ImageGuardProtectDelayLoadIAT indicates that the module supports read
	// only delay load IAT.
	ImageGuardProtectDelayLoadIAT = 0x00001000

	// ImageGuardDelayLoadIATInItsOwnSection indicates that the Delayload
	// import table in its own .didat section (with nothing else in it) that
	// can be freely reprotected.
	ImageGuardDelayLoadIATInItsOwnSection = 0x00002000

	// ImageGuardCfExportSuppressionInfoPresent indicates that the module
	// contains suppressed export information. This also infers that the
	// address taken IAT table is also present in the load config.
	ImageGuardCfExportSuppressionInfoPresent = 0x00004000

	// ImageGuardCfEnableExportSuppression indicates that the module enables
	// suppression of exports.
	ImageGuardCfEnableExportSuppression = 0x00008000

	// ImageGuardCfLongJumpTablePresent indicates that the module contains
	// long jmp target information.
	ImageGuardCfLongJumpTablePresent = 0x00010000
)

// ImageLoadConfigDirectory32 contains the on-disk load configuration data of
// an image for x86 binaries, up to and including the Control Flow Guard long
// jump target table. Fields the loader added after this point (CHPE, DVRT,
// enclave and volatile-metadata pointers) are out of scope for LoadConfig.
type ImageLoadConfigDirectory32 struct {
	// The actual size of the structure inclusive. May differ from the size
	// given in the data directory for Windows XP and earlier compatibility.
	Size uint32 `json:"size"`

	// Date and time stamp value.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// Major version number.
	MajorVersion uint16 `json:"major_version"`

	// Minor version number.
	MinorVersion uint16 `json:"minor_version"`

	// The global loader flags to clear for this process as the loader starts
	// the process.
	GlobalFlagsClear uint32 `json:"global_flags_clear"`

	// The global loader flags to set for this process as the loader starts the
	// process.
	GlobalFlagsSet uint32 `json:"global_flags_set"`

	// The default timeout value to use for this process's critical sections
	// that are abandoned.
	CriticalSectionDefaultTimeout uint32 `json:"critical_section_default_timeout"`

	// Memory that must be freed before it is returned to the system, in bytes.
	DeCommitFreeBlockThreshold uint32 `json:"de_commit_free_block_threshold"`

	// Total amount of free memory, in bytes.
	DeCommitTotalFreeThreshold uint32 `json:"de_commit_total_free_threshold"`

	// [x86 only] The VA of a list of addresses where the LOCK prefix is used so
	// that they can be replaced with NOP on single processor machines.
	LockPrefixTable uint32 `json:"lock_prefix_table"`

	// Maximum allocation size, in bytes.
	MaximumAllocationSize uint32 `json:"maximum_allocation_size"`

	// Maximum virtual memory size, in bytes.
	VirtualMemoryThreshold uint32 `json:"virtual_memory_threshold"`

	// Process heap flags that correspond to the first argument of the HeapCreate
	// function. These flags apply to the process heap that is created during
	// process startup.
	ProcessHeapFlags uint32 `json:"process_heap_flags"`

	// Setting this field to a non-zero value is equivalent to calling
	// SetProcessAffinityMask with this value during process startup (.exe only)
	ProcessAffinityMask uint32 `json:"process_affinity_mask"`

	// The service pack version identifier.
	CSDVersion uint16 `json:"csd_version"`

	// Must be zero.
	DependentLoadFlags uint16 `json:"dependent_load_flags"`

	// Reserved for use by the system.
	EditList uint32 `json:"edit_list"`

	// A pointer to a cookie that is used by Visual C++ or GS implementation.
	SecurityCookie uint32 `json:"security_cookie"`

	// [x86 only] The VA of the sorted table of RVAs of each valid, unique SE
	// handler in the image.
	SEHandlerTable uint32 `json:"se_handler_table"`

	// [x86 only] The count of unique handlers in the table.
	SEHandlerCount uint32 `json:"se_handler_count"`

	// The VA where Control Flow Guard check-function pointer is stored.
	GuardCFCheckFunctionPointer uint32 `json:"guard_cf_check_function_pointer"`

	// The VA where Control Flow Guard dispatch-function pointer is stored.
	GuardCFDispatchFunctionPointer uint32 `json:"guard_cf_dispatch_function_pointer"`

	// The VA of the sorted table of RVAs of each Control Flow Guard function in
	// the image.
	GuardCFFunctionTable uint32 `json:"guard_cf_function_table"`

	// The count of unique RVAs in the above table.
	GuardCFFunctionCount uint32 `json:"guard_cf_function_count"`

	// Control Flow Guard related flags.
	GuardFlags uint32 `json:"guard_flags"`

	// Code integrity information.
	CodeIntegrity ImageLoadConfigCodeIntegrity `json:"code_integrity"`

	// The VA where Control Flow Guard address taken IAT table is stored.
	GuardAddressTakenIATEntryTable uint32 `json:"guard_address_taken_iat_entry_table"`

	// The count of unique RVAs in the above table.
	GuardAddressTakenIATEntryCount uint32 `json:"guard_address_taken_iat_entry_count"`

	// The VA where Control Flow Guard long jump target table is stored.
	GuardLongJumpTargetTable uint32 `json:"guard_long_jump_target_table"`

	// The count of unique RVAs in the above table.
	GuardLongJumpTargetCount uint32 `json:"guard_long_jump_target_count"`
}

// ImageLoadConfigDirectory64 contains the on-disk load configuration data of
// an image for x64 binaries, trimmed to the same horizon as its 32-bit
// counterpart.
type ImageLoadConfigDirectory64 struct {
	Size                           uint32                       `json:"size"`
	TimeDateStamp                  uint32                       `json:"time_date_stamp"`
	MajorVersion                   uint16                       `json:"major_version"`
	MinorVersion                   uint16                       `json:"minor_version"`
	GlobalFlagsClear               uint32                       `json:"global_flags_clear"`
	GlobalFlagsSet                 uint32                       `json:"global_flags_set"`
	CriticalSectionDefaultTimeout  uint32                       `json:"critical_section_default_timeout"`
	DeCommitFreeBlockThreshold     uint64                       `json:"de_commit_free_block_threshold"`
	DeCommitTotalFreeThreshold     uint64                       `json:"de_commit_total_free_threshold"`
	LockPrefixTable                uint64                       `json:"lock_prefix_table"`
	MaximumAllocationSize          uint64                       `json:"maximum_allocation_size"`
	VirtualMemoryThreshold         uint64                       `json:"virtual_memory_threshold"`
	ProcessAffinityMask            uint64                       `json:"process_affinity_mask"`
	ProcessHeapFlags               uint32                       `json:"process_heap_flags"`
	CSDVersion                     uint16                       `json:"csd_version"`
	DependentLoadFlags             uint16                       `json:"dependent_load_flags"`
	EditList                       uint64                       `json:"edit_list"`
	SecurityCookie                 uint64                       `json:"security_cookie"`
	SEHandlerTable                 uint64                       `json:"se_handler_table"`
	SEHandlerCount                 uint64                       `json:"se_handler_count"`
	GuardCFCheckFunctionPointer    uint64                       `json:"guard_cf_check_function_pointer"`
	GuardCFDispatchFunctionPointer uint64                       `json:"guard_cf_dispatch_function_pointer"`
	GuardCFFunctionTable           uint64                       `json:"guard_cf_function_table"`
	GuardCFFunctionCount           uint64                       `json:"guard_cf_function_count"`
	GuardFlags                     uint32                       `json:"guard_flags"`
	CodeIntegrity                  ImageLoadConfigCodeIntegrity `json:"code_integrity"`
	GuardAddressTakenIATEntryTable uint64                       `json:"guard_address_taken_iat_entry_table"`
	GuardAddressTakenIATEntryCount uint64                       `json:"guard_address_taken_iat_entry_count"`
	GuardLongJumpTargetTable       uint64                       `json:"guard_long_jump_target_table"`
	GuardLongJumpTargetCount       uint64                       `json:"guard_long_jump_target_count"`
}

// ImageLoadConfigCodeIntegrity holds code integrity information (CI) embedded
// in the load config directory.
type ImageLoadConfigCodeIntegrity struct {
	// Flags to indicate if CI information is available, etc.
	Flags uint16 `json:"flags"`
	// 0xFFFF means not available
	Catalog       uint16 `json:"catalog"`
	CatalogOffset uint32 `json:"catalog_offset"`
	// Additional bitmask to be defined later
	Reserved uint32 `json:"reserved"`
}

// LoadConfig is the unified view of the load configuration directory: PE32
// fields are widened to 64 bits to match the PE32+ layout, so callers never
// need to branch on image bitness to read it.
type LoadConfig struct {
	Size                           uint32                       `json:"size"`
	TimeDateStamp                  uint32                       `json:"time_date_stamp"`
	MajorVersion                   uint16                       `json:"major_version"`
	MinorVersion                   uint16                       `json:"minor_version"`
	GlobalFlagsClear               uint32                       `json:"global_flags_clear"`
	GlobalFlagsSet                 uint32                       `json:"global_flags_set"`
	CriticalSectionDefaultTimeout  uint32                       `json:"critical_section_default_timeout"`
	DeCommitFreeBlockThreshold     uint64                       `json:"de_commit_free_block_threshold"`
	DeCommitTotalFreeThreshold     uint64                       `json:"de_commit_total_free_threshold"`
	LockPrefixTable                uint64                       `json:"lock_prefix_table"`
	MaximumAllocationSize          uint64                       `json:"maximum_allocation_size"`
	VirtualMemoryThreshold         uint64                       `json:"virtual_memory_threshold"`
	ProcessAffinityMask            uint64                       `json:"process_affinity_mask"`
	ProcessHeapFlags               uint32                       `json:"process_heap_flags"`
	CSDVersion                     uint16                       `json:"csd_version"`
	DependentLoadFlags             uint16                       `json:"dependent_load_flags"`
	EditList                       uint64                       `json:"edit_list"`
	SecurityCookie                 uint64                       `json:"security_cookie"`
	SEHandlerTable                 uint64                       `json:"se_handler_table"`
	SEHandlerCount                 uint64                       `json:"se_handler_count"`
	GuardCFCheckFunctionPointer    uint64                       `json:"guard_cf_check_function_pointer"`
	GuardCFDispatchFunctionPointer uint64                       `json:"guard_cf_dispatch_function_pointer"`
	GuardCFFunctionTable           uint64                       `json:"guard_cf_function_table"`
	GuardCFFunctionCount           uint64                       `json:"guard_cf_function_count"`
	GuardFlags                     uint32                       `json:"guard_flags"`
	CodeIntegrity                  ImageLoadConfigCodeIntegrity `json:"code_integrity"`
	GuardAddressTakenIATEntryTable uint64                       `json:"guard_address_taken_iat_entry_table"`
	GuardAddressTakenIATEntryCount uint64                       `json:"guard_address_taken_iat_entry_count"`
	GuardLongJumpTargetTable       uint64                       `json:"guard_long_jump_target_table"`
	GuardLongJumpTargetCount       uint64                       `json:"guard_long_jump_target_count"`
}

func loadConfigFrom32(lc ImageLoadConfigDirectory32) LoadConfig {
	return LoadConfig{
		Size:                           lc.Size,
		TimeDateStamp:                  lc.TimeDateStamp,
		MajorVersion:                   lc.MajorVersion,
		MinorVersion:                   lc.MinorVersion,
		GlobalFlagsClear:               lc.GlobalFlagsClear,
		GlobalFlagsSet:                 lc.GlobalFlagsSet,
		CriticalSectionDefaultTimeout:  lc.CriticalSectionDefaultTimeout,
		DeCommitFreeBlockThreshold:     uint64(lc.DeCommitFreeBlockThreshold),
		DeCommitTotalFreeThreshold:     uint64(lc.DeCommitTotalFreeThreshold),
		LockPrefixTable:                uint64(lc.LockPrefixTable),
		MaximumAllocationSize:          uint64(lc.MaximumAllocationSize),
		VirtualMemoryThreshold:         uint64(lc.VirtualMemoryThreshold),
		ProcessAffinityMask:            uint64(lc.ProcessAffinityMask),
		ProcessHeapFlags:               lc.ProcessHeapFlags,
		CSDVersion:                     lc.CSDVersion,
		DependentLoadFlags:             lc.DependentLoadFlags,
		EditList:                       uint64(lc.EditList),
		SecurityCookie:                 uint64(lc.SecurityCookie),
		SEHandlerTable:                 uint64(lc.SEHandlerTable),
		SEHandlerCount:                 uint64(lc.SEHandlerCount),
		GuardCFCheckFunctionPointer:    uint64(lc.GuardCFCheckFunctionPointer),
		GuardCFDispatchFunctionPointer: uint64(lc.GuardCFDispatchFunctionPointer),
		GuardCFFunctionTable:           uint64(lc.GuardCFFunctionTable),
		GuardCFFunctionCount:           uint64(lc.GuardCFFunctionCount),
		GuardFlags:                     lc.GuardFlags,
		CodeIntegrity:                  lc.CodeIntegrity,
		GuardAddressTakenIATEntryTable: uint64(lc.GuardAddressTakenIATEntryTable),
		GuardAddressTakenIATEntryCount: uint64(lc.GuardAddressTakenIATEntryCount),
		GuardLongJumpTargetTable:       uint64(lc.GuardLongJumpTargetTable),
		GuardLongJumpTargetCount:       uint64(lc.GuardLongJumpTargetCount),
	}
}

func loadConfigFrom64(lc ImageLoadConfigDirectory64) LoadConfig {
	return LoadConfig{
		Size:                           lc.Size,
		TimeDateStamp:                  lc.TimeDateStamp,
		MajorVersion:                   lc.MajorVersion,
		MinorVersion:                   lc.MinorVersion,
		GlobalFlagsClear:               lc.GlobalFlagsClear,
		GlobalFlagsSet:                 lc.GlobalFlagsSet,
		CriticalSectionDefaultTimeout:  lc.CriticalSectionDefaultTimeout,
		DeCommitFreeBlockThreshold:     lc.DeCommitFreeBlockThreshold,
		DeCommitTotalFreeThreshold:     lc.DeCommitTotalFreeThreshold,
		LockPrefixTable:                lc.LockPrefixTable,
		MaximumAllocationSize:          lc.MaximumAllocationSize,
		VirtualMemoryThreshold:         lc.VirtualMemoryThreshold,
		ProcessAffinityMask:            lc.ProcessAffinityMask,
		ProcessHeapFlags:               lc.ProcessHeapFlags,
		CSDVersion:                     lc.CSDVersion,
		DependentLoadFlags:             lc.DependentLoadFlags,
		EditList:                       lc.EditList,
		SecurityCookie:                 lc.SecurityCookie,
		SEHandlerTable:                 lc.SEHandlerTable,
		SEHandlerCount:                 lc.SEHandlerCount,
		GuardCFCheckFunctionPointer:    lc.GuardCFCheckFunctionPointer,
		GuardCFDispatchFunctionPointer: lc.GuardCFDispatchFunctionPointer,
		GuardCFFunctionTable:           lc.GuardCFFunctionTable,
		GuardCFFunctionCount:           lc.GuardCFFunctionCount,
		GuardFlags:                     lc.GuardFlags,
		CodeIntegrity:                  lc.CodeIntegrity,
		GuardAddressTakenIATEntryTable: lc.GuardAddressTakenIATEntryTable,
		GuardAddressTakenIATEntryCount: lc.GuardAddressTakenIATEntryCount,
		GuardLongJumpTargetTable:       lc.GuardLongJumpTargetTable,
		GuardLongJumpTargetCount:       lc.GuardLongJumpTargetCount,
	}
}

// The load configuration structure (IMAGE_LOAD_CONFIG_DIRECTORY) was formerly
// used in very limited cases in the Windows NT operating system itself to
// describe various features too difficult or too large to describe in the file
// header or optional header of the image. Current versions of the Microsoft
// linker and Windows XP and later versions of Windows use a new version of this
// structure for 32-bit x86-based systems that include reserved SEH technology.
// The data directory entry for a pre-reserved SEH load configuration structure
// must specify a particular size of the load configuration structure because
// the operating system loader always expects it to be a certain value. In that
// regard, the size is really only a version check. For compatibility with
// Windows XP and earlier versions of Windows, the size must be 64 for x86 images.
func (img *Image) parseLoadConfigDirectory(rva, size uint32) error {

	fileOffset, err := img.resolveDirectoryRva(rva, "ImageLoadConfigDirectory")
	if err != nil {
		return err
	}

	// As the load config structure changes over time, we first read its
	// size to figure out how much of it actually landed in the image:
	// older linkers emit a shorter struct than the one we decode against.
	structSize, err := img.ReadUint32(fileOffset)
	if err != nil {
		return err
	}

	totalSize := fileOffset + size
	if (totalSize > fileOffset) != (size > 0) || fileOffset >= img.size || totalSize > img.size {
		return &ParseError{Kind: DecodeFailure, Struct: "ImageLoadConfigDirectory", Offset: fileOffset, Err: ErrOutsideBoundary}
	}

	var cfg LoadConfig
	if img.Is32 {
		loadCfg32 := ImageLoadConfigDirectory32{}
		wireSize := uint32(binary.Size(loadCfg32))
		raw := make([]byte, wireSize)
		n := structSize
		if n > wireSize {
			n = wireSize
		}
		if n > img.size-fileOffset {
			n = img.size - fileOffset
		}
		copy(raw, img.data[fileOffset:fileOffset+n])
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &loadCfg32); err != nil {
			return &ParseError{Kind: DecodeFailure, Struct: "ImageLoadConfigDirectory32", Offset: fileOffset, Err: err}
		}
		cfg = loadConfigFrom32(loadCfg32)
	} else {
		loadCfg64 := ImageLoadConfigDirectory64{}
		wireSize := uint32(binary.Size(loadCfg64))
		raw := make([]byte, wireSize)
		n := structSize
		if n > wireSize {
			n = wireSize
		}
		if n > img.size-fileOffset {
			n = img.size - fileOffset
		}
		copy(raw, img.data[fileOffset:fileOffset+n])
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &loadCfg64); err != nil {
			return &ParseError{Kind: DecodeFailure, Struct: "ImageLoadConfigDirectory64", Offset: fileOffset, Err: err}
		}
		cfg = loadConfigFrom64(loadCfg64)
	}

	img.HasLoadCFG = true
	img.LoadConfig = cfg

	return nil
}

// StringifyGuardFlags returns list of strings which describes the GuardFlags.
func StringifyGuardFlags(flags uint32) []string {
	var values []string
	guardFlagMap := map[uint32]string{
		ImageGuardCfInstrumented:                 "Instrumented",
		ImageGuardCfWInstrumented:                "WriteInstrumented",
		ImageGuardCfFunctionTablePresent:         "TargetMetadata",
		ImageGuardSecurityCookieUnused:           "SecurityCookieUnused",
		ImageGuardProtectDelayLoadIAT:            "DelayLoadIAT",
		ImageGuardDelayLoadIATInItsOwnSection:    "DelayLoadIATInItsOwnSection",
		ImageGuardCfExportSuppressionInfoPresent: "ExportSuppressionInfoPresent",
		ImageGuardCfEnableExportSuppression:      "EnableExportSuppression",
		ImageGuardCfLongJumpTablePresent:         "LongJumpTablePresent",
	}

	for k, s := range guardFlagMap {
		if k&flags != 0 {
			values = append(values, s)
		}
	}
	return values
}
