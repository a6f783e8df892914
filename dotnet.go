// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// References
// https://www.ntcore.com/files/dotnetformat.htm

// COMImageFlagsType represents a COM+ header entry point flag type.
type COMImageFlagsType uint32

// COM+ Header entry point flags.
const (
	// The image file contains IL code only, with no embedded native unmanaged
	// code except the start-up stub (which simply executes an indirect jump to
	// the CLR entry point).
	COMImageFlagsILOnly = 0x00000001

	// The image file can be loaded only into a 32-bit process.
	COMImageFlags32BitRequired = 0x00000002

	// This flag is obsolete and should not be set. Setting it—as the IL
	// assembler allows, using the .corflags directive—will render your module
	// un-loadable.
	COMImageFlagILLibrary = 0x00000004

	// The image file is protected with a strong name signature.
	COMImageFlagsStrongNameSigned = 0x00000008

	// The executable's entry point is an unmanaged method. The EntryPointToken/
	// EntryPointRVA field of the CLR header contains the RVA of this native
	// method. This flag was introduced in version 2.0 of the CLR.
	COMImageFlagsNativeEntrypoint = 0x00000010

	// The CLR loader and the JIT compiler are required to track debug
	// information about the methods. This flag is not used.
	COMImageFlagsTrackDebugData = 0x00010000

	// The image file can be loaded into any process, but preferably into a
	// 32-bit process. This flag can be only set together with flag
	// COMIMAGE_FLAGS_32BITREQUIRED. When set, these two flags mean the image
	// is platform-neutral, but prefers to be loaded as 32-bit when possible.
	// This flag was introduced in CLR v4.0.
	COMImageFlags32BitPreferred = 0x00020000
)

// V-table fixup slot-width and marshaling flags. Documented for completeness
// of the CLR header's VTableFixups directory entry; this parser does not
// walk the fixup array itself (that is metadata-adjacent and out of scope).
const (
	// V-table slots are 32-bits in size.
	CORVTable32Bit = 0x01

	// V-table slots are 64-bits in size.
	CORVTable64Bit = 0x02

	// The thunk created by the common language runtime must provide data
	// marshaling between managed and unmanaged code.
	CORVTableFromUnmanaged = 0x04

	// The thunk created by the common language runtime must provide data
	// marshaling between managed and unmanaged code. Current appdomain should
	// be selected to dispatch the call.
	CORVTableFromUnmanagedRetainAppDomain = 0x08

	// Call most derived method described by the slot.
	CORVTableCallMostDerived = 0x10
)

// ImageDataDirectory represents the (RVA, size) directory pair format, as
// embedded inside the CLR header for its seven sub-directories.
type ImageDataDirectory struct {

	// The relative virtual address of the table.
	VirtualAddress uint32 `json:"virtual_address"`

	// The size of the table, in bytes.
	Size uint32 `json:"size"`
}

// ImageCOR20Header represents the CLR 2.0 (COR20) header structure located
// via data directory index 14. This is the full extent of .NET inspection
// this parser performs: metadata tables and heaps beyond this header are not
// decoded.
type ImageCOR20Header struct {

	// Size of the header in bytes.
	Cb uint32 `json:"cb"`

	// Major number of the minimum version of the runtime required to run the
	// program.
	MajorRuntimeVersion uint16 `json:"major_runtime_version"`

	// Minor number of the version of the runtime required to run the program.
	MinorRuntimeVersion uint16 `json:"minor_runtime_version"`

	// RVA and size of the metadata root. Not followed by this parser.
	MetaData ImageDataDirectory `json:"meta_data"`

	// Bitwise flags indicating attributes of this executable.
	Flags COMImageFlagsType `json:"flags"`

	// Metadata identifier (token) of the entry point for the image file; can
	// be 0 for DLL images. If COMImageFlagsNativeEntrypoint is not set this is
	// a managed metadata token; if set, it is interpreted as an RVA to a
	// native entry point instead.
	EntryPointRVAorToken uint32 `json:"entry_point_rva_or_token"`

	// Blob of managed resources, mapped by a metadata table this parser does
	// not decode.
	Resources ImageDataDirectory `json:"resources"`

	// RVA and size of the hash data used by the loader for binding and
	// versioning, and, if the assembly is strong-name signed, of the
	// signature itself.
	StrongNameSignature ImageDataDirectory `json:"strong_name_signature"`

	// RVA and size of the Code Manager table. Reserved, must be 0 in current
	// runtime releases.
	CodeManagerTable ImageDataDirectory `json:"code_manager_table"`

	// RVA and size in bytes of an array of virtual table (v-table) fixups.
	// Among current managed compilers, only the VC++ linker and the IL
	// assembler can produce this array.
	VTableFixups ImageDataDirectory `json:"vtable_fixups"`

	// RVA and size of an array of addresses of jump thunks exporting
	// unmanaged native methods embedded in the managed image. Obsolete since
	// CLR v2.0, must be 0.
	ExportAddressTableJumps ImageDataDirectory `json:"export_address_table_jumps"`

	// Reserved for precompiled (NGEN) images, where it points at a
	// CORCOMPILE_HEADER structure; 0 otherwise.
	ManagedNativeHeader ImageDataDirectory `json:"managed_native_header"`
}

// ImageCORVTableFixup describes one contiguous run of v-table slots that the
// CLR loader rewrites from metadata tokens into callable machine-code
// pointers at load time. IMAGE_COR20_HEADER.VTableFixups points at an array
// of these.
type ImageCORVTableFixup struct {
	RVA   uint32 `json:"rva"`   // Offset of v-table array in image.
	Count uint16 `json:"count"` // How many entries at location.
	Type  uint16 `json:"type"`  // COR_VTABLE_xxx type of entries.
}

// CLRData embeds the Common Language Runtime (COR20) header. Metadata
// streams and tables are not modeled.
type CLRData struct {
	CLRHeader ImageCOR20Header `json:"clr_header"`
}

// parseCLRHeaderDirectory decodes data directory index 14, the CLR/COR20
// descriptor. The 15th directory entry of the PE header contains the RVA
// and size of the runtime header in the image file; it should reside in a
// read-only section (conventionally .text for IL-assembler output).
func (img *Image) parseCLRHeaderDirectory(rva, size uint32) error {

	clrHeader := ImageCOR20Header{}
	offset, err := img.resolveDirectoryRva(rva, "ImageCOR20Header")
	if err != nil {
		return err
	}
	if err := img.structUnpack(&clrHeader, offset, size); err != nil {
		return err
	}

	img.CLR.CLRHeader = clrHeader
	// A present COR20 header is enough to report CLR data even if its
	// metadata root happens to be empty or malformed; that root is not
	// followed by this parser.
	img.HasCLR = true
	return nil
}

// String returns a string interpretation of a COMImageFlags type.
func (flags COMImageFlagsType) String() []string {
	COMImageFlags := map[COMImageFlagsType]string{
		COMImageFlagsILOnly:           "IL Only",
		COMImageFlags32BitRequired:    "32-Bit Required",
		COMImageFlagILLibrary:         "IL Library",
		COMImageFlagsStrongNameSigned: "Strong Name Signed",
		COMImageFlagsNativeEntrypoint: "Native Entrypoint",
		COMImageFlagsTrackDebugData:   "Track Debug Data",
		COMImageFlags32BitPreferred:   "32-Bit Preferred",
	}

	var values []string
	for k, v := range COMImageFlags {
		if (k & flags) == k {
			values = append(values, v)
		}
	}

	return values
}
