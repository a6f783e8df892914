// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/go-kratos/kratos/v2/log"
)

// An Image represents an open PE image: the memory-mapped (or in-memory)
// byte buffer together with every header and directory record decoded from
// it by Parse.
type Image struct {
	DOSHeader  ImageDOSHeader       `json:"dos_header,omitempty"`
	NtHeader   ImageNtHeader        `json:"nt_header,omitempty"`
	Sections   []ImageSectionHeader `json:"sections,omitempty"`
	Export     Export               `json:"export,omitempty"`
	Imports    []Import             `json:"imports,omitempty"`
	Debugs     []DebugEntry         `json:"debugs,omitempty"`
	LoadConfig LoadConfig           `json:"load_config,omitempty"`
	CLR        CLRData              `json:"clr,omitempty"`
	ImageInfo
	data   mmap.MMap
	size   uint32
	f      *os.File
	opts   *Options
	logger *log.Helper
}

// Options for parsing.
type Options struct {

	// Parse only the PE headers and do not parse data directories, by
	// default (false).
	Fast bool

	// A custom logger.
	Logger log.Logger
}

func (img *Image) applyOptions(opts *Options) {
	if opts != nil {
		img.opts = opts
	} else {
		img.opts = &Options{}
	}

	if img.opts.Logger == nil {
		logger := log.NewStdLogger(os.Stdout)
		img.logger = log.NewHelper(log.NewFilter(logger,
			log.FilterLevel(log.LevelError)))
	} else {
		img.logger = log.NewHelper(img.opts.Logger)
	}
}

// New opens name, memory-maps it read-only, and returns an unparsed Image.
func New(name string, opts *Options) (*Image, error) {

	f, err := os.Open(name)
	if err != nil {
		return nil, &ParseError{Kind: IoFailure, Struct: "Image", Err: err}
	}

	// Memory map the file instead of using read/write.
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, &ParseError{Kind: IoFailure, Struct: "Image", Err: err}
	}

	img := Image{}
	img.applyOptions(opts)
	img.data = data
	img.size = uint32(len(img.data))
	img.f = f
	return &img, nil
}

// NewBytes wraps an in-memory buffer that is already resident (e.g. fetched
// from a blob store) in an unparsed Image, without touching the filesystem.
func NewBytes(data []byte, opts *Options) (*Image, error) {
	img := Image{}
	img.applyOptions(opts)
	img.data = data
	img.size = uint32(len(img.data))
	return &img, nil
}

// Close closes the Image.
func (img *Image) Close() error {
	if img.data != nil && img.f != nil {
		_ = img.data.Unmap()
	}

	if img.f != nil {
		return img.f.Close()
	}
	return nil
}

// Parse decodes the DOS header, the NT headers, the section table and
// (unless Options.Fast is set) every present data directory, in that order.
// It is the sole mutator of an Image and must be called exactly once. A
// non-MZ or non-PE input is a successful parse that stops early; a present
// directory that fails to decode is an error.
func (img *Image) Parse() error {

	// Check for the smallest PE size.
	if len(img.data) < TinyPESize {
		return &ParseError{Kind: IoFailure, Struct: "Image", Err: ErrInvalidPESize}
	}

	if err := img.ParseDOSHeader(); err != nil {
		return err
	}

	// A non-MZ image is not an error: the DOS header is still populated,
	// but there is nothing more to parse.
	if !img.DOSHeader.IsWindowsExecutable {
		return nil
	}

	if err := img.ParseNTHeader(); err != nil {
		return err
	}

	// A non-PE image is not an error either: the signature check already
	// recorded the outcome.
	if !img.NtHeader.FileHeader.IsPortableExecutable {
		return nil
	}

	if err := img.ParseSectionHeader(); err != nil {
		return err
	}

	// In fast mode, do not parse data directories.
	if img.opts.Fast {
		return nil
	}

	return img.ParseDataDirectories()
}

// String stringifies a data directory entry index.
func (entry ImageDirectoryEntry) String() string {
	dataDirMap := map[ImageDirectoryEntry]string{
		ImageDirectoryEntryExport:       "Export",
		ImageDirectoryEntryImport:       "Import",
		ImageDirectoryEntryResource:     "Resource",
		ImageDirectoryEntryException:    "Exception",
		ImageDirectoryEntryCertificate:  "Security",
		ImageDirectoryEntryBaseReloc:    "Relocation",
		ImageDirectoryEntryDebug:        "Debug",
		ImageDirectoryEntryArchitecture: "Architecture",
		ImageDirectoryEntryGlobalPtr:    "GlobalPtr",
		ImageDirectoryEntryTLS:          "TLS",
		ImageDirectoryEntryLoadConfig:   "LoadConfig",
		ImageDirectoryEntryBoundImport:  "BoundImport",
		ImageDirectoryEntryIAT:          "IAT",
		ImageDirectoryEntryDelayImport:  "DelayImport",
		ImageDirectoryEntryCLR:          "CLR",
		ImageDirectoryEntryReserved:     "Reserved",
	}

	return dataDirMap[entry]
}

// ParseDataDirectories resolves each present data directory into its typed
// record. The table always has 16 logical slots; a directory is present iff
// its size is non-zero, and an absent directory leaves its record zero with
// the matching Has* flag false. Present-but-invalid directory data is fatal:
// the first parser error aborts the parse.
func (img *Image) ParseDataDirectories() error {

	// Maps data directory index to the function which parses that directory.
	funcMaps := map[ImageDirectoryEntry](func(uint32, uint32) error){
		ImageDirectoryEntryExport:     img.parseExportDirectory,
		ImageDirectoryEntryImport:     img.parseImportDirectory,
		ImageDirectoryEntryDebug:      img.parseDebugDirectory,
		ImageDirectoryEntryLoadConfig: img.parseLoadConfigDirectory,
		ImageDirectoryEntryCLR:        img.parseCLRHeaderDirectory,
	}

	dirs := img.dataDirectories()
	for entryIndex := ImageDirectoryEntry(0); entryIndex < ImageNumberOfDirectoryEntries; entryIndex++ {
		entry := dirs[entryIndex]
		if entry.Size == 0 {
			continue
		}

		parseFunc, ok := funcMaps[entryIndex]
		if !ok {
			// Resource, exception, TLS and the remaining directories are out
			// of scope; their slots still count toward the fixed 16-entry
			// table but are never dereferenced.
			img.logger.Debugf("skipping out-of-scope data directory %s",
				entryIndex.String())
			continue
		}

		if err := parseFunc(entry.VirtualAddress, entry.Size); err != nil {
			return err
		}
	}
	return nil
}
