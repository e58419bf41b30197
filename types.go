// Package archivemeta extracts structural metadata from archive
// containers — RAR 4.x, RAR 5.x, and 7z — and resolves file identities
// from PAR2 recovery data, without ever inflating file contents.
//
// Every operation reads through a ByteSource: callers own how bytes are
// fetched (local files, buffered streams, HTTP byte ranges) and this
// package only ever seeks and reads.
package archivemeta

import (
	"github.com/javi11/archivemeta/internal/bytesource"
)

// ByteSource is the seekable, random-access stream every parser in this
// module reads archive bytes through.
type ByteSource = bytesource.Source

// VolumeDescriptor identifies one file making up a (possibly
// multi-volume) archive, as handed to the dispatcher and discovery
// helpers. First16KB is used for PAR2-based identity resolution and may
// be nil when unavailable.
type VolumeDescriptor struct {
	Filename  string
	Size      uint64
	First16KB []byte
}

// SplitPart is the portion of one logical file's data that lives in a
// single volume of a multi-volume archive, with positions absolute
// within the ordered concatenation of that archive's volumes.
type SplitPart struct {
	VolumeIndex       uint32
	DataStartPosition uint64
	DataSize          uint64
}

// RarFileEntry describes one file recorded in a RAR 4.x or RAR 5.x
// archive's header chain.
type RarFileEntry struct {
	Path              string
	UncompressedSize  uint64
	CompressedSize    uint64
	HeaderPosition    uint64
	DataPosition      uint64
	IsDirectory       bool
	VolumeIndex       uint32
	CompressionMethod int32
	SplitParts        []SplitPart
	CRC32             *uint32
}

// SevenZipFileEntry describes one file recorded in a 7z archive's
// header. 7z archives are not split across volumes by this package, so
// there is no SplitParts equivalent.
type SevenZipFileEntry struct {
	Path        string
	Size        uint64
	PackedSize  uint64
	DataOffset  uint64
	IsDirectory bool
	Method      string
	CRC32       *uint32
}

// ArchiveType identifies which container format a FileEntry, or an
// entire archive, was produced from.
type ArchiveType int

const (
	ArchiveUnknown ArchiveType = iota
	ArchiveRAR4
	ArchiveRAR5
	ArchiveSevenZip
)

func (t ArchiveType) String() string {
	switch t {
	case ArchiveRAR4:
		return "rar4"
	case ArchiveRAR5:
		return "rar5"
	case ArchiveSevenZip:
		return "7z"
	default:
		return "unknown"
	}
}

// FileEntry is a tagged variant over the two supported per-file
// metadata shapes: exactly one of Rar or SevenZip is non-nil.
type FileEntry struct {
	Rar      *RarFileEntry
	SevenZip *SevenZipFileEntry
}

// Path returns the entry's path regardless of which variant is set, or
// "" if neither is.
func (e FileEntry) Path() string {
	switch {
	case e.Rar != nil:
		return e.Rar.Path
	case e.SevenZip != nil:
		return e.SevenZip.Path
	default:
		return ""
	}
}

// Par2FileDescription is one FileDesc packet recovered from a PAR2
// recovery-set stream: the original filename keyed by the MD5 of its
// first 16KB, used to resolve obfuscated archive volume names.
type Par2FileDescription struct {
	FileID   [16]byte
	FileHash [16]byte
	Hash16k  [16]byte
	FileSize uint64
	Filename string
}

// Par2Info is the parsed identity of one PAR2 recovery set.
type Par2Info struct {
	RecoverySetID [16]byte
	Files         []Par2FileDescription
}
