// Package rarfmt adapts this module's RarFileEntry shape to the
// ArchiveFileInfo/FilePartInfo JSON view used elsewhere in the
// ecosystem (github.com/javi11/rardecode), so downstream tools that
// already consume that shape can read this package's output directly.
package rarfmt

import "github.com/javi11/archivemeta"

// FilePartInfo is one volume part of a file.
type FilePartInfo struct {
	VolumeIndex  uint32 `json:"volumeIndex"`
	DataOffset   uint64 `json:"dataOffset"`
	PackedSize   uint64 `json:"packedSize"`
	UnpackedSize uint64 `json:"unpackedSize"`
	Stored       bool   `json:"stored"`
}

// ArchiveFileInfo is a complete file with all its volume parts.
type ArchiveFileInfo struct {
	Name              string         `json:"name"`
	TotalPackedSize   uint64         `json:"totalPackedSize"`
	TotalUnpackedSize uint64         `json:"totalUnpackedSize"`
	Parts             []FilePartInfo `json:"parts"`
	AllStored         bool           `json:"allStored"`
	CRC32             *uint32        `json:"crc32,omitempty"`
}

// ToArchiveFileInfo converts a RarFileEntry into the ArchiveFileInfo
// view. Non-split files are reported as a single part.
func ToArchiveFileInfo(e archivemeta.RarFileEntry) ArchiveFileInfo {
	stored := e.CompressionMethod == 0
	info := ArchiveFileInfo{
		Name:              e.Path,
		TotalUnpackedSize: e.UncompressedSize,
		AllStored:         stored,
		CRC32:             e.CRC32,
	}

	if len(e.SplitParts) == 0 {
		info.Parts = []FilePartInfo{{
			VolumeIndex:  e.VolumeIndex,
			DataOffset:   e.DataPosition,
			PackedSize:   e.CompressedSize,
			UnpackedSize: e.UncompressedSize,
			Stored:       stored,
		}}
		info.TotalPackedSize = e.CompressedSize
		return info
	}

	info.Parts = make([]FilePartInfo, len(e.SplitParts))
	for i, p := range e.SplitParts {
		info.Parts[i] = FilePartInfo{
			VolumeIndex:  p.VolumeIndex,
			DataOffset:   p.DataStartPosition,
			PackedSize:   p.DataSize,
			UnpackedSize: e.UncompressedSize,
			Stored:       stored,
		}
		info.TotalPackedSize += p.DataSize
	}
	return info
}
