package archivemeta

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/rar4"
	"github.com/javi11/archivemeta/internal/rar5"
)

// ListFilesRAR walks a concatenated RAR4 or RAR5 volume stream and
// returns its file entries. totalSize and volumeSizes are optional
// (pass 0 / nil to disable split-position inference). Parser logging is
// disabled.
func ListFilesRAR(src ByteSource, totalSize int64, volumeSizes []uint64) ([]RarFileEntry, error) {
	return listFilesRAR(src, totalSize, volumeSizes, archivelog.Nop())
}

func listFilesRAR(src ByteSource, totalSize int64, volumeSizes []uint64, log zerolog.Logger) ([]RarFileEntry, error) {
	var head [8]byte
	n, err := src.Read(head[:])
	if err != nil && n == 0 {
		return nil, fmt.Errorf("reading signature: %w", err)
	}
	if err := src.Seek(0); err != nil {
		return nil, fmt.Errorf("rewinding after signature probe: %w", err)
	}

	archiveType, _ := DetectType(head[:n])

	switch archiveType {
	case ArchiveRAR5:
		entries, err := rar5.Parse(src, totalSize, volumeSizes, log)
		if err != nil {
			return nil, err
		}
		return convertRAR5(entries), nil
	case ArchiveRAR4:
		entries, err := rar4.Parse(src, totalSize, volumeSizes, log)
		if err != nil {
			return nil, err
		}
		return convertRAR4(entries), nil
	default:
		return nil, fmt.Errorf("%w: not a RAR stream", ErrInvalidSignature)
	}
}

func convertRAR4(entries []rar4.FileEntry) []RarFileEntry {
	out := make([]RarFileEntry, len(entries))
	for i, e := range entries {
		out[i] = RarFileEntry{
			Path:              e.Path,
			UncompressedSize:  e.UncompressedSize,
			CompressedSize:    e.CompressedSize,
			HeaderPosition:    e.HeaderPosition,
			DataPosition:      e.DataPosition,
			IsDirectory:       e.IsDirectory,
			VolumeIndex:       e.VolumeIndex,
			CompressionMethod: e.CompressionMethod,
			SplitParts:        convertRAR4Splits(e.SplitParts),
			CRC32:             e.CRC32,
		}
	}
	return out
}

func convertRAR4Splits(parts []rar4.SplitPart) []SplitPart {
	if len(parts) == 0 {
		return nil
	}
	out := make([]SplitPart, len(parts))
	for i, p := range parts {
		out[i] = SplitPart(p)
	}
	return out
}

func convertRAR5(entries []rar5.FileEntry) []RarFileEntry {
	out := make([]RarFileEntry, len(entries))
	for i, e := range entries {
		out[i] = RarFileEntry{
			Path:              e.Path,
			UncompressedSize:  e.UncompressedSize,
			CompressedSize:    e.CompressedSize,
			HeaderPosition:    e.HeaderPosition,
			DataPosition:      e.DataPosition,
			IsDirectory:       e.IsDirectory,
			VolumeIndex:       e.VolumeIndex,
			CompressionMethod: e.CompressionMethod,
			SplitParts:        convertRAR5Splits(e.SplitParts),
			CRC32:             e.CRC32,
		}
	}
	return out
}

func convertRAR5Splits(parts []rar5.SplitPart) []SplitPart {
	if len(parts) == 0 {
		return nil
	}
	out := make([]SplitPart, len(parts))
	for i, p := range parts {
		out[i] = SplitPart(p)
	}
	return out
}
