// Package sevenz implements the 7z signature header and tagged
// property-tree reader described in spec.md section 4.4: a fixed
// 32-byte signature header, a "leading-1-bits" varint for uint64
// values, and a metadata block walked to derive per-file data offsets
// for Copy-coded (uncompressed) streams. Encoded headers and any codec
// other than Copy are rejected rather than decoded, matching this
// package's read-only, non-decompressing scope.
package sevenz

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/javi11/archivemeta/internal/archiveerr"
	"github.com/javi11/archivemeta/internal/bytesource"
)

// Signature is the 6-byte 7z magic.
var Signature = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}

const (
	kEnd            = 0x00
	kHeader         = 0x01
	kMainStreamsInfo = 0x04
	kFilesInfo      = 0x05
	kPackInfo       = 0x06
	kUnpackInfo     = 0x07
	kSubStreamsInfo = 0x08
	kSize           = 0x09
	kNumUnpackStream = 0x0D
	kCRC            = 0x0A
	kFolder         = 0x0B
	kCodersUnpackSize = 0x0C
	kName           = 0x11
	kEmptyStream    = 0x0E
	kEmptyFile      = 0x0F
	kWinAttributes  = 0x15
	kMTime          = 0x14
	kDummy          = 0x19
	kEncodedHeader  = 0x17
)

const winAttrDirectory = 0x10

// FileEntry mirrors archivemeta.SevenZipFileEntry.
type FileEntry struct {
	Path        string
	Size        uint64
	PackedSize  uint64
	DataOffset  uint64
	IsDirectory bool
	Method      string
	CRC32       *uint32
}

// Parse reads the signature header and property tree of a 7z stream and
// derives per-file data offsets. Only single-coder Copy folders are
// supported; anything else yields archiveerr.ErrUnsupportedFeature.
func Parse(src bytesource.Source, log zerolog.Logger) ([]FileEntry, error) {
	if err := src.Seek(0); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}

	var sigHeader [32]byte
	if _, err := io.ReadFull(src, sigHeader[:]); err != nil {
		return nil, fmt.Errorf("%w: reading signature header: %v", archiveerr.ErrTruncatedInput, err)
	}
	if !bytesEqual(sigHeader[0:6], Signature) {
		return nil, fmt.Errorf("%w: not a 7z stream", archiveerr.ErrInvalidSignature)
	}

	nextHeaderOffset := int64(binary.LittleEndian.Uint64(sigHeader[12:20]))
	nextHeaderSize := int64(binary.LittleEndian.Uint64(sigHeader[20:28]))
	if nextHeaderSize < 0 || nextHeaderOffset < 0 {
		return nil, fmt.Errorf("%w: negative header offset/size", archiveerr.ErrMalformedFrame)
	}

	metaStart := int64(32) + nextHeaderOffset
	meta := make([]byte, nextHeaderSize)
	if nextHeaderSize > 0 {
		if err := src.Seek(metaStart); err != nil {
			return nil, fmt.Errorf("seek to metadata: %w", err)
		}
		if _, err := io.ReadFull(src, meta); err != nil {
			return nil, fmt.Errorf("%w: reading metadata block: %v", archiveerr.ErrTruncatedInput, err)
		}
	}

	r := &reader{buf: meta, log: log}
	return r.parseTopLevel()
}

// ReadUint64 decodes the 7z "leading-1-bits" varint from r.
func ReadUint64(r io.ByteReader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	var extra int
	mask := byte(0x80)
	for extra = 0; extra < 8; extra++ {
		if first&mask == 0 {
			break
		}
		mask >>= 1
	}

	var value uint64
	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b) << (8 * i)
	}

	highMask := byte(0xFF)
	if extra < 8 {
		highMask = mask - 1
	} else {
		highMask = 0
	}
	high := uint64(first & highMask)
	value |= high << (8 * extra)
	return value, nil
}

// EncodeUint64 is the inverse of ReadUint64, choosing the minimal
// extra-byte count for v (spec.md testable property 3).
func EncodeUint64(v uint64) []byte {
	for extra := 0; extra < 8; extra++ {
		if fits7z(v, extra) {
			marker := byte(0xFF << (8 - extra) & 0xFF)
			high := byte(v >> (8 * uint(extra)))
			out := make([]byte, 1+extra)
			out[0] = marker | high
			for i := 0; i < extra; i++ {
				out[1+i] = byte(v >> (8 * uint(i)))
			}
			return out
		}
	}
	out := make([]byte, 9)
	out[0] = 0xFF
	for i := 0; i < 8; i++ {
		out[1+i] = byte(v >> (8 * uint(i)))
	}
	return out
}

func fits7z(v uint64, extra int) bool {
	if extra >= 8 {
		return true
	}
	highBits := uint(7 - extra)
	return v>>(8*uint(extra)) < (uint64(1) << highBits)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
