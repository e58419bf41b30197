// Package rar4 implements the RAR 4.x block chain parser described in
// spec.md section 4.2: a fixed 7-byte block frame, file headers with an
// optional large-file extension, multi-volume continuation detection
// tolerant of zero-padding, and an analytic split-position inference
// optimization that can skip reading intermediate volumes entirely.
package rar4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/javi11/archivemeta/internal/archiveerr"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/rarunicode"
)

// Signature is the 7-byte RAR 4.x magic.
var Signature = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}

const (
	blockTypeArchiveHeader = 0x73
	blockTypeFile          = 0x74
	blockTypeEndOfArchive  = 0x7B

	flagSplitBefore = 0x0001
	flagSplitAfter  = 0x0002
	flagPassword    = 0x0004
	flagUnicodeName = 0x0200
	flagLargeFile   = 0x0100

	dirFlagMask  = 0x00E0
	dirFlagValue = 0x00E0
)

// SplitPart is the portion of one file residing in one volume, absolute
// within the concatenated stream the parser was given.
type SplitPart struct {
	VolumeIndex       uint32
	DataStartPosition uint64
	DataSize          uint64
}

// FileEntry mirrors archivemeta.RarFileEntry; the top-level package
// converts between the two at the API boundary so this package stays
// free of a dependency on its importer.
type FileEntry struct {
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

// ContinuationHeaderSize is the public formula from spec.md section 4.2:
// the fixed preamble every non-first volume carries before a continued
// file's data resumes, given the (identical, per spec) filename length
// and whether the file used the large-file header extension.
func ContinuationHeaderSize(nameLen int, largeFile bool) int64 {
	size := int64(52 + nameLen)
	if largeFile {
		size += 8
	}
	return size
}

type blockFrame struct {
	Type  byte
	Flags uint16
	Size  uint16
}

// Parse walks the block chain of a concatenated RAR4 volume stream
// starting at position 0. volumeSizes, if non-nil, enables split-position
// inference (spec.md 4.2): subsequent volumes are not read at all when a
// split file's continuation can be computed analytically.
func Parse(src bytesource.Source, totalSize int64, volumeSizes []uint64, log zerolog.Logger) ([]FileEntry, error) {
	if err := src.Seek(0); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}

	var sig [7]byte
	if _, err := io.ReadFull(src, sig[:]); err != nil {
		return nil, fmt.Errorf("%w: reading signature: %v", archiveerr.ErrTruncatedInput, err)
	}
	if !bytesEqual(sig[:], Signature) {
		return nil, fmt.Errorf("%w: not a RAR4 stream", archiveerr.ErrInvalidSignature)
	}

	p := &parser{
		src:         src,
		totalSize:   totalSize,
		volumeSizes: volumeSizes,
		log:         log,
		byPath:      make(map[string]int),
	}
	p.pos = 7
	p.volumeIndex = 0

	if err := p.run(); err != nil {
		return nil, err
	}
	return p.entries, nil
}

type parser struct {
	src         bytesource.Source
	totalSize   int64
	volumeSizes []uint64

	pos         int64
	volumeIndex uint32
	justEnded   bool

	entries []FileEntry
	byPath  map[string]int

	log zerolog.Logger
}

func (p *parser) run() error {
	for {
		if p.totalSize > 0 && p.pos >= p.totalSize {
			return nil
		}
		if p.justEnded {
			cont, consumed, ok, err := p.checkContinuation()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			p.pos += consumed
			if cont {
				p.volumeIndex++
				p.justEnded = false
			}
			continue
		}

		hdrStart := p.pos
		frame, err := p.readFrame()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frameEnd := hdrStart + int64(frame.Size)
		if frame.Size < 7 {
			return fmt.Errorf("%w: block size %d smaller than frame header at %d", archiveerr.ErrMalformedFrame, frame.Size, hdrStart)
		}

		switch frame.Type {
		case blockTypeFile:
			if err := p.parseFileHeader(hdrStart, frameEnd, frame); err != nil {
				return err
			}
		case blockTypeEndOfArchive:
			if err := p.seekTo(frameEnd); err != nil {
				return err
			}
			p.justEnded = true
			continue
		default:
			if err := p.seekTo(frameEnd); err != nil {
				return err
			}
		}
	}
}

// readFrame reads the 7-byte block frame at the current position.
func (p *parser) readFrame() (blockFrame, error) {
	var raw [7]byte
	if _, err := io.ReadFull(p.src, raw[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return blockFrame{}, io.EOF
		}
		return blockFrame{}, fmt.Errorf("%w: reading block frame at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
	}
	p.pos += 7
	return blockFrame{
		Type:  raw[2],
		Flags: binary.LittleEndian.Uint16(raw[3:5]),
		Size:  binary.LittleEndian.Uint16(raw[5:7]),
	}, nil
}

func (p *parser) seekTo(pos int64) error {
	if err := p.src.Seek(pos); err != nil {
		return fmt.Errorf("seek to %d: %w", pos, err)
	}
	p.pos = pos
	return nil
}

// parseFileHeader reads the file-header body that follows a 0x74 frame,
// records header_position (frame end) and data_position (body end), and
// seeks past the data area. It also drives the split-position inference
// optimization when the conditions in spec.md 4.2 are met.
func (p *parser) parseFileHeader(hdrStart, frameEnd int64, frame blockFrame) error {
	headerPosition := p.pos // frame end: right after the 7-byte frame

	if frame.Flags&flagPassword != 0 {
		return fmt.Errorf("%w: file header at %d is password-protected", archiveerr.ErrPasswordProtected, hdrStart)
	}

	var fixed [25]byte
	if _, err := io.ReadFull(p.src, fixed[:]); err != nil {
		return fmt.Errorf("%w: reading file header fixed fields at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
	}
	p.pos += 25

	packSize32 := binary.LittleEndian.Uint32(fixed[0:4])
	unpSize32 := binary.LittleEndian.Uint32(fixed[4:8])
	fileCRC := binary.LittleEndian.Uint32(fixed[9:13])
	method := fixed[18]
	nameLen := binary.LittleEndian.Uint16(fixed[19:21])

	largeFile := frame.Flags&flagLargeFile != 0
	var highPack, highUnp uint32
	if largeFile {
		var ext [8]byte
		if _, err := io.ReadFull(p.src, ext[:]); err != nil {
			return fmt.Errorf("%w: reading large-file sizes at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
		}
		p.pos += 8
		highPack = binary.LittleEndian.Uint32(ext[0:4])
		highUnp = binary.LittleEndian.Uint32(ext[4:8])
	}

	nameBytes := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := io.ReadFull(p.src, nameBytes); err != nil {
			return fmt.Errorf("%w: reading file name at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
		}
		p.pos += int64(nameLen)
	}
	name := string(nameBytes)
	if frame.Flags&flagUnicodeName != 0 {
		if nul := bytes.IndexByte(nameBytes, 0); nul >= 0 {
			name = rarunicode.Decode(nameBytes[:nul], nameBytes[nul+1:])
		}
	}

	packSize := (uint64(highPack) << 32) | uint64(packSize32)
	unpSize := (uint64(highUnp) << 32) | uint64(unpSize32)
	isDir := frame.Flags&dirFlagMask == dirFlagValue
	splitAfter := frame.Flags&flagSplitAfter != 0
	splitBefore := frame.Flags&flagSplitBefore != 0

	compressionMethod := int32(0)
	if method != 0x30 {
		compressionMethod = int32(method) - 0x30
	}

	dataPosition := frameEnd // body end: data begins right after the declared block size

	idx, known := p.byPath[name]
	if !known {
		idx = len(p.entries)
		p.entries = append(p.entries, FileEntry{
			Path:              name,
			UncompressedSize:  unpSize,
			CompressedSize:    packSize,
			HeaderPosition:    uint64(headerPosition),
			DataPosition:      uint64(dataPosition),
			IsDirectory:       isDir,
			VolumeIndex:       p.volumeIndex,
			CompressionMethod: compressionMethod,
			CRC32:             &fileCRC,
		})
		p.byPath[name] = idx
	} else {
		p.log.Debug().Str("name", name).Bool("split_before", splitBefore).Msg("continuation of file header across volumes")
	}

	entry := &p.entries[idx]
	entry.SplitParts = append(entry.SplitParts, SplitPart{
		VolumeIndex:       p.volumeIndex,
		DataStartPosition: uint64(dataPosition),
		DataSize:          packSize,
	})
	if len(entry.SplitParts) == 1 && !splitAfter {
		// Not actually split: keep SplitParts empty per the invariant in
		// spec.md section 3 (non-split files use the top-level fields only).
		entry.SplitParts = nil
	} else if len(entry.SplitParts) == 1 {
		entry.VolumeIndex = entry.SplitParts[0].VolumeIndex
	}

	if err := p.seekTo(frameEnd + int64(packSize)); err != nil {
		return err
	}

	if splitAfter && compressionMethod == 0 && len(p.volumeSizes) > int(p.volumeIndex)+1 {
		if err := p.inferSplit(entry, name, dataPosition, packSize, unpSize, largeFile); err != nil {
			return err
		}
	}

	return nil
}

// inferSplit implements the split-position inference optimization of
// spec.md 4.2: given per-volume sizes, compute every remaining part
// analytically instead of reading the intervening volumes.
func (p *parser) inferSplit(entry *FileEntry, name string, firstDataStart int64, firstDataSize, totalUnpacked uint64, largeFile bool) error {
	continuationHeaderSize := ContinuationHeaderSize(len(name), largeFile)

	firstVolumeSize := int64(p.volumeSizes[p.volumeIndex])
	endOfArchiveSize := firstVolumeSize - (firstDataStart - cumulativeOffset(p.volumeSizes, p.volumeIndex)) - int64(firstDataSize)
	if endOfArchiveSize < 0 {
		endOfArchiveSize = 0
	}

	remaining := int64(totalUnpacked) - int64(firstDataSize)
	if remaining <= 0 {
		return nil
	}

	var lastPart SplitPart
	for v := int(p.volumeIndex) + 1; v < len(p.volumeSizes) && remaining > 0; v++ {
		cum := cumulativeOffset(p.volumeSizes, uint32(v))
		dataStart := cum + continuationHeaderSize
		available := int64(p.volumeSizes[v]) - continuationHeaderSize - endOfArchiveSize
		if available < 0 {
			available = 0
		}
		partSize := remaining
		if available < partSize {
			partSize = available
		}
		part := SplitPart{
			VolumeIndex:       uint32(v),
			DataStartPosition: uint64(dataStart),
			DataSize:          uint64(partSize),
		}
		entry.SplitParts = append(entry.SplitParts, part)
		remaining -= partSize
		lastPart = part
	}

	if len(entry.SplitParts) == 0 {
		return nil
	}
	entry.VolumeIndex = entry.SplitParts[0].VolumeIndex

	resumePos := int64(lastPart.DataStartPosition + lastPart.DataSize)
	p.volumeIndex = lastPart.VolumeIndex
	p.justEnded = false
	return p.seekTo(resumePos)
}

func cumulativeOffset(volumeSizes []uint64, index uint32) int64 {
	var sum int64
	for i := uint32(0); i < index && int(i) < len(volumeSizes); i++ {
		sum += int64(volumeSizes[i])
	}
	return sum
}

// checkContinuation implements the multi-volume continuation policy of
// spec.md 4.2, tolerant of zero-padding between volumes.
func (p *parser) checkContinuation() (isSignature bool, consumed int64, ok bool, err error) {
	var window [7]byte
	n, readErr := io.ReadFull(p.src, window[:])
	if readErr != nil {
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return false, 0, false, nil
		}
		return false, 0, false, fmt.Errorf("%w: reading continuation window: %v", archiveerr.ErrTruncatedInput, readErr)
	}
	_ = n

	if bytesEqual(window[:], Signature) {
		return true, 7, true, nil
	}
	if isAllZero(window[:]) {
		return false, 7, true, nil
	}

	firstNonZero := -1
	for i, b := range window {
		if b != 0 {
			firstNonZero = i
			break
		}
	}
	if firstNonZero >= 1 && bytesEqual(window[firstNonZero:], Signature[:7-firstNonZero]) {
		extra := make([]byte, firstNonZero)
		if _, err := io.ReadFull(p.src, extra); err != nil {
			return false, 0, false, fmt.Errorf("%w: reading aligned continuation signature: %v", archiveerr.ErrTruncatedInput, err)
		}
		candidate := append(append([]byte{}, window[firstNonZero:]...), extra...)
		if bytesEqual(candidate, Signature) {
			return true, int64(7 + firstNonZero), true, nil
		}
	}

	return false, 0, false, nil
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

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
