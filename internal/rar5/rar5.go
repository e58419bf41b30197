// Package rar5 implements the RAR 5.x vint-based header chain parser
// described in spec.md section 4.3: a CRC32-prefixed block frame whose
// size fields are variable-length integers, an optional extra/data area,
// and the same multi-volume continuation and split-inference policy as
// RAR4 adapted to RAR5's block layout.
package rar5

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/javi11/archivemeta/internal/archiveerr"
	"github.com/javi11/archivemeta/internal/bytesource"
)

// Signature is the 8-byte RAR 5.x magic.
var Signature = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}

const (
	headerTypeMain          = 1
	headerTypeFile          = 2
	headerTypeService       = 3
	headerTypeEncryption    = 4
	headerTypeEndOfArchive  = 5
	flagHeaderHasExtraArea  = 0x0001
	flagHeaderHasDataArea   = 0x0002
	fileFlagIsDir           = 0x0001
	fileFlagHasMTime        = 0x0002
	fileFlagHasCRC32        = 0x0004
	fileFlagSplitBefore     = 0x0008
	fileFlagSplitAfter      = 0x0010
)

// SplitPart is the portion of one file residing in one volume, absolute
// within the concatenated stream the parser was given.
type SplitPart struct {
	VolumeIndex       uint32
	DataStartPosition uint64
	DataSize          uint64
}

// FileEntry mirrors archivemeta.RarFileEntry.
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

// ReadVarint reads a RAR5 variable-length integer: little-endian,
// 7 bits per byte, high bit marks continuation, max 10 bytes.
func ReadVarint(r io.Reader) (value uint64, bytesConsumed int, err error) {
	var b [1]byte
	for i := 0; i < 10; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, bytesConsumed, err
		}
		value |= uint64(b[0]&0x7F) << (7 * i)
		bytesConsumed++
		if b[0]&0x80 == 0 {
			return value, bytesConsumed, nil
		}
	}
	return 0, bytesConsumed, fmt.Errorf("%w: varint exceeds 10 bytes", archiveerr.ErrMalformedFrame)
}

// ReadVarintFromSlice decodes a varint from an in-memory byte slice,
// used while walking an already-buffered header body.
func ReadVarintFromSlice(b []byte) (value uint64, bytesConsumed int, err error) {
	for i := 0; i < len(b) && i < 10; i++ {
		c := b[i]
		value |= uint64(c&0x7F) << (7 * i)
		bytesConsumed++
		if c&0x80 == 0 {
			return value, bytesConsumed, nil
		}
	}
	if bytesConsumed == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	return 0, bytesConsumed, fmt.Errorf("%w: varint truncated", archiveerr.ErrMalformedFrame)
}

// EncodeVarint is the inverse of ReadVarint, producing the minimal
// encoding for v (spec.md testable property 2).
func EncodeVarint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		out = append(out, b)
		return out
	}
}

type parser struct {
	src         bytesource.Source
	totalSize   int64
	volumeSizes []uint64

	pos              int64
	volumeIndex      uint32
	justEnded        bool
	mainHeaderSize   int64
	fileHeaderSize   int64

	entries []FileEntry
	byPath  map[string]int

	log zerolog.Logger
}

// Parse walks the RAR5 header chain of a concatenated volume stream
// starting at position 0.
func Parse(src bytesource.Source, totalSize int64, volumeSizes []uint64, log zerolog.Logger) ([]FileEntry, error) {
	if err := src.Seek(0); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}
	var sig [8]byte
	if _, err := io.ReadFull(src, sig[:]); err != nil {
		return nil, fmt.Errorf("%w: reading signature: %v", archiveerr.ErrTruncatedInput, err)
	}
	if !bytesEqual(sig[:], Signature) {
		return nil, fmt.Errorf("%w: not a RAR5 stream", archiveerr.ErrInvalidSignature)
	}

	p := &parser{
		src:         src,
		totalSize:   totalSize,
		volumeSizes: volumeSizes,
		log:         log,
		byPath:      make(map[string]int),
		pos:         8,
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.entries, nil
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
		var crc [4]byte
		if _, err := io.ReadFull(p.src, crc[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: reading block CRC at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
		}
		p.pos += 4

		headSize, headSizeLen, err := ReadVarint(p.src)
		if err != nil {
			return fmt.Errorf("%w: reading header size at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
		}
		p.pos += int64(headSizeLen)

		if headSize == 0 {
			return nil
		}
		if headSize > 8*1024*1024 {
			return fmt.Errorf("%w: suspicious header size %d at %d", archiveerr.ErrMalformedFrame, headSize, hdrStart)
		}
		if p.totalSize > 0 && p.pos+int64(headSize) > p.totalSize {
			return nil
		}

		headData := make([]byte, headSize)
		if _, err := io.ReadFull(p.src, headData); err != nil {
			return fmt.Errorf("%w: reading header body at %d: %v", archiveerr.ErrTruncatedInput, p.pos, err)
		}
		p.pos += int64(headSize)
		blockTotalSize := p.pos - hdrStart

		cur := 0
		readVar := func() (uint64, error) {
			v, n, err := ReadVarintFromSlice(headData[cur:])
			if err != nil {
				return 0, err
			}
			cur += n
			return v, nil
		}

		blockType, err := readVar()
		if err != nil {
			return fmt.Errorf("block type: %w", err)
		}
		flags, err := readVar()
		if err != nil {
			return fmt.Errorf("flags: %w", err)
		}
		var extraAreaSize, dataSize uint64
		if flags&flagHeaderHasExtraArea != 0 {
			if extraAreaSize, err = readVar(); err != nil {
				return fmt.Errorf("extra area size: %w", err)
			}
		}
		if flags&flagHeaderHasDataArea != 0 {
			if dataSize, err = readVar(); err != nil {
				return fmt.Errorf("data size: %w", err)
			}
		}

		blockSpecificEnd := len(headData)
		if extraAreaSize > 0 {
			if int64(extraAreaSize) > int64(blockSpecificEnd-cur) {
				return fmt.Errorf("%w: extra area size %d overflows header", archiveerr.ErrMalformedFrame, extraAreaSize)
			}
			blockSpecificEnd -= int(extraAreaSize)
		}

		dataAreaStart := p.pos

		switch blockType {
		case headerTypeEncryption:
			return fmt.Errorf("%w: archive header at %d is encrypted", archiveerr.ErrPasswordProtected, hdrStart)
		case headerTypeMain:
			p.mainHeaderSize = blockTotalSize
		case headerTypeFile:
			if err := p.parseFileHeader(hdrStart, headData[cur:blockSpecificEnd], dataAreaStart, uint64(blockTotalSize), dataSize); err != nil {
				return err
			}
			if p.pos != dataAreaStart {
				// Split inference already moved the cursor to the end of
				// the last inferred part.
				continue
			}
		case headerTypeEndOfArchive:
			p.justEnded = true
			continue
		}

		if dataSize > 0 {
			if err := p.seekTo(dataAreaStart + int64(dataSize)); err != nil {
				return err
			}
		}
	}
}

func (p *parser) seekTo(pos int64) error {
	if err := p.src.Seek(pos); err != nil {
		return fmt.Errorf("seek to %d: %w", pos, err)
	}
	p.pos = pos
	return nil
}

// parseFileHeader decodes the file-header body of a type-2 block.
// headerPosition is the absolute position of the start of the block
// (hdrStart); dataPosition is where the data area begins.
func (p *parser) parseFileHeader(hdrStart int64, body []byte, dataAreaStart int64, blockTotalSize, dataSize uint64) error {
	bcur := 0
	readVar := func() (uint64, error) {
		v, n, err := ReadVarintFromSlice(body[bcur:])
		if err != nil {
			return 0, err
		}
		bcur += n
		return v, nil
	}

	fileFlags, err := readVar()
	if err != nil {
		return fmt.Errorf("file flags: %w", err)
	}
	unpackedSize, err := readVar()
	if err != nil {
		return fmt.Errorf("unpacked size: %w", err)
	}
	if _, err := readVar(); err != nil { // attributes
		return fmt.Errorf("attributes: %w", err)
	}
	if fileFlags&fileFlagHasMTime != 0 {
		if len(body)-bcur < 4 {
			return fmt.Errorf("%w: truncated mtime", archiveerr.ErrTruncatedInput)
		}
		bcur += 4
	}
	var crc32 *uint32
	if fileFlags&fileFlagHasCRC32 != 0 {
		if len(body)-bcur < 4 {
			return fmt.Errorf("%w: truncated crc32", archiveerr.ErrTruncatedInput)
		}
		v := binary.LittleEndian.Uint32(body[bcur : bcur+4])
		crc32 = &v
		bcur += 4
	}
	compressionInfo, err := readVar()
	if err != nil {
		return fmt.Errorf("compression info: %w", err)
	}
	if _, err := readVar(); err != nil { // host OS
		return fmt.Errorf("host os: %w", err)
	}
	nameLen, err := readVar()
	if err != nil {
		return fmt.Errorf("name length: %w", err)
	}
	if nameLen == 0 || int(nameLen) > len(body)-bcur {
		return fmt.Errorf("%w: invalid name length %d", archiveerr.ErrMalformedFrame, nameLen)
	}
	nameBytes := body[bcur : bcur+int(nameLen)]
	bcur += int(nameLen)
	name := strings.ReplaceAll(string(nameBytes), `\`, "/")

	isDir := fileFlags&fileFlagIsDir != 0
	splitBefore := fileFlags&fileFlagSplitBefore != 0
	_ = splitBefore
	compressionMethod := int32(compressionInfo & 0x7F)

	idx, known := p.byPath[name]
	if !known {
		idx = len(p.entries)
		p.entries = append(p.entries, FileEntry{
			Path:              name,
			UncompressedSize:  unpackedSize,
			CompressedSize:    dataSize,
			HeaderPosition:    uint64(hdrStart),
			DataPosition:      uint64(dataAreaStart),
			IsDirectory:       isDir,
			VolumeIndex:       p.volumeIndex,
			CompressionMethod: compressionMethod,
			CRC32:             crc32,
		})
		p.byPath[name] = idx
	} else {
		p.log.Debug().Str("name", name).Msg("continuation of file header across volumes")
	}

	entry := &p.entries[idx]
	isSplit := compressionMethod == 0 && dataSize < unpackedSize
	entry.SplitParts = append(entry.SplitParts, SplitPart{
		VolumeIndex:       p.volumeIndex,
		DataStartPosition: uint64(dataAreaStart),
		DataSize:          dataSize,
	})
	if len(entry.SplitParts) == 1 && !isSplit {
		entry.SplitParts = nil
	} else if len(entry.SplitParts) == 1 {
		entry.VolumeIndex = entry.SplitParts[0].VolumeIndex
	}

	if isSplit && compressionMethod == 0 && len(p.volumeSizes) > int(p.volumeIndex)+1 {
		if err := p.inferSplit(entry, len(name), dataAreaStart, dataSize, unpackedSize, blockTotalSize); err != nil {
			return err
		}
	}

	return nil
}

// inferSplit mirrors rar4's analytic split inference (spec.md 4.3):
// continuation header size is signature + main header + file header,
// and the trailing end-of-archive size is derived from the observed
// layout of the volume the file starts in.
func (p *parser) inferSplit(entry *FileEntry, nameLen int, firstDataStart int64, firstDataSize, totalUnpacked uint64, fileHeaderBlockSize uint64) error {
	continuationHeaderSize := int64(8) + p.mainHeaderSize + int64(fileHeaderBlockSize)

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

// checkContinuation mirrors rar4's policy with the 8-byte RAR5 signature.
func (p *parser) checkContinuation() (isSignature bool, consumed int64, ok bool, err error) {
	window := make([]byte, 8)
	if _, err := io.ReadFull(p.src, window); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, 0, false, nil
		}
		return false, 0, false, fmt.Errorf("%w: reading continuation window: %v", archiveerr.ErrTruncatedInput, err)
	}

	if bytesEqual(window, Signature) {
		return true, 8, true, nil
	}
	if isAllZero(window) {
		return false, 8, true, nil
	}

	firstNonZero := -1
	for i, b := range window {
		if b != 0 {
			firstNonZero = i
			break
		}
	}
	if firstNonZero >= 1 && bytesEqual(window[firstNonZero:], Signature[:8-firstNonZero]) {
		extra := make([]byte, firstNonZero)
		if _, err := io.ReadFull(p.src, extra); err != nil {
			return false, 0, false, fmt.Errorf("%w: reading aligned continuation signature: %v", archiveerr.ErrTruncatedInput, err)
		}
		candidate := append(append([]byte{}, window[firstNonZero:]...), extra...)
		if bytesEqual(candidate, Signature) {
			return true, int64(8 + firstNonZero), true, nil
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
