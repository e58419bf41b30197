package sevenz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/javi11/archivemeta/internal/archiveerr"
)

// reader walks the in-memory property tree. Every field read goes
// through r.buf via a bytes.Reader so backward movement (for
// property-size skipping) is just a Seek, never a stream operation.
type reader struct {
	buf []byte
	log zerolog.Logger

	packPos   uint64
	packSizes []uint64

	numFolders             uint64
	folderUnpackSizes      []uint64
	folderCRCs             []*uint32
	folderNumUnpackStreams []uint64
	subStreamCRCs          []*uint32

	names       []string
	emptyStream []bool
	emptyFile   []bool
	winAttrs    []*uint32
}

func (r *reader) parseTopLevel() ([]FileEntry, error) {
	br := bytes.NewReader(r.buf)
	id, err := readByte(br)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading top-level property id: %v", archiveerr.ErrTruncatedInput, err)
	}

	switch id {
	case kHeader:
		if err := r.parseHeader(br); err != nil {
			return nil, err
		}
	case kEncodedHeader:
		return nil, fmt.Errorf("%w: compressed headers unsupported", archiveerr.ErrUnsupportedFeature)
	default:
		return nil, fmt.Errorf("%w: unexpected top-level property 0x%02x", archiveerr.ErrMalformedFrame, id)
	}

	return r.buildEntries()
}

func (r *reader) parseHeader(br *bytes.Reader) error {
	for {
		id, err := readByte(br)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("%w: reading header property id: %v", archiveerr.ErrTruncatedInput, err)
		}
		switch id {
		case kEnd:
			return nil
		case kMainStreamsInfo:
			if err := r.parseStreamsInfo(br); err != nil {
				return err
			}
		case kFilesInfo:
			if err := r.parseFilesInfo(br); err != nil {
				return err
			}
		default:
			if err := skipUnknownProperty(br); err != nil {
				return err
			}
		}
	}
}

func (r *reader) parseStreamsInfo(br *bytes.Reader) error {
	for {
		id, err := readByte(br)
		if err != nil {
			return fmt.Errorf("%w: reading streams-info property id: %v", archiveerr.ErrTruncatedInput, err)
		}
		switch id {
		case kEnd:
			return nil
		case kPackInfo:
			if err := r.parsePackInfo(br); err != nil {
				return err
			}
		case kUnpackInfo:
			if err := r.parseUnpackInfo(br); err != nil {
				return err
			}
		case kSubStreamsInfo:
			if err := r.parseSubStreamsInfo(br); err != nil {
				return err
			}
		default:
			if err := skipUnknownProperty(br); err != nil {
				return err
			}
		}
	}
}

func (r *reader) parsePackInfo(br *bytes.Reader) error {
	packPos, err := ReadUint64(br)
	if err != nil {
		return fmt.Errorf("%w: pack pos: %v", archiveerr.ErrTruncatedInput, err)
	}
	r.packPos = packPos

	numStreams, err := ReadUint64(br)
	if err != nil {
		return fmt.Errorf("%w: num pack streams: %v", archiveerr.ErrTruncatedInput, err)
	}

	for {
		id, err := readByte(br)
		if err != nil {
			return fmt.Errorf("%w: reading pack-info property id: %v", archiveerr.ErrTruncatedInput, err)
		}
		switch id {
		case kSize:
			r.packSizes = make([]uint64, numStreams)
			for i := range r.packSizes {
				v, err := ReadUint64(br)
				if err != nil {
					return fmt.Errorf("%w: pack size %d: %v", archiveerr.ErrTruncatedInput, i, err)
				}
				r.packSizes[i] = v
			}
		case kCRC:
			// Pack-stream digests cover the compressed bytes, not file
			// content; Copy-coded folders expose content CRCs via
			// kUnpackInfo/kSubStreamsInfo instead, so these are unused.
			if _, err := readDigests(br, int(numStreams)); err != nil {
				return err
			}
		case kEnd:
			return nil
		default:
			if err := skipUnknownProperty(br); err != nil {
				return err
			}
		}
	}
}

// parseUnpackInfo validates that each folder has exactly one Copy coder
// and records its unpacked size; any other shape is unsupported.
func (r *reader) parseUnpackInfo(br *bytes.Reader) error {
	id, err := readByte(br)
	if err != nil || id != kFolder {
		return fmt.Errorf("%w: expected kFolder", archiveerr.ErrMalformedFrame)
	}
	numFolders, err := ReadUint64(br)
	if err != nil {
		return fmt.Errorf("%w: num folders: %v", archiveerr.ErrTruncatedInput, err)
	}
	r.numFolders = numFolders
	external, err := readByte(br)
	if err != nil {
		return fmt.Errorf("%w: folder external flag: %v", archiveerr.ErrTruncatedInput, err)
	}
	if external != 0 {
		return fmt.Errorf("%w: external folder data unsupported", archiveerr.ErrUnsupportedFeature)
	}

	folderNumOutStreams := make([]uint64, numFolders)
	for i := uint64(0); i < numFolders; i++ {
		numCoders, err := ReadUint64(br)
		if err != nil {
			return fmt.Errorf("%w: num coders: %v", archiveerr.ErrTruncatedInput, err)
		}
		if numCoders != 1 {
			return fmt.Errorf("%w: multi-coder folders unsupported", archiveerr.ErrUnsupportedFeature)
		}

		flags, err := readByte(br)
		if err != nil {
			return fmt.Errorf("%w: coder flags: %v", archiveerr.ErrTruncatedInput, err)
		}
		idSize := int(flags & 0x0F)
		isComplex := flags&0x10 != 0
		hasAttrs := flags&0x20 != 0
		if isComplex {
			return fmt.Errorf("%w: complex (binding) coders unsupported", archiveerr.ErrUnsupportedFeature)
		}

		codecID := make([]byte, idSize)
		if _, err := io.ReadFull(br, codecID); err != nil {
			return fmt.Errorf("%w: codec id: %v", archiveerr.ErrTruncatedInput, err)
		}
		if idSize != 1 || codecID[0] != 0x00 {
			return fmt.Errorf("%w: non-Copy codec unsupported", archiveerr.ErrUnsupportedFeature)
		}

		numOutStreams := uint64(1)
		if !isComplex {
			// Plain coder: 1 in-stream, 1 out-stream implied.
		}
		folderNumOutStreams[i] = numOutStreams

		if hasAttrs {
			propSize, err := ReadUint64(br)
			if err != nil {
				return fmt.Errorf("%w: coder attr size: %v", archiveerr.ErrTruncatedInput, err)
			}
			if _, err := br.Seek(int64(propSize), io.SeekCurrent); err != nil {
				return fmt.Errorf("%w: skipping coder attrs: %v", archiveerr.ErrTruncatedInput, err)
			}
		}
	}

	id2, err := readByte(br)
	if err != nil {
		return fmt.Errorf("%w: reading unpack-info property id: %v", archiveerr.ErrTruncatedInput, err)
	}
	if id2 != kCodersUnpackSize {
		return fmt.Errorf("%w: expected kCodersUnpackSize", archiveerr.ErrMalformedFrame)
	}
	r.folderUnpackSizes = make([]uint64, numFolders)
	for i := range r.folderUnpackSizes {
		v, err := ReadUint64(br)
		if err != nil {
			return fmt.Errorf("%w: folder unpack size %d: %v", archiveerr.ErrTruncatedInput, i, err)
		}
		r.folderUnpackSizes[i] = v
	}

	for {
		id, err := readByte(br)
		if err != nil {
			return fmt.Errorf("%w: reading unpack-info trailer id: %v", archiveerr.ErrTruncatedInput, err)
		}
		switch id {
		case kCRC:
			digests, err := readDigests(br, int(numFolders))
			if err != nil {
				return err
			}
			r.folderCRCs = digests
		case kEnd:
			return nil
		default:
			if err := skipUnknownProperty(br); err != nil {
				return err
			}
		}
	}
}

// parseSubStreamsInfo reads per-folder stream counts, sizes, and CRCs.
// A folder with exactly one output stream (the only shape this module's
// Copy-only restriction produces) inherits its CRC from kUnpackInfo's
// kCRC when that folder already defined one, matching how 7z omits the
// redundant substream digest in that case.
func (r *reader) parseSubStreamsInfo(br *bytes.Reader) error {
	numFolders := int(r.numFolders)
	numUnpackStreams := make([]uint64, numFolders)
	for i := range numUnpackStreams {
		numUnpackStreams[i] = 1
	}

	id, err := readByte(br)
	if err != nil {
		return fmt.Errorf("%w: reading substreams-info property id: %v", archiveerr.ErrTruncatedInput, err)
	}
	if id == kNumUnpackStream {
		for i := range numUnpackStreams {
			v, err := ReadUint64(br)
			if err != nil {
				return fmt.Errorf("%w: num unpack streams: %v", archiveerr.ErrTruncatedInput, err)
			}
			numUnpackStreams[i] = v
		}
		if id, err = readByte(br); err != nil {
			return fmt.Errorf("%w: reading substreams-info property id: %v", archiveerr.ErrTruncatedInput, err)
		}
	}
	r.folderNumUnpackStreams = numUnpackStreams

	var totalStreams uint64
	for _, n := range numUnpackStreams {
		totalStreams += n
	}

	if id == kSize {
		for _, n := range numUnpackStreams {
			for s := uint64(0); s+1 < n; s++ {
				if _, err := ReadUint64(br); err != nil {
					return fmt.Errorf("%w: substream size: %v", archiveerr.ErrTruncatedInput, err)
				}
			}
		}
		if id, err = readByte(br); err != nil {
			return fmt.Errorf("%w: reading substreams-info property id: %v", archiveerr.ErrTruncatedInput, err)
		}
	}

	numDigestsNeeded := 0
	for i, n := range numUnpackStreams {
		if n == 1 && i < len(r.folderCRCs) && r.folderCRCs[i] != nil {
			continue
		}
		numDigestsNeeded += int(n)
	}

	if id == kCRC {
		digests, err := readDigests(br, numDigestsNeeded)
		if err != nil {
			return err
		}
		r.subStreamCRCs = make([]*uint32, totalStreams)
		di, si := 0, 0
		for i, n := range numUnpackStreams {
			for s := uint64(0); s < n; s++ {
				if n == 1 && i < len(r.folderCRCs) && r.folderCRCs[i] != nil {
					r.subStreamCRCs[si] = r.folderCRCs[i]
				} else {
					r.subStreamCRCs[si] = digests[di]
					di++
				}
				si++
			}
		}
		if id, err = readByte(br); err != nil {
			return fmt.Errorf("%w: reading substreams-info property id: %v", archiveerr.ErrTruncatedInput, err)
		}
	}

	for id != kEnd {
		if err := skipUnknownProperty(br); err != nil {
			return err
		}
		if id, err = readByte(br); err != nil {
			return fmt.Errorf("%w: reading substreams-info trailer id: %v", archiveerr.ErrTruncatedInput, err)
		}
	}
	return nil
}

func (r *reader) parseFilesInfo(br *bytes.Reader) error {
	numFiles, err := ReadUint64(br)
	if err != nil {
		return fmt.Errorf("%w: num files: %v", archiveerr.ErrTruncatedInput, err)
	}
	n := int(numFiles)
	r.emptyStream = make([]bool, n)

	for {
		id, err := readByte(br)
		if err != nil {
			return fmt.Errorf("%w: reading files-info property id: %v", archiveerr.ErrTruncatedInput, err)
		}
		if id == kEnd {
			return nil
		}

		propSize, err := ReadUint64(br)
		if err != nil {
			return fmt.Errorf("%w: property size: %v", archiveerr.ErrTruncatedInput, err)
		}
		start, err := br.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("tell: %w", err)
		}
		propEnd := start + int64(propSize)

		switch id {
		case kEmptyStream:
			bits, err := readBitVector(br, n)
			if err != nil {
				return err
			}
			r.emptyStream = bits
		case kEmptyFile:
			numEmptyStreams := countTrue(r.emptyStream)
			bits, err := readBitVector(br, numEmptyStreams)
			if err != nil {
				return err
			}
			r.emptyFile = bits
		case kName:
			if err := r.readNames(br, n, propEnd); err != nil {
				return err
			}
		case kWinAttributes:
			attrs, err := r.readWinAttributes(br, n)
			if err != nil {
				return err
			}
			r.winAttrs = attrs
		case kDummy, kMTime:
			// Skipped: advance to propEnd below regardless.
		default:
			// Unknown property: advance to propEnd below.
		}

		if _, err := br.Seek(propEnd, io.SeekStart); err != nil {
			return fmt.Errorf("%w: advancing past property 0x%02x: %v", archiveerr.ErrMalformedFrame, id, err)
		}
	}
}

func (r *reader) readNames(br *bytes.Reader, n int, propEnd int64) error {
	external, err := readByte(br)
	if err != nil {
		return fmt.Errorf("%w: names external flag: %v", archiveerr.ErrTruncatedInput, err)
	}
	if external != 0 {
		return fmt.Errorf("%w: external names unsupported", archiveerr.ErrUnsupportedFeature)
	}

	names := make([]string, 0, n)
	for len(names) < n {
		var u16 []uint16
		for {
			pos, _ := br.Seek(0, io.SeekCurrent)
			if pos+2 > propEnd {
				return fmt.Errorf("%w: name data truncated", archiveerr.ErrMalformedFrame)
			}
			var b [2]byte
			if _, err := io.ReadFull(br, b[:]); err != nil {
				return fmt.Errorf("%w: reading name unit: %v", archiveerr.ErrTruncatedInput, err)
			}
			unit := binary.LittleEndian.Uint16(b[:])
			if unit == 0 {
				break
			}
			u16 = append(u16, unit)
		}
		names = append(names, decodeUTF16(u16))
	}
	r.names = names
	return nil
}

func (r *reader) readWinAttributes(br *bytes.Reader, n int) ([]*uint32, error) {
	defined, err := readOptionalBitVector(br, n)
	if err != nil {
		return nil, err
	}
	external, err := readByte(br)
	if err != nil {
		return nil, fmt.Errorf("%w: attributes external flag: %v", archiveerr.ErrTruncatedInput, err)
	}
	if external != 0 {
		return nil, fmt.Errorf("%w: external attributes unsupported", archiveerr.ErrUnsupportedFeature)
	}

	out := make([]*uint32, n)
	for i := 0; i < n; i++ {
		if !defined[i] {
			continue
		}
		var b [4]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, fmt.Errorf("%w: reading attribute: %v", archiveerr.ErrTruncatedInput, err)
		}
		v := binary.LittleEndian.Uint32(b[:])
		out[i] = &v
	}
	return out, nil
}

// buildEntries derives per-file data offsets from the parsed pack
// stream and files-info sections, per spec.md section 4.4.
func (r *reader) buildEntries() ([]FileEntry, error) {
	entries := make([]FileEntry, len(r.names))
	currentOffset := uint64(32) + r.packPos
	packIdx := 0

	for i, name := range r.names {
		entry := FileEntry{Path: name}
		isEmptyStream := i < len(r.emptyStream) && r.emptyStream[i]

		emptyFileIdx := -1
		if isEmptyStream {
			emptyFileIdx = countTrueUpTo(r.emptyStream, i)
		}
		isEmptyFile := isEmptyStream && emptyFileIdx < len(r.emptyFile) && r.emptyFile[emptyFileIdx]

		var attr *uint32
		if i < len(r.winAttrs) {
			attr = r.winAttrs[i]
		}
		isDir := isEmptyStream && !isEmptyFile
		if attr != nil && *attr&winAttrDirectory != 0 {
			isDir = true
		}
		if isEmptyStream && len(name) > 0 && name[len(name)-1] == '/' {
			isDir = true
		}
		entry.IsDirectory = isDir

		if isEmptyStream || packIdx >= len(r.packSizes) {
			entry.Size = 0
			entry.DataOffset = 0
		} else {
			size := r.packSizes[packIdx]
			entry.Size = size
			entry.PackedSize = size
			entry.Method = "Copy"
			if size == 0 {
				entry.DataOffset = 0
			} else {
				entry.DataOffset = currentOffset
				currentOffset += size
			}
			if packIdx < len(r.subStreamCRCs) && r.subStreamCRCs[packIdx] != nil {
				entry.CRC32 = r.subStreamCRCs[packIdx]
			} else if packIdx < len(r.folderCRCs) && r.folderCRCs[packIdx] != nil {
				entry.CRC32 = r.folderCRCs[packIdx]
			}
			packIdx++
		}

		entries[i] = entry
	}

	return entries, nil
}

func readByte(br *bytes.Reader) (byte, error) {
	return br.ReadByte()
}

func skipUnknownProperty(br *bytes.Reader) error {
	size, err := ReadUint64(br)
	if err != nil {
		return fmt.Errorf("%w: skipped property size: %v", archiveerr.ErrTruncatedInput, err)
	}
	if _, err := br.Seek(int64(size), io.SeekCurrent); err != nil {
		return fmt.Errorf("%w: skipping property: %v", archiveerr.ErrMalformedFrame, err)
	}
	return nil
}

// readDigests reads the "all defined" shortcut plus a 32-bit CRC for
// each defined slot, leaving a nil entry for each undefined one.
func readDigests(br *bytes.Reader, count int) ([]*uint32, error) {
	defined, err := readOptionalBitVector(br, count)
	if err != nil {
		return nil, err
	}
	out := make([]*uint32, count)
	for i, d := range defined {
		if !d {
			continue
		}
		var b [4]byte
		if _, err := io.ReadFull(br, b[:]); err != nil {
			return nil, fmt.Errorf("%w: reading crc: %v", archiveerr.ErrTruncatedInput, err)
		}
		v := binary.LittleEndian.Uint32(b[:])
		out[i] = &v
	}
	return out, nil
}

func readBitVector(br *bytes.Reader, n int) ([]bool, error) {
	out := make([]bool, n)
	var cur byte
	var mask byte
	for i := 0; i < n; i++ {
		if mask == 0 {
			b, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("%w: reading bit vector: %v", archiveerr.ErrTruncatedInput, err)
			}
			cur = b
			mask = 0x80
		}
		out[i] = cur&mask != 0
		mask >>= 1
	}
	return out, nil
}

// readOptionalBitVector reads the "all defined" shortcut byte used by
// CRC and attribute sections before falling back to a real bit vector.
func readOptionalBitVector(br *bytes.Reader, n int) ([]bool, error) {
	allDefined, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: all-defined flag: %v", archiveerr.ErrTruncatedInput, err)
	}
	if allDefined != 0 {
		out := make([]bool, n)
		for i := range out {
			out[i] = true
		}
		return out, nil
	}
	return readBitVector(br, n)
}

func countTrue(bits []bool) int {
	n := 0
	for _, b := range bits {
		if b {
			n++
		}
	}
	return n
}

func countTrueUpTo(bits []bool, idx int) int {
	n := 0
	for i := 0; i < idx && i < len(bits); i++ {
		if bits[i] {
			n++
		}
	}
	return n
}

func decodeUTF16(units []uint16) string {
	runes := make([]rune, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) {
			u2 := units[i+1]
			if u2 >= 0xDC00 && u2 <= 0xDFFF {
				r := (rune(u-0xD800) << 10) + rune(u2-0xDC00) + 0x10000
				runes = append(runes, r)
				i++
				continue
			}
		}
		runes = append(runes, rune(u))
	}
	return string(runes)
}
