// Package gen builds byte-identical archives from raw data, the
// archive generator collaborator spec.md describes only as a
// round-trip test dependency (section 2, "Archive generator"). It is
// the write side of every format this module reads: RAR4 and RAR5
// block chains split across volumes, a minimal Copy-only 7z container,
// and PAR2 FileDesc packets.
package gen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/javi11/archivemeta/internal/rar5"
)

func crc32Of(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CorrelationID returns a fresh random identifier tests can attach to
// a generated archive run, useful when a test logs several generated
// fixtures and needs to tell their failures apart. It never reaches
// any parser; this package is the only producer of archive bytes, and
// correlation IDs are not part of any archive format.
func CorrelationID() string {
	return uuid.NewString()
}

// FileSpec is one file to place in a generated archive.
type FileSpec struct {
	Name string
	Data []byte
}

// --- RAR4 ---

var rar4Signature = []byte{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00}

func rar4BlockFrame(blockType byte, flags uint16, bodyLen int) []byte {
	size := 7 + bodyLen
	buf := make([]byte, 7)
	buf[2] = blockType
	binary.LittleEndian.PutUint16(buf[3:5], flags)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(size))
	return buf
}

func rar4ArchiveHeader(isVolume bool) []byte {
	var flags uint16
	if isVolume {
		flags = 0x0100
	}
	frame := rar4BlockFrame(0x73, flags, 6)
	return append(frame, make([]byte, 6)...)
}

func rar4FileHeader(name string, packSize, unpSize uint32, splitBefore, splitAfter bool) []byte {
	nameBytes := []byte(name)
	var flags uint16
	if splitBefore {
		flags |= 0x0001
	}
	if splitAfter {
		flags |= 0x0002
	}
	frame := rar4BlockFrame(0x74, flags, 25+len(nameBytes))
	fixed := make([]byte, 25)
	binary.LittleEndian.PutUint32(fixed[0:4], packSize)
	binary.LittleEndian.PutUint32(fixed[4:8], unpSize)
	fixed[18] = 0x30
	binary.LittleEndian.PutUint16(fixed[19:21], uint16(len(nameBytes)))
	out := append(frame, fixed...)
	return append(out, nameBytes...)
}

func rar4EndOfArchive() []byte {
	return rar4BlockFrame(0x7B, 0, 0)
}

// RAR4Split generates len(perVolumeSize) volumes holding a single
// stored file whose data is distributed according to perVolumeSize
// (which must sum to len(data)). trailing files, if any, are appended
// unsplit in the final volume after the split file's last part —
// the layout spec.md section 8 uses for its multi-file-across-volumes
// scenarios.
func RAR4Split(fileName string, data []byte, perVolumeSize []int, trailing []FileSpec) ([][]byte, error) {
	if len(perVolumeSize) == 0 {
		return nil, fmt.Errorf("gen: at least one volume required")
	}
	sum := 0
	for _, s := range perVolumeSize {
		sum += s
	}
	if sum != len(data) {
		return nil, fmt.Errorf("gen: perVolumeSize sums to %d, data is %d bytes", sum, len(data))
	}

	multiVolume := len(perVolumeSize) > 1
	volumes := make([][]byte, len(perVolumeSize))
	offset := 0
	for v, size := range perVolumeSize {
		var buf bytes.Buffer
		buf.Write(rar4Signature)
		buf.Write(rar4ArchiveHeader(multiVolume))

		splitBefore := v > 0
		splitAfter := v < len(perVolumeSize)-1
		buf.Write(rar4FileHeader(fileName, uint32(size), uint32(len(data)), splitBefore, splitAfter))
		buf.Write(data[offset : offset+size])
		offset += size

		if v == len(perVolumeSize)-1 {
			for _, f := range trailing {
				buf.Write(rar4FileHeader(f.Name, uint32(len(f.Data)), uint32(len(f.Data)), false, false))
				buf.Write(f.Data)
			}
		}

		buf.Write(rar4EndOfArchive())
		volumes[v] = buf.Bytes()
	}
	return volumes, nil
}

// --- RAR5 ---

func rar5Block(headerType uint64, headerFlags uint64, restBody []byte, dataSize uint64, hasDataArea bool) []byte {
	var body bytes.Buffer
	body.Write(rar5.EncodeVarint(headerType))
	flags := headerFlags
	if hasDataArea {
		flags |= 0x0002
	}
	body.Write(rar5.EncodeVarint(flags))
	if hasDataArea {
		body.Write(rar5.EncodeVarint(dataSize))
	}
	body.Write(restBody)

	headSizeVint := rar5.EncodeVarint(uint64(body.Len()))

	var out bytes.Buffer
	out.Write(make([]byte, 4)) // crc32 placeholder, unverified by the reader
	out.Write(headSizeVint)
	out.Write(body.Bytes())
	return out.Bytes()
}

func rar5MainHeaderBlock() []byte {
	return rar5Block(1, 0, rar5.EncodeVarint(0), 0, false)
}

func rar5EndOfArchiveBlock() []byte {
	return rar5Block(5, 0, rar5.EncodeVarint(0), 0, false)
}

func rar5FileHeaderBlock(name string, unpackedSize, dataSize uint64, splitBefore, splitAfter bool) []byte {
	var body bytes.Buffer
	var fileFlags uint64
	if splitBefore {
		fileFlags |= 0x08
	}
	if splitAfter {
		fileFlags |= 0x10
	}
	body.Write(rar5.EncodeVarint(fileFlags))
	body.Write(rar5.EncodeVarint(unpackedSize))
	body.Write(rar5.EncodeVarint(0)) // attributes
	body.Write(rar5.EncodeVarint(0)) // compression_info: store
	body.Write(rar5.EncodeVarint(0)) // host_os
	nameBytes := []byte(name)
	body.Write(rar5.EncodeVarint(uint64(len(nameBytes))))
	body.Write(nameBytes)
	return rar5Block(2, 0, body.Bytes(), dataSize, true)
}

// RAR5Split is RAR4Split's counterpart for the vint-based format.
func RAR5Split(fileName string, data []byte, perVolumeSize []int, trailing []FileSpec) ([][]byte, error) {
	if len(perVolumeSize) == 0 {
		return nil, fmt.Errorf("gen: at least one volume required")
	}
	sum := 0
	for _, s := range perVolumeSize {
		sum += s
	}
	if sum != len(data) {
		return nil, fmt.Errorf("gen: perVolumeSize sums to %d, data is %d bytes", sum, len(data))
	}

	volumes := make([][]byte, len(perVolumeSize))
	offset := 0
	for v, size := range perVolumeSize {
		var buf bytes.Buffer
		buf.Write(rar5.Signature)
		buf.Write(rar5MainHeaderBlock())

		splitBefore := v > 0
		splitAfter := v < len(perVolumeSize)-1
		buf.Write(rar5FileHeaderBlock(fileName, uint64(len(data)), uint64(size), splitBefore, splitAfter))
		buf.Write(data[offset : offset+size])
		offset += size

		if v == len(perVolumeSize)-1 {
			for _, f := range trailing {
				buf.Write(rar5FileHeaderBlock(f.Name, uint64(len(f.Data)), uint64(len(f.Data)), false, false))
				buf.Write(f.Data)
			}
		}

		buf.Write(rar5EndOfArchiveBlock())
		volumes[v] = buf.Bytes()
	}
	return volumes, nil
}

// --- 7z ---

var sevenZSignature = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C, 0x00, 0x04}

func sevenZUint64(v uint64) []byte {
	if v < 0x80 {
		return []byte{byte(v)}
	}
	for extra := 1; extra < 8; extra++ {
		highBits := uint(7 - extra)
		if v>>(8*uint(extra)) < (uint64(1) << highBits) {
			marker := byte(0xFF << (8 - extra) & 0xFF)
			out := make([]byte, 1+extra)
			out[0] = marker | byte(v>>(8*uint(extra)))
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

// SevenZCopy builds a minimal single-file, Copy-coded 7z archive.
func SevenZCopy(name string, data []byte) []byte {
	crc := crc32Of(data)

	var header bytes.Buffer
	header.WriteByte(0x01) // kHeader
	header.WriteByte(0x04) // kMainStreamsInfo
	header.WriteByte(0x06) // kPackInfo
	header.Write(sevenZUint64(0))              // pack_pos
	header.Write(sevenZUint64(1))              // num_pack_streams
	header.WriteByte(0x09)                     // kSize
	header.Write(sevenZUint64(uint64(len(data))))
	header.WriteByte(0x00) // kEnd (pack info)

	header.WriteByte(0x07) // kUnPackInfo
	header.WriteByte(0x0B) // kFolder
	header.Write(sevenZUint64(1)) // num folders
	header.WriteByte(0x00)        // external = 0
	header.Write(sevenZUint64(1)) // num coders
	header.WriteByte(0x01)        // flags: idSize=1, not complex, no attrs
	header.WriteByte(0x00)        // codec id: Copy
	header.WriteByte(0x0C)        // kCodersUnpackSize
	header.Write(sevenZUint64(uint64(len(data))))
	header.WriteByte(0x0A) // kCRC
	header.WriteByte(0x01) // all defined
	header.Write(crcBytes(crc))
	header.WriteByte(0x00) // kEnd (unpack info)
	header.WriteByte(0x00) // kEnd (streams info)

	header.WriteByte(0x05) // kFilesInfo
	header.Write(sevenZUint64(1)) // num files

	nameUTF16 := encodeUTF16LE(name)
	namesProp := append([]byte{0x00}, nameUTF16...) // external=0, then UTF-16LE name + NUL
	header.WriteByte(0x11)                          // kName
	header.Write(sevenZUint64(uint64(len(namesProp))))
	header.Write(namesProp)

	header.WriteByte(0x00) // kEnd (files info)
	header.WriteByte(0x00) // kEnd (header)

	headerBytes := header.Bytes()

	sig := make([]byte, 32)
	copy(sig[0:6], sevenZSignature[0:6])
	sig[6], sig[7] = 0x00, 0x04
	binary.LittleEndian.PutUint64(sig[12:20], uint64(len(data))) // next_header_offset = pack_pos + size of pack area
	binary.LittleEndian.PutUint64(sig[20:28], uint64(len(headerBytes)))

	var out bytes.Buffer
	out.Write(sig)
	out.Write(data)
	out.Write(headerBytes)
	return out.Bytes()
}

func encodeUTF16LE(s string) []byte {
	var out []byte
	for _, r := range s {
		if r <= 0xFFFF {
			b := make([]byte, 2)
			binary.LittleEndian.PutUint16(b, uint16(r))
			out = append(out, b...)
			continue
		}
		r -= 0x10000
		hi := uint16(0xD800 + (r >> 10))
		lo := uint16(0xDC00 + (r & 0x3FF))
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b[0:2], hi)
		binary.LittleEndian.PutUint16(b[2:4], lo)
		out = append(out, b...)
	}
	out = append(out, 0x00, 0x00) // NUL terminator
	return out
}

func crcBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// --- PAR2 ---

const par2FileDescType = "PAR 2.0\x00FileDesc"

// Par2FileDescPacket builds a single PAR2 FileDesc packet.
func Par2FileDescPacket(setID, fileID, fileHash, hash16k [16]byte, fileSize uint64, filename string) []byte {
	var body bytes.Buffer
	body.Write(fileID[:])
	body.Write(fileHash[:])
	body.Write(hash16k[:])
	sizeBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(sizeBuf, fileSize)
	body.Write(sizeBuf)
	body.Write([]byte(filename))
	for body.Len()%4 != 0 {
		body.WriteByte(0)
	}

	total := 8 + 8 + 16 + 16 + 16 + body.Len()

	var out bytes.Buffer
	out.WriteString("PAR2\x00PKT")
	lenBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBuf, uint64(total))
	out.Write(lenBuf)
	out.Write(make([]byte, 16)) // packet_hash: not verified by the reader
	out.Write(setID[:])
	out.WriteString(par2FileDescType)
	out.Write(body.Bytes())
	return out.Bytes()
}
