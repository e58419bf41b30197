// Package par2 implements the packet-stream scan described in spec.md
// section 4.5: PAR2 recovery data is scanned only for FileDesc packets,
// used to recover obfuscated archive volume filenames by matching the
// MD5 of a volume's first 16KB. Recovery and verification data itself
// is never read.
package par2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/javi11/archivemeta/internal/archiveerr"
)

const (
	hashSize              = 16
	packetHeaderFixedSize = 8 + 8 + 16 + 16 + 16 // magic + length + packet_hash + set_id + type
)

var packetMagic = []byte("PAR2\x00PKT")

var fileDescType = []byte("PAR 2.0\x00FileDesc")

// Hash is an MD5 digest, used for packet set IDs and file identities.
type Hash [hashSize]byte

// FileDescription is one FileDesc packet: a file's identity and its
// original filename.
type FileDescription struct {
	FileID   Hash
	FileHash Hash
	Hash16k  Hash
	FileSize uint64
	Filename string
}

// Info is the parsed identity of one PAR2 recovery set: the recovery
// set ID first observed and every FileDesc packet found.
type Info struct {
	RecoverySetID Hash
	Files         []FileDescription
}

// Parse scans data for PAR2 packets and extracts FileDesc bodies.
// Up to 3 padding bytes between packets are tolerated, matching the
// alignment slack real PAR2 writers leave.
func Parse(data []byte) (Info, error) {
	var info Info
	haveSetID := false

	pos := 0
	for pos < len(data) {
		magicAt := bytes.Index(data[pos:], packetMagic)
		if magicAt < 0 {
			break
		}
		if magicAt > 3 {
			// More than the tolerated 3 bytes of padding before a
			// packet means this isn't padding at all; stop scanning.
			return info, fmt.Errorf("%w: unexpected gap of %d bytes before packet magic", archiveerr.ErrPar2Parse, magicAt)
		}
		start := pos + magicAt

		if len(data)-start < packetHeaderFixedSize {
			return info, fmt.Errorf("%w: truncated packet header at offset %d", archiveerr.ErrPar2Parse, start)
		}

		length := binary.LittleEndian.Uint64(data[start+8 : start+16])
		if length < uint64(packetHeaderFixedSize) {
			return info, fmt.Errorf("%w: packet length %d smaller than header", archiveerr.ErrPar2Parse, length)
		}
		if uint64(len(data)-start) < length {
			return info, fmt.Errorf("%w: packet at offset %d claims %d bytes past end of input", archiveerr.ErrPar2Parse, start, length)
		}

		var setID Hash
		copy(setID[:], data[start+32:start+48])
		packetType := data[start+48 : start+64]
		body := data[start+packetHeaderFixedSize : start+int(length)]

		if !haveSetID {
			info.RecoverySetID = setID
			haveSetID = true
		}

		if bytes.Equal(packetType, fileDescType) {
			fd, err := parseFileDesc(body)
			if err != nil {
				return info, err
			}
			info.Files = append(info.Files, fd)
		}

		pos = start + int(length)
	}

	return info, nil
}

func parseFileDesc(body []byte) (FileDescription, error) {
	const fixed = hashSize*3 + 8
	if len(body) < fixed {
		return FileDescription{}, fmt.Errorf("%w: FileDesc body too short (%d bytes)", archiveerr.ErrPar2Parse, len(body))
	}

	var fd FileDescription
	copy(fd.FileID[:], body[0:16])
	copy(fd.FileHash[:], body[16:32])
	copy(fd.Hash16k[:], body[32:48])
	fd.FileSize = binary.LittleEndian.Uint64(body[48:56])

	nameBytes := body[56:]
	if nul := bytes.IndexByte(nameBytes, 0); nul >= 0 {
		nameBytes = nameBytes[:nul]
	}
	fd.Filename = string(nameBytes)

	return fd, nil
}
