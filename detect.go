package archivemeta

import (
	"encoding/binary"

	"github.com/javi11/archivemeta/internal/rar4"
	"github.com/javi11/archivemeta/internal/rar5"
	"github.com/javi11/archivemeta/internal/sevenz"
)

const (
	rar4ArchiveHeaderBlockType = 0x73
	rar4FileHeaderBlockType    = 0x74
	rar4ArchiveHeaderVolFlag   = 0x0100
	rar4FileHeaderSplitBefore  = 0x0001
)

// DetectType classifies up to the first 32 bytes of a volume. RAR5 is
// tested before RAR4 since its signature is the longer one; the two
// share their first six bytes and differ from the seventh on.
func DetectType(head []byte) (ArchiveType, bool) {
	if hasPrefix(head, rar5.Signature) {
		return ArchiveRAR5, true
	}
	if hasPrefix(head, rar4.Signature) {
		return ArchiveRAR4, detectRAR4FirstVolume(head)
	}
	if hasPrefix(head, sevenz.Signature) {
		return ArchiveSevenZip, true
	}
	return ArchiveUnknown, false
}

// detectRAR4FirstVolume inspects the block immediately following the
// 7-byte signature to decide whether this volume starts the archive.
func detectRAR4FirstVolume(head []byte) bool {
	if len(head) < 7+7 {
		return true
	}
	block := head[7:14]
	blockType := block[2]
	flags := binary.LittleEndian.Uint16(block[3:5])

	switch blockType {
	case rar4ArchiveHeaderBlockType:
		return flags&rar4ArchiveHeaderVolFlag != 0
	case rar4FileHeaderBlockType:
		return flags&rar4FileHeaderSplitBefore == 0
	default:
		return true
	}
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
