package par2_test

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/javi11/archivemeta/internal/gen"
	"github.com/javi11/archivemeta/internal/par2"
)

func TestResolveTwoVolumes(t *testing.T) {
	part1 := make([]byte, 88)
	part2 := make([]byte, 44)
	for i := range part1 {
		part1[i] = byte(i)
	}
	for i := range part2 {
		part2[i] = byte(200 + i)
	}

	setID := [16]byte{1, 2, 3}
	fileID1 := [16]byte{0xAA}
	fileID2 := [16]byte{0xBB}
	hash16k1 := md5.Sum(part1)
	hash16k2 := md5.Sum(part2)
	fileHash1 := md5.Sum(part1)
	fileHash2 := md5.Sum(part2)

	var stream []byte
	stream = append(stream, gen.Par2FileDescPacket(setID, fileID1, fileHash1, hash16k1, uint64(len(part1)), "testfile.part1.rar")...)
	stream = append(stream, gen.Par2FileDescPacket(setID, fileID2, fileHash2, hash16k2, uint64(len(part2)), "testfile.part2.rar")...)

	info, err := par2.Parse(stream)
	require.NoError(t, err)
	require.Equal(t, setID, [16]byte(info.RecoverySetID))
	require.Len(t, info.Files, 2)
	require.Equal(t, "testfile.part1.rar", info.Files[0].Filename)
	require.Equal(t, "testfile.part2.rar", info.Files[1].Filename)
	require.Equal(t, hash16k1, [16]byte(info.Files[0].Hash16k))
}
