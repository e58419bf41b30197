package archivemeta_test

import (
	"crypto/md5"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/javi11/archivemeta"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/gen"
)

func deterministicData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestListFilesDispatchesRAR5(t *testing.T) {
	data := deterministicData(1024)
	volumes, err := gen.RAR5Split("archive.part1.rar", data, []int{1024}, nil)
	require.NoError(t, err)

	descriptors := []archivemeta.VolumeDescriptor{
		{Filename: "archive.part1.rar", Size: uint64(len(volumes[0]))},
	}
	src := bytesource.Concat(volumes)

	entries, err := archivemeta.ListFiles(src, descriptors, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Rar)
	require.Equal(t, "archive.part1.rar", entries[0].Path())
}

func TestListFilesDispatchesSevenZip(t *testing.T) {
	archive := gen.SevenZCopy("hello.txt", []byte("hello world"))
	descriptors := []archivemeta.VolumeDescriptor{
		{Filename: "archive.7z", Size: uint64(len(archive))},
	}
	src := bytesource.NewMemory(archive)

	entries, err := archivemeta.ListFiles(src, descriptors, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].SevenZip)
	require.Equal(t, "hello.txt", entries[0].Path())
}

func TestDispatcherStableWithAndWithoutInference(t *testing.T) {
	data := deterministicData(200)
	volumes, err := gen.RAR4Split("bigfile", data, []int{80, 80, 40}, []gen.FileSpec{
		{Name: "small.txt", Data: deterministicData(20)},
	})
	require.NoError(t, err)

	var descriptors []archivemeta.VolumeDescriptor
	for i, v := range volumes {
		descriptors = append(descriptors, archivemeta.VolumeDescriptor{
			Filename: "archive.part" + string(rune('1'+i)) + ".rar",
			Size:     uint64(len(v)),
		})
	}

	withInference, err := archivemeta.ListFiles(bytesource.Concat(volumes), descriptors, nil)
	require.NoError(t, err)

	withoutInference, err := archivemeta.ListFilesRAR(bytesource.Concat(volumes), 0, nil)
	require.NoError(t, err)

	require.Len(t, withInference, 2)
	require.Len(t, withoutInference, 2)
	for i := range withInference {
		require.NotNil(t, withInference[i].Rar)
		require.Equal(t, withoutInference[i], *withInference[i].Rar)
	}
}

// TestPar2NameResolution exercises the dispatcher's own resolveNames
// path (spec.md section 4.6 step 1) end to end through
// archivemeta.ListFiles, rather than re-implementing the hash-matching
// logic inline: volume filenames are obfuscated and only recoverable
// via the accompanying PAR2 FileDesc packets.
func TestPar2NameResolution(t *testing.T) {
	data := deterministicData(120)
	volumes, err := gen.RAR4Split("file.txt", data, []int{80, 40}, nil)
	require.NoError(t, err)
	require.Len(t, volumes, 2)

	hash16k1 := md5.Sum(volumes[0])
	hash16k2 := md5.Sum(volumes[1])

	setID := [16]byte{9}
	par2Bytes := append(
		gen.Par2FileDescPacket(setID, [16]byte{1}, md5.Sum(volumes[0]), hash16k1, uint64(len(volumes[0])), "archive.part1.rar"),
		gen.Par2FileDescPacket(setID, [16]byte{2}, md5.Sum(volumes[1]), hash16k2, uint64(len(volumes[1])), "archive.part2.rar")...,
	)

	descriptors := []archivemeta.VolumeDescriptor{
		{Filename: "obfuscated1.001", Size: uint64(len(volumes[0])), First16KB: volumes[0]},
		{Filename: "obfuscated2.001", Size: uint64(len(volumes[1])), First16KB: volumes[1]},
	}

	entries, err := archivemeta.ListFiles(bytesource.Concat(volumes), descriptors, par2Bytes)
	require.NoError(t, err, "ListFiles should resolve obfuscated names via PAR2 before dispatching")
	require.Len(t, entries, 1)
	require.Equal(t, "file.txt", entries[0].Path())
}
