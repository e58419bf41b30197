package rar4_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/gen"
	"github.com/javi11/archivemeta/internal/rar4"
)

func deterministicData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestSingleVolumeStoredFile(t *testing.T) {
	t.Logf("run %s", gen.CorrelationID())
	data := deterministicData(64)
	volumes, err := gen.RAR4Split("file.txt", data, []int{64}, nil)
	require.NoError(t, err)
	require.Len(t, volumes, 1)

	src := bytesource.NewMemory(volumes[0])
	entries, err := rar4.Parse(src, int64(len(volumes[0])), []uint64{uint64(len(volumes[0]))}, archivelog.Nop())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.Equal(t, "file.txt", e.Path)
	require.Equal(t, uint64(64), e.UncompressedSize)
	require.Equal(t, uint64(64), e.CompressedSize)
	require.Empty(t, e.SplitParts)
	require.Equal(t, int32(0), e.CompressionMethod)
	require.NotNil(t, e.CRC32, "file CRC32 must be surfaced even though it is never verified")
}

func TestSplitAcrossThreeVolumesWithInference(t *testing.T) {
	data := deterministicData(200)
	volumes, err := gen.RAR4Split("bigfile", data, []int{80, 80, 40}, []gen.FileSpec{
		{Name: "small.txt", Data: deterministicData(20)},
	})
	require.NoError(t, err)
	require.Len(t, volumes, 3)

	sizes := make([]uint64, len(volumes))
	var blobs [][]byte
	for i, v := range volumes {
		sizes[i] = uint64(len(v))
		blobs = append(blobs, v)
	}
	src := bytesource.Concat(blobs)

	entries, err := rar4.Parse(src, int64(src.Size()), sizes, archivelog.Nop())
	require.NoError(t, err)
	require.Len(t, entries, 2, "expect both the split file and the trailing file in the last volume")

	var big, small *rar4.FileEntry
	for i := range entries {
		switch entries[i].Path {
		case "bigfile":
			big = &entries[i]
		case "small.txt":
			small = &entries[i]
		}
	}
	require.NotNil(t, big)
	require.NotNil(t, small)

	require.Len(t, big.SplitParts, 3)
	require.Equal(t, uint64(200), big.UncompressedSize)

	var total uint64
	for i, p := range big.SplitParts {
		total += p.DataSize
		if i > 0 {
			prev := big.SplitParts[i-1]
			require.LessOrEqual(t, prev.DataStartPosition+prev.DataSize, p.DataStartPosition)
			require.LessOrEqual(t, prev.VolumeIndex, p.VolumeIndex)
		}
	}
	require.Equal(t, uint64(200), total)
}

func TestInferenceMatchesExhaustiveParse(t *testing.T) {
	data := deterministicData(6271 - 20)
	volumes, err := gen.RAR4Split("bigfile", data, splitSizes(len(data), 3), []gen.FileSpec{
		{Name: "small.txt", Data: deterministicData(20)},
	})
	require.NoError(t, err)

	sizes := make([]uint64, len(volumes))
	var blobs [][]byte
	for i, v := range volumes {
		sizes[i] = uint64(len(v))
		blobs = append(blobs, v)
	}

	withInference, err := rar4.Parse(bytesource.Concat(blobs), int64(totalLen(blobs)), sizes, archivelog.Nop())
	require.NoError(t, err)

	withoutInference, err := rar4.Parse(bytesource.Concat(blobs), int64(totalLen(blobs)), nil, archivelog.Nop())
	require.NoError(t, err)

	require.Len(t, withInference, 2)
	require.Len(t, withoutInference, 2)
	require.Equal(t, withoutInference, withInference)
}

func splitSizes(total, volumes int) []int {
	base := total / volumes
	out := make([]int, volumes)
	sum := 0
	for i := 0; i < volumes-1; i++ {
		out[i] = base
		sum += base
	}
	out[volumes-1] = total - sum
	return out
}

func totalLen(blobs [][]byte) int {
	n := 0
	for _, b := range blobs {
		n += len(b)
	}
	return n
}
