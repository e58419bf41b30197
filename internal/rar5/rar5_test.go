package rar5_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/gen"
	"github.com/javi11/archivemeta/internal/rar5"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, ^uint64(0)}
	for _, v := range values {
		encoded := rar5.EncodeVarint(v)
		decoded, n, err := rar5.ReadVarintFromSlice(encoded)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
		require.Equal(t, len(encoded), n)
	}
}

func deterministicData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte((i * 7) % 256)
	}
	return data
}

func TestThreePartStoreRoundTrip(t *testing.T) {
	data := deterministicData(1024)
	volumes, err := gen.RAR5Split("archive.part1.rar", data, []int{400, 400, 224}, nil)
	require.NoError(t, err)
	require.Len(t, volumes, 3)

	sizes := make([]uint64, len(volumes))
	var blobs [][]byte
	for i, v := range volumes {
		sizes[i] = uint64(len(v))
		blobs = append(blobs, v)
	}
	src := bytesource.Concat(blobs)

	entries, err := rar5.Parse(src, int64(src.Size()), sizes, archivelog.Nop())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.Len(t, e.SplitParts, 3)

	reconstructed := make([]byte, 0, 1024)
	for _, p := range e.SplitParts {
		reconstructed = append(reconstructed, src.Bytes()[p.DataStartPosition:p.DataStartPosition+p.DataSize]...)
	}
	require.Equal(t, data, reconstructed)
}

func TestMonotonicSplitOffsets(t *testing.T) {
	data := deterministicData(900)
	volumes, err := gen.RAR5Split("f.part1.rar", data, []int{300, 300, 300}, nil)
	require.NoError(t, err)

	sizes := make([]uint64, len(volumes))
	var blobs [][]byte
	for i, v := range volumes {
		sizes[i] = uint64(len(v))
		blobs = append(blobs, v)
	}
	entries, err := rar5.Parse(bytesource.Concat(blobs), int64(totalLen(blobs)), sizes, archivelog.Nop())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	parts := entries[0].SplitParts
	for i := 1; i < len(parts); i++ {
		require.LessOrEqual(t, parts[i-1].DataStartPosition+parts[i-1].DataSize, parts[i].DataStartPosition)
		require.LessOrEqual(t, parts[i-1].VolumeIndex, parts[i].VolumeIndex)
	}
}

func totalLen(blobs [][]byte) int {
	n := 0
	for _, b := range blobs {
		n += len(b)
	}
	return n
}
