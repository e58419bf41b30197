package sevenz_test

import (
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/javi11/archivemeta/internal/archiveerr"
	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/bytesource"
	"github.com/javi11/archivemeta/internal/gen"
	"github.com/javi11/archivemeta/internal/sevenz"
)

func TestUint64RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 0x3FFF, 0x4000, 1 << 30, 1 << 50, ^uint64(0)}
	for _, v := range values {
		encoded := sevenz.EncodeUint64(v)
		decoded, err := sevenz.ReadUint64(newByteReader(encoded))
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

func TestSingleFileCopy(t *testing.T) {
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	archive := gen.SevenZCopy("data.bin", data)
	src := bytesource.NewMemory(archive)

	entries, err := sevenz.Parse(src, archivelog.Nop())
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	require.Equal(t, "data.bin", e.Path)
	require.Equal(t, uint64(1024), e.Size)
	require.Equal(t, uint64(1024), e.PackedSize)
	require.Equal(t, "Copy", e.Method)
	require.Equal(t, uint64(32), e.DataOffset)
	require.NotNil(t, e.CRC32)
	require.Equal(t, crc32.ChecksumIEEE(data), *e.CRC32)
}

func TestEncodedHeaderRejected(t *testing.T) {
	archive := gen.SevenZCopy("data.bin", []byte("hello"))
	// Flip the top-level property tag from kHeader (0x01) to
	// kEncodedHeader (0x17) to simulate a compressed-header archive.
	headerStart := len(archive) - headerLen(archive)
	archive[headerStart] = 0x17

	src := bytesource.NewMemory(archive)
	_, err := sevenz.Parse(src, archivelog.Nop())
	require.ErrorIs(t, err, archiveerr.ErrUnsupportedFeature)
}

func headerLen(archive []byte) int {
	// The signature header stores next_header_size at bytes [20:28).
	lo := int(archive[20]) | int(archive[21])<<8 | int(archive[22])<<16 | int(archive[23])<<24
	return lo
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}
