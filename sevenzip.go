package archivemeta

import (
	"github.com/javi11/archivemeta/internal/archivelog"
	"github.com/javi11/archivemeta/internal/sevenz"
)

// ListFiles7z walks a 7z stream's signature header and property tree,
// returning per-file metadata with derived data offsets. Archives with
// compressed headers or non-Copy codecs fail with
// ErrUnsupportedFeature.
func ListFiles7z(src ByteSource) ([]SevenZipFileEntry, error) {
	entries, err := sevenz.Parse(src, archivelog.Nop())
	if err != nil {
		return nil, err
	}
	out := make([]SevenZipFileEntry, len(entries))
	for i, e := range entries {
		out[i] = SevenZipFileEntry(e)
	}
	return out, nil
}
