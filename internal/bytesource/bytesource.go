// Package bytesource implements the seekable byte-source abstraction
// described in spec.md section 3 and 9: a bidirectional random-access
// reader carrying a logical position in [0, size]. It is the uniform
// interface every parser reads the concatenated volume stream through.
package bytesource

import (
	"errors"
	"fmt"
	"io"
)

// Source is a capability set {read, seek, position, size, close}. Reads are
// sequential from the post-seek position; end of stream is signaled by a
// zero/negative read. Size may be unknown (-1).
type Source interface {
	io.Reader
	io.Closer

	// Seek sets the logical position. Implementations that cannot seek
	// backward (buffered, forward-only sources) return a typed error for
	// backward seeks instead of panicking.
	Seek(pos int64) error

	// Position returns the current logical position.
	Position() int64

	// Size returns the total byte length, or -1 if unknown.
	Size() int64
}

// ErrBackwardSeek is returned by forward-only sources when asked to move
// the cursor backward.
var ErrBackwardSeek = errors.New("bytesource: backward seek not supported")

// ReadAt reads len(buf) bytes starting at off, restoring the source's prior
// position afterward when the read is done. It is a convenience for
// callers that need a handful of non-sequential reads without
// hand-rolling seek/restore bookkeeping; the parsers in this module do
// their own seeking and do not call it.
func ReadAt(src Source, buf []byte, off int64) (int, error) {
	prev := src.Position()
	if err := src.Seek(off); err != nil {
		return 0, fmt.Errorf("seek to %d: %w", off, err)
	}
	n, err := io.ReadFull(src, buf)
	if seekErr := src.Seek(prev); seekErr != nil && err == nil {
		err = seekErr
	}
	return n, err
}
