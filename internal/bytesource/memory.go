package bytesource

import (
	"bytes"
	"io"
)

// Memory is an in-process Source backed by a byte slice. It exists for
// tests and for the archive generator collaborator (spec.md's round-trip
// property), not as a designed production collaborator — the file-backed,
// buffered forward-only, and HTTP byte-range sources spec.md calls out are
// external collaborators whose interfaces are intentionally left to the
// caller.
type Memory struct {
	data []byte
	pos  int64
}

// NewMemory wraps data for random-access reads.
func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

func (m *Memory) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *Memory) Seek(pos int64) error {
	if pos < 0 {
		return ErrBackwardSeek
	}
	m.pos = pos
	return nil
}

func (m *Memory) Position() int64 { return m.pos }
func (m *Memory) Size() int64     { return int64(len(m.data)) }
func (m *Memory) Close() error    { return nil }

// Bytes returns the underlying data, unchanged by the cursor.
func (m *Memory) Bytes() []byte { return m.data }

// Concat joins several byte slices (one per volume) into a single
// contiguous Source, the shape every parser in this module expects: the
// caller-supplied "concatenation of ordered volumes" stream from spec.md
// section 4.6.
func Concat(volumes [][]byte) *Memory {
	var buf bytes.Buffer
	for _, v := range volumes {
		buf.Write(v)
	}
	return NewMemory(buf.Bytes())
}
