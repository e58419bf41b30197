// Package archiveerr defines the sentinel error kinds surfaced by every
// parser in this module. None of them are swallowed internally: a parser
// that cannot make progress wraps one of these and returns immediately.
package archiveerr

import "errors"

// Sentinel kinds, matched with errors.Is by callers.
var (
	// ErrInvalidSignature means the magic bytes at the expected offset did
	// not match any known format.
	ErrInvalidSignature = errors.New("archivemeta: invalid signature")

	// ErrTruncatedInput means the stream ended while a frame was expected.
	ErrTruncatedInput = errors.New("archivemeta: truncated input")

	// ErrMalformedFrame means a declared size was negative, inconsistent,
	// or overflowed its container.
	ErrMalformedFrame = errors.New("archivemeta: malformed frame")

	// ErrUnsupportedFeature means the archive uses a feature this module
	// deliberately does not implement (encoded 7z headers, non-Copy
	// codecs, multi-coder or complex coders, external folder data).
	// Encryption is reported as ErrPasswordProtected instead.
	ErrUnsupportedFeature = errors.New("archivemeta: unsupported feature")

	// ErrPar2Parse means a PAR2 packet was missing or corrupt.
	ErrPar2Parse = errors.New("archivemeta: par2 parse error")

	// ErrTypeUnknown means the dispatcher could not classify an archive
	// by filename extension or magic bytes.
	ErrTypeUnknown = errors.New("archivemeta: unknown archive type")

	// ErrPasswordProtected means a file header reported encryption for
	// content this module does not decrypt.
	ErrPasswordProtected = errors.New("archivemeta: password protected")
)
