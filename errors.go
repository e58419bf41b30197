package archivemeta

import "github.com/javi11/archivemeta/internal/archiveerr"

// Sentinel errors surfaced by this package. Use errors.Is against
// these; wrapped context (offsets, names) is attached with %w and does
// not change identity.
var (
	ErrInvalidSignature  = archiveerr.ErrInvalidSignature
	ErrTruncatedInput    = archiveerr.ErrTruncatedInput
	ErrMalformedFrame    = archiveerr.ErrMalformedFrame
	ErrUnsupportedFeature = archiveerr.ErrUnsupportedFeature
	ErrPar2Parse         = archiveerr.ErrPar2Parse
	ErrTypeUnknown       = archiveerr.ErrTypeUnknown
	ErrPasswordProtected = archiveerr.ErrPasswordProtected
)
