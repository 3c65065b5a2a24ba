package shared

import "errors"

var (
	// Session setup
	ErrAcquisition = errors.New("audio source unavailable")
	ErrSetup       = errors.New("audio pipeline setup failed")

	// Playback
	ErrPlaybackStalled = errors.New("playback device stopped taking audio")

	// Decode time
	ErrFrameTooShort    = errors.New("frame too short")
	ErrHeaderNotFound   = errors.New("header terminator not found")
	ErrMalformedHeader  = errors.New("malformed header")
	ErrInvalidSize      = errors.New("invalid size field")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	ErrCancelled           = errors.New("cancelled")
	ErrUnsupportedMetadata = errors.New("name or type contains a delimiter byte")
	ErrInvalidConfig       = errors.New("invalid protocol config")
)

// IsDecodeFailure reports whether err means the frame structure could not be
// recovered, as opposed to a link or setup problem.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, ErrFrameTooShort) ||
		errors.Is(err, ErrHeaderNotFound) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrInvalidSize)
}
