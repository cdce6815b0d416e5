package pipeline

import "fmt"

// Kind classifies a pipeline failure. Every error returned by Run is a
// *Error carrying exactly one Kind.
type Kind int

const (
	// KindIORead means the byte source failed mid-read.
	KindIORead Kind = iota + 1
	// KindIOWrite means the output sink failed on a write or flush.
	KindIOWrite
	// KindInvalidSampleRate means the sample rate exceeds the image
	// dimensions (or is not a positive integer).
	KindInvalidSampleRate
	// KindEncodeInit means the encoder could not accept the output
	// header.
	KindEncodeInit
	// KindDecodeFormat means the input is malformed or uses an
	// unsupported feature.
	KindDecodeFormat
	// KindUnexpectedEOF means the source ended before the stream was
	// complete.
	KindUnexpectedEOF
)

func (k Kind) String() string {
	switch k {
	case KindIORead:
		return "read error"
	case KindIOWrite:
		return "write error"
	case KindInvalidSampleRate:
		return "invalid sample rate"
	case KindEncodeInit:
		return "encoder init error"
	case KindDecodeFormat:
		return "decode format error"
	case KindUnexpectedEOF:
		return "unexpected end of stream"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single failure outcome of a transcode operation.
type Error struct {
	kind  Kind
	cause error
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind { return e.kind }

// Error returns a string representation of the failure.
func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.cause) }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.cause }

// failf builds a *Error from a formatted cause.
func failf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, cause: fmt.Errorf(format, args...)}
}
